package consumer

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/reserve/internal/observability"
)

// PersistenceHandler indexes consumed notifications in Postgres.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// Handle stores the event payload in reserve_event_log. Redelivered records
// hit the (topic, partition, offset) key, and republished outbox events hit
// the event_id index; both are ignored.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	var eventID *int64
	if msg.EventID > 0 {
		eventID = &msg.EventID
	}
	_, err := h.pool.Exec(ctx,
		`INSERT INTO reserve_event_log (topic, partition, record_offset, event_id, event_type, schema_id, schema_subject, event_key, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
         ON CONFLICT DO NOTHING`,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		eventID,
		msg.EventType,
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Key,
		msg.Payload,
		msg.Timestamp,
	)
	if err != nil {
		return err
	}
	observability.RecordEventIndexed(msg.Timestamp)
	return nil
}
