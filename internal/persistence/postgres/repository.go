package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/reserve/internal/domain"
	"example.com/reserve/internal/observability"
	"example.com/reserve/pkg/events"
)

// Repository provides Postgres-backed persistence for the ledger and its outbox.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Load reads the whole ledger. An empty database yields an empty snapshot.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.Snapshot{}, err
	}
	defer tx.Rollback(ctx)

	var snap domain.Snapshot
	if snap.State, err = loadState(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("load reserve state: %w", err)
	}
	if snap.Participants, err = loadParticipants(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("load participants: %w", err)
	}
	if snap.Activities, err = loadActivities(ctx, tx); err != nil {
		return domain.Snapshot{}, fmt.Errorf("load activities: %w", err)
	}
	return snap, tx.Commit(ctx)
}

// Apply writes the changeset, its payouts and its notifications in one
// transaction. settle runs last, before commit; if it fails the transaction is
// rolled back and settle's error is returned unchanged.
func (r *Repository) Apply(ctx context.Context, cs domain.Changeset, settle func(context.Context) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = upsertState(ctx, tx, cs.State); err != nil {
		return fmt.Errorf("store reserve state: %w", err)
	}
	for _, p := range cs.Participants {
		if err = upsertParticipant(ctx, tx, p); err != nil {
			return fmt.Errorf("store participant %s: %w", p.Identity, err)
		}
	}
	for _, a := range cs.Activities {
		if err = upsertActivity(ctx, tx, a); err != nil {
			return fmt.Errorf("store activity %s: %w", a.ID, err)
		}
	}
	for _, p := range cs.Payouts {
		if err = insertPayout(ctx, tx, cs.Op, p); err != nil {
			return fmt.Errorf("store payout: %w", err)
		}
	}
	for _, e := range cs.Events {
		if err = insertOutbox(ctx, tx, e); err != nil {
			return fmt.Errorf("store event %s: %w", e.Type, err)
		}
	}

	if err = settle(ctx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordChangesetPersisted(time.Now())
	return nil
}

func upsertState(ctx context.Context, tx pgx.Tx, s domain.ReserveState) error {
	const stmt = `INSERT INTO reserve_state (id, admin, initialized, config_locked, min_capital_contribution, max_participants,
            total_capital, retained_surplus, uncollected_loss, next_join_seq, next_activity_seq, updated_at)
        VALUES (1, $1, $2, $3, $4::text::numeric, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10::text::numeric, NOW())
        ON CONFLICT (id) DO UPDATE SET
            admin = EXCLUDED.admin,
            initialized = EXCLUDED.initialized,
            config_locked = EXCLUDED.config_locked,
            min_capital_contribution = EXCLUDED.min_capital_contribution,
            max_participants = EXCLUDED.max_participants,
            total_capital = EXCLUDED.total_capital,
            retained_surplus = EXCLUDED.retained_surplus,
            uncollected_loss = EXCLUDED.uncollected_loss,
            next_join_seq = EXCLUDED.next_join_seq,
            next_activity_seq = EXCLUDED.next_activity_seq,
            updated_at = NOW()`

	_, err := tx.Exec(ctx, stmt,
		s.Admin,
		s.Initialized,
		s.ConfigLocked,
		amount(s.MinCapitalContribution),
		s.MaxParticipants,
		amount(s.TotalCapital),
		amount(s.RetainedSurplus),
		amount(s.UncollectedLoss),
		amount(s.NextJoinSeq),
		amount(s.NextActivitySeq),
	)
	return err
}

func upsertParticipant(ctx context.Context, tx pgx.Tx, p domain.Participant) error {
	const stmt = `INSERT INTO participants (identity, capital_contributed, profit_share_accumulated, profit_share_withdrawn,
            loss_share_accumulated, is_active, joined_at, exited_at, join_seq, updated_at)
        VALUES ($1, $2::text::numeric, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, $7, $8, $9::text::numeric, NOW())
        ON CONFLICT (identity) DO UPDATE SET
            capital_contributed = EXCLUDED.capital_contributed,
            profit_share_accumulated = EXCLUDED.profit_share_accumulated,
            profit_share_withdrawn = EXCLUDED.profit_share_withdrawn,
            loss_share_accumulated = EXCLUDED.loss_share_accumulated,
            is_active = EXCLUDED.is_active,
            joined_at = EXCLUDED.joined_at,
            exited_at = EXCLUDED.exited_at,
            join_seq = EXCLUDED.join_seq,
            updated_at = NOW()`

	_, err := tx.Exec(ctx, stmt,
		p.Identity,
		amount(p.CapitalContributed),
		amount(p.ProfitShareAccumulated),
		amount(p.ProfitShareWithdrawn),
		amount(p.LossShareAccumulated),
		p.IsActive,
		p.JoinedAt,
		nullIfZero(p.ExitedAt),
		amount(p.JoinSeq),
	)
	return err
}

func upsertActivity(ctx context.Context, tx pgx.Tx, a domain.Activity) error {
	const stmt = `INSERT INTO activities (activity_id, initiator, capital_required, capital_deployed, status, created_at,
            completed_at, outcome, is_validated, seq, updated_at)
        VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5, $6, $7, $8, $9, $10::text::numeric, NOW())
        ON CONFLICT (activity_id) DO UPDATE SET
            capital_deployed = EXCLUDED.capital_deployed,
            status = EXCLUDED.status,
            completed_at = EXCLUDED.completed_at,
            outcome = EXCLUDED.outcome,
            is_validated = EXCLUDED.is_validated,
            updated_at = NOW()`

	_, err := tx.Exec(ctx, stmt,
		a.ID,
		a.Initiator,
		amount(a.CapitalRequired),
		amount(a.CapitalDeployed),
		string(a.Status),
		a.CreatedAt,
		nullIfZero(a.CompletedAt),
		a.Outcome,
		a.IsValidated,
		amount(a.Seq),
	)
	return err
}

func insertPayout(ctx context.Context, tx pgx.Tx, op string, p domain.Payout) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO payouts (identity, amount, kind, reference, op) VALUES ($1, $2::text::numeric, $3, $4, $5)`,
		p.Identity, amount(p.Amount), string(p.Kind), nullIfEmpty(p.Reference), op,
	)
	return err
}

func insertOutbox(ctx context.Context, tx pgx.Tx, e domain.Event) error {
	body, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}

	route, ok := events.RouteFor(e.Type)
	if !ok {
		return fmt.Errorf("unknown event type: %s", e.Type)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		e.AggregateType,
		e.AggregateID,
		e.Type,
		route.Topic,
		route.SchemaSubject,
		partitionKey(e),
		body,
		e.ID,
	)
	return err
}

// partitionKey keeps every notification of one aggregate on one partition.
func partitionKey(e domain.Event) string {
	return e.AggregateType + ":" + e.AggregateID
}

func loadState(ctx context.Context, tx pgx.Tx) (domain.ReserveState, error) {
	const query = `SELECT admin, initialized, config_locked, min_capital_contribution::text, max_participants,
            total_capital::text, retained_surplus::text, uncollected_loss::text, next_join_seq::text, next_activity_seq::text
        FROM reserve_state WHERE id = 1`

	var s domain.ReserveState
	var minContribution, total, retained, uncollected, nextJoin, nextActivity string
	err := tx.QueryRow(ctx, query).Scan(&s.Admin, &s.Initialized, &s.ConfigLocked, &minContribution, &s.MaxParticipants,
		&total, &retained, &uncollected, &nextJoin, &nextActivity)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ReserveState{}, nil
	}
	if err != nil {
		return domain.ReserveState{}, err
	}

	var p amountParser
	s.MinCapitalContribution = p.parse(minContribution)
	s.TotalCapital = p.parse(total)
	s.RetainedSurplus = p.parse(retained)
	s.UncollectedLoss = p.parse(uncollected)
	s.NextJoinSeq = p.parse(nextJoin)
	s.NextActivitySeq = p.parse(nextActivity)
	return s, p.err
}

func loadParticipants(ctx context.Context, tx pgx.Tx) ([]domain.Participant, error) {
	const query = `SELECT identity, capital_contributed::text, profit_share_accumulated::text, profit_share_withdrawn::text,
            loss_share_accumulated::text, is_active, joined_at, exited_at, join_seq::text
        FROM participants ORDER BY join_seq`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var (
			p                                                  domain.Participant
			contributed, accumulated, withdrawn, loss, joinSeq string
			exitedAt                                           *time.Time
		)
		if err := rows.Scan(&p.Identity, &contributed, &accumulated, &withdrawn, &loss, &p.IsActive, &p.JoinedAt, &exitedAt, &joinSeq); err != nil {
			return nil, err
		}
		var parser amountParser
		p.CapitalContributed = parser.parse(contributed)
		p.ProfitShareAccumulated = parser.parse(accumulated)
		p.ProfitShareWithdrawn = parser.parse(withdrawn)
		p.LossShareAccumulated = parser.parse(loss)
		p.JoinSeq = parser.parse(joinSeq)
		if parser.err != nil {
			return nil, fmt.Errorf("participant %s: %w", p.Identity, parser.err)
		}
		if exitedAt != nil {
			p.ExitedAt = exitedAt.UTC()
		}
		p.JoinedAt = p.JoinedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadActivities(ctx context.Context, tx pgx.Tx) ([]domain.Activity, error) {
	const query = `SELECT activity_id, initiator, capital_required::text, capital_deployed::text, status, created_at,
            completed_at, outcome, is_validated, seq::text
        FROM activities ORDER BY seq`

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a                       domain.Activity
			required, deployed, seq string
			status                  string
			completedAt             *time.Time
		)
		if err := rows.Scan(&a.ID, &a.Initiator, &required, &deployed, &status, &a.CreatedAt, &completedAt, &a.Outcome, &a.IsValidated, &seq); err != nil {
			return nil, err
		}
		var parser amountParser
		a.CapitalRequired = parser.parse(required)
		a.CapitalDeployed = parser.parse(deployed)
		a.Seq = parser.parse(seq)
		if parser.err != nil {
			return nil, fmt.Errorf("activity %s: %w", a.ID, parser.err)
		}
		a.Status = domain.ActivityStatus(status)
		a.CreatedAt = a.CreatedAt.UTC()
		if completedAt != nil {
			a.CompletedAt = completedAt.UTC()
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// amount renders a ledger value for a NUMERIC(20,0) parameter.
func amount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// amountParser parses NUMERIC text columns, keeping the first error.
type amountParser struct {
	err error
}

func (p *amountParser) parse(s string) uint64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		p.err = fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
