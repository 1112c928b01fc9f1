// Package domain implements the reserve's capital ledger: participants,
// funded activities and the proportional profit/loss distribution engine.
package domain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/reserve/internal/observability"
)

const tracerName = "example.com/reserve/internal/domain"

// Service is the only entry point to a Reserve. Mutating calls are serialized
// and either apply fully or leave no trace.
type Service struct {
	mu        sync.RWMutex
	reserve   *Reserve
	store     Store
	treasury  Treasury
	guard     Guard
	validator ComplianceValidator
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures optional collaborators of a Service.
type Option func(*Service)

// WithStore sets the durable store. Without one changes live in memory only.
func WithStore(store Store) Option {
	return func(s *Service) { s.store = store }
}

// WithTreasury sets the payout collaborator.
func WithTreasury(treasury Treasury) Option {
	return func(s *Service) { s.treasury = treasury }
}

// WithGuard sets the pause guard consulted before every participant and
// activity operation.
func WithGuard(guard Guard) Option {
	return func(s *Service) { s.guard = guard }
}

// WithComplianceValidator sets the advisory compliance source.
func WithComplianceValidator(v ComplianceValidator) Option {
	return func(s *Service) { s.validator = v }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wraps reserve. A nil reserve starts an empty, uninitialized one.
func NewService(reserve *Reserve, opts ...Option) *Service {
	if reserve == nil {
		reserve = NewReserve()
	}
	s := &Service{
		reserve:  reserve,
		store:    nopStore{},
		treasury: nopTreasury{},
		guard:    AllowAll,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.publishGauges()
	return s
}

type settlementKey struct{}

func (s *Service) settling(ctx context.Context) bool {
	owner, _ := ctx.Value(settlementKey{}).(*Service)
	return owner == s
}

// execute stages fn, settles its payouts through the store and treasury and
// only then commits it to the in-memory ledger.
func (s *Service) execute(ctx context.Context, op, target, caller string, fn func(context.Context, *txn) error) (*txn, error) {
	if s.settling(ctx) {
		return nil, ErrReentrantCall.withDetail("%s called from inside a settlement", op)
	}
	ctx, span := s.tracer.Start(ctx, "reserve."+op, trace.WithAttributes(
		attribute.String("reserve.op", op),
		attribute.String("reserve.caller", caller),
	))
	defer span.End()

	tx, err := s.run(ctx, op, target, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(CodeOf(err)))
		observability.RecordOperation(op, string(CodeOf(err)))
		s.logger.DebugContext(ctx, "reserve operation rejected", "op", op, "caller", caller, "code", CodeOf(err), "err", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("reserve.events", len(tx.events)), attribute.Int("reserve.payouts", len(tx.payouts)))
	observability.RecordOperation(op, "ok")
	return tx, nil
}

func (s *Service) run(ctx context.Context, op, target string, fn func(context.Context, *txn) error) (*txn, error) {
	if target != "" && !s.guard.CanExecute(target) {
		return nil, ErrSystemPaused.withDetail("%s is paused", target)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTxn(s.reserve, s.now())
	if err := fn(ctx, tx); err != nil {
		return nil, err
	}

	settle := func(ctx context.Context) error {
		if len(tx.payouts) == 0 {
			return nil
		}
		ctx = context.WithValue(ctx, settlementKey{}, s)
		if err := s.treasury.Disburse(ctx, tx.payouts); err != nil {
			return ErrTransferFailed.wrap(err)
		}
		return nil
	}
	if err := s.store.Apply(ctx, tx.changeset(op), settle); err != nil {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, ErrPersistenceFailed.wrap(err)
	}

	tx.commit()
	s.publishGauges()
	return tx, nil
}

func (s *Service) publishGauges() {
	st := s.reserve.stats()
	observability.SetLedgerGauges(st.TotalCapital, st.DeployedCapital, st.RetainedSurplus, st.ParticipantCount)
}

// Initialize bootstraps the reserve with caller as admin.
func (s *Service) Initialize(ctx context.Context, caller string, minContribution uint64, maxParticipants int) error {
	_, err := s.execute(ctx, "initialize", "", caller, func(_ context.Context, tx *txn) error {
		return tx.initialize(caller, minContribution, maxParticipants)
	})
	if err == nil {
		s.logger.InfoContext(ctx, "reserve initialized", "admin", caller, "min_contribution", minContribution, "max_participants", maxParticipants)
	}
	return err
}

// SetMinimumCapitalContribution changes the join minimum. Only the admin may
// call it, and only before the first participant joins.
func (s *Service) SetMinimumCapitalContribution(ctx context.Context, caller string, value uint64) error {
	_, err := s.execute(ctx, "set_minimum_contribution", "", caller, func(_ context.Context, tx *txn) error {
		return tx.setMinimumContribution(caller, value)
	})
	if err == nil {
		s.logger.InfoContext(ctx, "minimum contribution set", "value", value)
	}
	return err
}

// TransferAdmin hands the admin role to next.
func (s *Service) TransferAdmin(ctx context.Context, caller, next string) error {
	_, err := s.execute(ctx, "transfer_admin", "", caller, func(_ context.Context, tx *txn) error {
		return tx.transferAdmin(caller, next)
	})
	if err == nil {
		s.logger.InfoContext(ctx, "admin transferred", "previous", caller, "admin", next)
	}
	return err
}

// Join registers identity with an initial contribution of amount.
func (s *Service) Join(ctx context.Context, identity string, amount uint64) (Participant, error) {
	var out Participant
	_, err := s.execute(ctx, "join", TargetJoin, identity, func(_ context.Context, tx *txn) error {
		p, err := tx.join(identity, amount)
		if err == nil {
			out = *p
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "participant joined", "identity", identity, "amount", amount)
	}
	return out, err
}

// Deposit adds capital to the caller's own record.
func (s *Service) Deposit(ctx context.Context, identity string, amount uint64) (Participant, error) {
	var out Participant
	_, err := s.execute(ctx, "deposit", TargetDeposit, identity, func(_ context.Context, tx *txn) error {
		p, err := tx.deposit(identity, amount)
		if err == nil {
			out = *p
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "capital deposited", "identity", identity, "amount", amount)
	}
	return out, err
}

// Withdraw pays amount of the caller's contributed capital back out.
func (s *Service) Withdraw(ctx context.Context, identity string, amount uint64) (Participant, error) {
	var out Participant
	_, err := s.execute(ctx, "withdraw", TargetWithdraw, identity, func(_ context.Context, tx *txn) error {
		p, err := tx.withdraw(identity, amount)
		if err == nil {
			out = *p
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "capital withdrawn", "identity", identity, "amount", amount)
	}
	return out, err
}

// Exit pays out contributed capital plus claimable profit and retires the
// record. It returns the amount paid.
func (s *Service) Exit(ctx context.Context, identity string) (uint64, error) {
	var paid uint64
	_, err := s.execute(ctx, "exit", TargetExit, identity, func(_ context.Context, tx *txn) error {
		_, total, err := tx.exit(identity)
		paid = total
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "participant exited", "identity", identity, "paid", paid)
	}
	return paid, err
}

// Propose records a new activity initiated by caller.
func (s *Service) Propose(ctx context.Context, caller, activityID string, capitalRequired uint64) (Activity, error) {
	var out Activity
	_, err := s.execute(ctx, "propose", TargetPropose, caller, func(_ context.Context, tx *txn) error {
		a, err := tx.propose(caller, activityID, capitalRequired)
		if err == nil {
			out = *a
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "activity proposed", "activity_id", activityID, "initiator", caller, "capital_required", capitalRequired)
	}
	return out, err
}

// Approve locks the activity's capital.
func (s *Service) Approve(ctx context.Context, caller, activityID string) (Activity, error) {
	var out Activity
	_, err := s.execute(ctx, "approve", TargetApprove, caller, func(_ context.Context, tx *txn) error {
		a, err := tx.approve(caller, activityID)
		if err == nil {
			out = *a
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "activity approved", "activity_id", activityID, "capital_deployed", out.CapitalDeployed)
	}
	return out, err
}

// Reject closes a proposal without moving capital.
func (s *Service) Reject(ctx context.Context, caller, activityID string) (Activity, error) {
	var out Activity
	_, err := s.execute(ctx, "reject", TargetReject, caller, func(_ context.Context, tx *txn) error {
		a, err := tx.reject(caller, activityID)
		if err == nil {
			out = *a
		}
		return err
	})
	if err == nil {
		s.logger.InfoContext(ctx, "activity rejected", "activity_id", activityID)
	}
	return out, err
}

// Complete closes an approved activity with outcome and distributes it.
func (s *Service) Complete(ctx context.Context, caller, activityID string, outcome int64) (Activity, Distribution, error) {
	var (
		out  Activity
		dist Distribution
	)
	// The verdict is fetched before the write lock so a validator may read the
	// reserve. complete re-checks status and initiator under the lock.
	validated := true
	if s.validator != nil && !s.settling(ctx) {
		if a, err := s.GetActivity(ctx, activityID); err == nil && a.Status == StatusApproved && a.Initiator == caller {
			validated = s.verdict(ctx, a)
		}
	}
	_, err := s.execute(ctx, "complete", TargetComplete, caller, func(_ context.Context, tx *txn) error {
		completed, d, err := tx.complete(caller, activityID, outcome, validated)
		if err == nil {
			out = *completed
			dist = d
		}
		return err
	})
	if err != nil {
		return Activity{}, Distribution{}, err
	}
	if dist.Kind != DistributionNone {
		observability.RecordDistribution(string(dist.Kind), dist.Allocated, dist.Remainder)
	}
	s.logger.InfoContext(ctx, "activity completed",
		"activity_id", activityID,
		"outcome", outcome,
		"distribution", dist.Kind,
		"allocated", dist.Allocated,
		"remainder", dist.Remainder,
		"shares", len(dist.Shares),
	)
	return out, dist, nil
}

func (s *Service) verdict(ctx context.Context, a Activity) bool {
	ok, err := s.validator.Verdict(ctx, a)
	if err != nil {
		s.logger.WarnContext(ctx, "compliance verdict unavailable", "activity_id", a.ID, "err", err)
		return false
	}
	return ok
}

// GetParticipant returns the participant record, active or not.
func (s *Service) GetParticipant(ctx context.Context, identity string) (Participant, error) {
	if s.settling(ctx) {
		return Participant{}, ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.reserve.participants[identity]
	if !ok {
		return Participant{}, ErrParticipantNotFound
	}
	return *p, nil
}

// GetWithdrawableBalance is what Exit would currently pay the participant.
func (s *Service) GetWithdrawableBalance(ctx context.Context, identity string) (uint64, error) {
	if s.settling(ctx) {
		return 0, ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.reserve.participants[identity]
	if !ok {
		return 0, ErrParticipantNotFound
	}
	return withdrawable(p)
}

// GetActivity returns one activity.
func (s *Service) GetActivity(ctx context.Context, activityID string) (Activity, error) {
	if s.settling(ctx) {
		return Activity{}, ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.reserve.activities[activityID]
	if !ok {
		return Activity{}, ErrActivityNotFound
	}
	return *a, nil
}

// GetReserveStats reports the aggregate figures of the reserve.
func (s *Service) GetReserveStats(ctx context.Context) (ReserveStats, error) {
	if s.settling(ctx) {
		return ReserveStats{}, ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserve.stats(), nil
}

// ListParticipants returns participants in join order. Exited records are
// included unless activeOnly is set.
func (s *Service) ListParticipants(ctx context.Context, activeOnly bool) ([]Participant, error) {
	if s.settling(ctx) {
		return nil, ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if activeOnly {
		out := make([]Participant, 0, len(s.reserve.active))
		for _, id := range s.reserve.active {
			out = append(out, *s.reserve.participants[id])
		}
		return out, nil
	}
	return s.reserve.Snapshot().Participants, nil
}

// Cursor marks a position in the activity listing.
type Cursor struct {
	Seq uint64
	ID  string
}

// ListActivities pages through activities in creation order.
func (s *Service) ListActivities(ctx context.Context, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	if s.settling(ctx) {
		return nil, nil, ErrReentrantCall
	}
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Activity, 0, limit)
	for _, id := range s.reserve.activityOrder {
		a := s.reserve.activities[id]
		if cursor != nil && a.Seq <= cursor.Seq {
			continue
		}
		out = append(out, *a)
		if len(out) == limit {
			break
		}
	}

	var next *Cursor
	if len(out) == limit {
		last := out[len(out)-1]
		if last.Seq+1 < s.reserve.nextActivitySeq {
			next = &Cursor{Seq: last.Seq, ID: last.ID}
		}
	}
	return out, next, nil
}

// Audit checks the ledger's accounting identity.
func (s *Service) Audit(ctx context.Context) error {
	if s.settling(ctx) {
		return ErrReentrantCall
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserve.Audit()
}
