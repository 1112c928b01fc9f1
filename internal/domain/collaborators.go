package domain

import (
	"context"
	"time"
)

// Aggregate names used on events.
const (
	AggregateReserve     = "reserve"
	AggregateParticipant = "participant"
	AggregateActivity    = "activity"
)

// Event is a notification produced by a committed operation. Payload is one of
// the structs in pkg/events.
type Event struct {
	ID            string
	Type          string
	AggregateType string
	AggregateID   string
	OccurredAt    time.Time
	Payload       any
}

// PayoutKind distinguishes why value leaves the reserve's free balance.
type PayoutKind string

const (
	PayoutWithdrawal  PayoutKind = "withdrawal"
	PayoutExit        PayoutKind = "exit"
	PayoutProfitShare PayoutKind = "profit_share"
)

// Payout is one transfer instruction for the Treasury.
type Payout struct {
	Identity  string
	Amount    uint64
	Kind      PayoutKind
	Reference string
}

// Guard is the pause/circuit-breaker collaborator.
type Guard interface {
	CanExecute(target string) bool
}

// GuardFunc adapts a function to Guard.
type GuardFunc func(target string) bool

func (f GuardFunc) CanExecute(target string) bool { return f(target) }

// AllowAll is a Guard that never pauses anything.
var AllowAll Guard = GuardFunc(func(string) bool { return true })

// Guard targets.
const (
	TargetJoin     = "participant.join"
	TargetDeposit  = "participant.deposit"
	TargetWithdraw = "participant.withdraw"
	TargetExit     = "participant.exit"
	TargetPropose  = "activity.propose"
	TargetApprove  = "activity.approve"
	TargetReject   = "activity.reject"
	TargetComplete = "activity.complete"
)

// ComplianceValidator supplies the advisory compliance verdict recorded on
// completed activities.
type ComplianceValidator interface {
	Verdict(ctx context.Context, activity Activity) (bool, error)
}

// Treasury moves value for payouts. Disburse must apply the whole batch or
// none of it.
type Treasury interface {
	Disburse(ctx context.Context, payouts []Payout) error
}

// Store makes changesets durable. Apply must call settle exactly once before
// the changeset becomes durable and must discard the changeset if settle
// fails, returning settle's error unchanged.
type Store interface {
	Apply(ctx context.Context, cs Changeset, settle func(context.Context) error) error
}

type nopTreasury struct{}

func (nopTreasury) Disburse(context.Context, []Payout) error { return nil }

type nopStore struct{}

func (nopStore) Apply(ctx context.Context, _ Changeset, settle func(context.Context) error) error {
	return settle(ctx)
}
