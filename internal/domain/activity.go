package domain

import (
	"errors"
	"time"

	"example.com/reserve/pkg/events"
)

// ActivityStatus is the lifecycle state of a funded activity.
type ActivityStatus string

const (
	StatusProposed  ActivityStatus = "proposed"
	StatusApproved  ActivityStatus = "approved"
	StatusCompleted ActivityStatus = "completed"
	StatusRejected  ActivityStatus = "rejected"
)

// CanTransition reports whether next is a legal successor of s.
// Proposed -> Approved -> Completed, Proposed -> Rejected; nothing else.
func (s ActivityStatus) CanTransition(next ActivityStatus) bool {
	switch s {
	case StatusProposed:
		return next == StatusApproved || next == StatusRejected
	case StatusApproved:
		return next == StatusCompleted
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s ActivityStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Activity is a funded economic activity.
type Activity struct {
	ID              string
	Initiator       string
	CapitalRequired uint64
	CapitalDeployed uint64
	Status          ActivityStatus
	CreatedAt       time.Time
	CompletedAt     time.Time
	Outcome         int64
	IsValidated     bool
	// Seq is the creation order.
	Seq uint64
}

func (t *txn) transition(a *Activity, next ActivityStatus) error {
	if !a.Status.CanTransition(next) {
		return ErrInvalidActivityStatus.withDetail("activity %q is %s, cannot become %s", a.ID, a.Status, next)
	}
	a.Status = next
	return nil
}

func (t *txn) lookupActivity(id string) (*Activity, error) {
	if err := t.requireInitialized(); err != nil {
		return nil, err
	}
	a, ok := t.activity(id)
	if !ok {
		return nil, ErrActivityNotFound.withDetail("activity %q not found", id)
	}
	return a, nil
}

func (t *txn) propose(caller, id string, capitalRequired uint64) (*Activity, error) {
	if _, err := t.activeParticipant(caller); err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			return nil, ErrNotAuthorized.withDetail("%q is not a participant", caller)
		}
		return nil, err
	}
	if id == "" {
		return nil, ErrInvalidIdentity.withDetail("activity id must not be empty")
	}
	if t.activityExists(id) {
		return nil, ErrDuplicateActivity.withDetail("activity %q already exists", id)
	}
	if capitalRequired == 0 || capitalRequired > t.hdr.capital.Balance() {
		return nil, ErrInvalidCapitalAmount.withDetail("capital required %d must be within (0, %d]", capitalRequired, t.hdr.capital.Balance())
	}

	a := &Activity{
		ID:              id,
		Initiator:       caller,
		CapitalRequired: capitalRequired,
		Status:          StatusProposed,
		CreatedAt:       t.now,
		Seq:             t.hdr.nextActivitySeq,
	}
	t.hdr.nextActivitySeq++
	t.putActivity(a)

	t.emit(events.TypeActivityProposed, AggregateActivity, id, events.ActivityProposed{
		ActivityID:      id,
		Initiator:       caller,
		CapitalRequired: capitalRequired,
		OccurredAt:      t.now,
	})
	return a, nil
}

func (t *txn) approve(caller, id string) (*Activity, error) {
	if err := t.requireAdmin(caller); err != nil {
		return nil, err
	}
	a, err := t.lookupActivity(id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusProposed {
		return nil, ErrInvalidActivityStatus.withDetail("activity %q is %s, approval requires %s", id, a.Status, StatusProposed)
	}
	// Capital may have moved since the proposal; the activity stays Proposed
	// and can be approved later or rejected.
	if a.CapitalRequired > t.hdr.capital.Balance() {
		return nil, ErrInsufficientCapital.withDetail("activity %q requires %d, reserve holds %d", id, a.CapitalRequired, t.hdr.capital.Balance())
	}
	if err := t.hdr.capital.Debit(a.CapitalRequired); err != nil {
		return nil, err
	}
	a.CapitalDeployed = a.CapitalRequired
	if err := t.transition(a, StatusApproved); err != nil {
		return nil, err
	}

	t.emit(events.TypeActivityApproved, AggregateActivity, id, events.ActivityApproved{
		ActivityID:      id,
		CapitalDeployed: a.CapitalDeployed,
		TotalCapital:    t.hdr.capital.Balance(),
		OccurredAt:      t.now,
	})
	return a, nil
}

func (t *txn) reject(caller, id string) (*Activity, error) {
	if err := t.requireAdmin(caller); err != nil {
		return nil, err
	}
	a, err := t.lookupActivity(id)
	if err != nil {
		return nil, err
	}
	if err := t.transition(a, StatusRejected); err != nil {
		return nil, err
	}
	t.emit(events.TypeActivityRejected, AggregateActivity, id, events.ActivityRejected{
		ActivityID: id,
		OccurredAt: t.now,
	})
	return a, nil
}

// complete returns the deployed principal to the reserve and runs the
// distribution pass for outcome. validated is the advisory compliance verdict.
func (t *txn) complete(caller, id string, outcome int64, validated bool) (*Activity, Distribution, error) {
	a, err := t.lookupActivity(id)
	if err != nil {
		return nil, Distribution{}, err
	}
	if a.Status != StatusApproved {
		return nil, Distribution{}, ErrInvalidActivityStatus.withDetail("activity %q is %s, completion requires %s", id, a.Status, StatusApproved)
	}
	if caller != a.Initiator {
		return nil, Distribution{}, ErrNotAuthorized.withDetail("only the initiator may complete activity %q", id)
	}

	principal := a.CapitalDeployed
	if err := t.hdr.capital.Credit(principal); err != nil {
		return nil, Distribution{}, err
	}
	dist, err := t.distribute(a, outcome)
	if err != nil {
		return nil, Distribution{}, err
	}
	if err := t.transition(a, StatusCompleted); err != nil {
		return nil, Distribution{}, err
	}
	a.CompletedAt = t.now
	a.Outcome = outcome
	a.IsValidated = validated

	t.emit(events.TypeActivityCompleted, AggregateActivity, id, events.ActivityCompleted{
		ActivityID:      id,
		Initiator:       a.Initiator,
		Outcome:         outcome,
		CapitalReturned: principal,
		IsValidated:     validated,
		OccurredAt:      t.now,
	})
	return a, dist, nil
}
