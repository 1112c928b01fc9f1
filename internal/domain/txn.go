package domain

import (
	"time"

	"github.com/google/uuid"
)

// Changeset is everything a committed operation changed, handed to the Store
// in one piece.
type Changeset struct {
	Op           string
	State        ReserveState
	Participants []Participant
	Activities   []Activity
	Payouts      []Payout
	Events       []Event
}

// txn stages one operation on top of a Reserve. Records are copied on first
// write, so the base stays untouched until commit.
type txn struct {
	base *Reserve
	now  time.Time
	hdr  header

	participants map[string]*Participant
	touchedP     []string
	activities   map[string]*Activity
	touchedA     []string
	newA         []string

	active      []string
	activeDirty bool

	payouts []Payout
	events  []Event
}

func newTxn(base *Reserve, now time.Time) *txn {
	return &txn{
		base:         base,
		now:          now,
		hdr:          base.header,
		participants: make(map[string]*Participant),
		activities:   make(map[string]*Activity),
	}
}

// participant returns a staged, writable copy of the record.
func (t *txn) participant(identity string) (*Participant, bool) {
	if p, ok := t.participants[identity]; ok {
		return p, true
	}
	orig, ok := t.base.participants[identity]
	if !ok {
		return nil, false
	}
	cp := *orig
	t.participants[identity] = &cp
	t.touchedP = append(t.touchedP, identity)
	return &cp, true
}

func (t *txn) putParticipant(p *Participant) {
	if _, ok := t.participants[p.Identity]; !ok {
		t.touchedP = append(t.touchedP, p.Identity)
	}
	t.participants[p.Identity] = p
}

func (t *txn) activity(id string) (*Activity, bool) {
	if a, ok := t.activities[id]; ok {
		return a, true
	}
	orig, ok := t.base.activities[id]
	if !ok {
		return nil, false
	}
	cp := *orig
	t.activities[id] = &cp
	t.touchedA = append(t.touchedA, id)
	return &cp, true
}

func (t *txn) activityExists(id string) bool {
	if _, ok := t.activities[id]; ok {
		return true
	}
	_, ok := t.base.activities[id]
	return ok
}

func (t *txn) putActivity(a *Activity) {
	t.activities[a.ID] = a
	t.touchedA = append(t.touchedA, a.ID)
	t.newA = append(t.newA, a.ID)
}

// activeIDs is the active index in join order as seen by this transaction.
func (t *txn) activeIDs() []string {
	if t.activeDirty {
		return t.active
	}
	return t.base.active
}

func (t *txn) appendActive(identity string) {
	ids := t.activeIDs()
	next := make([]string, len(ids), len(ids)+1)
	copy(next, ids)
	t.active = append(next, identity)
	t.activeDirty = true
}

func (t *txn) removeActive(identity string) {
	ids := t.activeIDs()
	next := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != identity {
			next = append(next, id)
		}
	}
	t.active = next
	t.activeDirty = true
}

func (t *txn) emit(eventType, aggregateType, aggregateID string, payload any) {
	t.events = append(t.events, Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    t.now,
		Payload:       payload,
	})
}

func (t *txn) pay(p Payout) {
	if p.Amount == 0 {
		return
	}
	t.payouts = append(t.payouts, p)
}

func (t *txn) changeset(op string) Changeset {
	cs := Changeset{
		Op:           op,
		State:        t.hdr.state(),
		Participants: make([]Participant, 0, len(t.touchedP)),
		Activities:   make([]Activity, 0, len(t.touchedA)),
		Payouts:      t.payouts,
		Events:       t.events,
	}
	for _, id := range t.touchedP {
		cs.Participants = append(cs.Participants, *t.participants[id])
	}
	seen := make(map[string]struct{}, len(t.touchedA))
	for _, id := range t.touchedA {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		cs.Activities = append(cs.Activities, *t.activities[id])
	}
	return cs
}

// commit publishes the staged state into the base reserve.
func (t *txn) commit() {
	r := t.base
	r.header = t.hdr
	for _, id := range t.touchedP {
		r.participants[id] = t.participants[id]
	}
	for _, id := range t.touchedA {
		r.activities[id] = t.activities[id]
	}
	r.activityOrder = append(r.activityOrder, t.newA...)
	if t.activeDirty {
		r.active = t.active
	}
}

func (t *txn) requireInitialized() error {
	if !t.hdr.initialized {
		return ErrNotInitialized
	}
	return nil
}

func (t *txn) requireAdmin(caller string) error {
	if err := t.requireInitialized(); err != nil {
		return err
	}
	if caller == "" || caller != t.hdr.admin {
		return ErrNotAuthorized.withDetail("%q is not the reserve admin", caller)
	}
	return nil
}
