// Package memory provides an in-process domain.Store. It keeps the latest
// ledger rows and the ordered notification log, and is used by tests and by
// the API when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/reserve/internal/domain"
)

// Store applies changesets to in-memory tables.
type Store struct {
	mu           sync.Mutex
	state        domain.ReserveState
	participants map[string]domain.Participant
	activities   map[string]domain.Activity
	events       []domain.Event
	payouts      []domain.Payout
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		participants: make(map[string]domain.Participant),
		activities:   make(map[string]domain.Activity),
	}
}

// Apply settles the changeset and, if settlement succeeds, records it.
func (s *Store) Apply(ctx context.Context, cs domain.Changeset, settle func(context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := settle(ctx); err != nil {
		return err
	}

	s.state = cs.State
	for _, p := range cs.Participants {
		s.participants[p.Identity] = p
	}
	for _, a := range cs.Activities {
		s.activities[a.ID] = a
	}
	s.events = append(s.events, cs.Events...)
	s.payouts = append(s.payouts, cs.Payouts...)
	return nil
}

// Load returns the stored ledger as a snapshot.
func (s *Store) Load(context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.Snapshot{
		State:        s.state,
		Participants: make([]domain.Participant, 0, len(s.participants)),
		Activities:   make([]domain.Activity, 0, len(s.activities)),
	}
	for _, p := range s.participants {
		snap.Participants = append(snap.Participants, p)
	}
	for _, a := range s.activities {
		snap.Activities = append(snap.Activities, a)
	}
	sort.Slice(snap.Participants, func(i, j int) bool { return snap.Participants[i].JoinSeq < snap.Participants[j].JoinSeq })
	sort.Slice(snap.Activities, func(i, j int) bool { return snap.Activities[i].Seq < snap.Activities[j].Seq })
	return snap, nil
}

// Events returns every recorded notification in commit order.
func (s *Store) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// Payouts returns every settled payout in commit order.
func (s *Store) Payouts() []domain.Payout {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Payout(nil), s.payouts...)
}
