package domain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, time.October, 27, 20, 0, 0, 0, time.UTC)

const testAdmin = "admin"

type recordingStore struct {
	mu         sync.Mutex
	changesets []Changeset
	err        error
}

func (s *recordingStore) Apply(ctx context.Context, cs Changeset, settle func(context.Context) error) error {
	if s.err != nil {
		return s.err
	}
	if err := settle(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changesets = append(s.changesets, cs)
	return nil
}

func (s *recordingStore) last(t *testing.T) Changeset {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.changesets)
	return s.changesets[len(s.changesets)-1]
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changesets)
}

type recordingTreasury struct {
	mu      sync.Mutex
	batches [][]Payout
	err     error
}

func (tr *recordingTreasury) Disburse(_ context.Context, payouts []Payout) error {
	if tr.err != nil {
		return tr.err
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.batches = append(tr.batches, append([]Payout(nil), payouts...))
	return nil
}

func (tr *recordingTreasury) payouts() []Payout {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	var out []Payout
	for _, b := range tr.batches {
		out = append(out, b...)
	}
	return out
}

type fixture struct {
	svc      *Service
	store    *recordingStore
	treasury *recordingTreasury
}

func newFixture(t *testing.T, minContribution uint64, maxParticipants int, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: &recordingStore{}, treasury: &recordingTreasury{}}
	base := []Option{
		WithStore(f.store),
		WithTreasury(f.treasury),
		WithClock(func() time.Time { return testNow }),
	}
	f.svc = NewService(nil, append(base, opts...)...)
	require.NoError(t, f.svc.Initialize(context.Background(), testAdmin, minContribution, maxParticipants))
	return f
}

func (f *fixture) join(t *testing.T, identity string, amount uint64) {
	t.Helper()
	_, err := f.svc.Join(context.Background(), identity, amount)
	require.NoError(t, err)
}

// fund proposes and approves an activity for initiator.
func (f *fixture) fund(t *testing.T, initiator, id string, capital uint64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Propose(ctx, initiator, id, capital)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, testAdmin, id)
	require.NoError(t, err)
}

func (f *fixture) participant(t *testing.T, identity string) Participant {
	t.Helper()
	p, err := f.svc.GetParticipant(context.Background(), identity)
	require.NoError(t, err)
	return p
}

func (f *fixture) stats(t *testing.T) ReserveStats {
	t.Helper()
	st, err := f.svc.GetReserveStats(context.Background())
	require.NoError(t, err)
	return st
}

func (f *fixture) audit(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Audit(context.Background()))
}

func eventTypes(cs Changeset) []string {
	out := make([]string, 0, len(cs.Events))
	for _, e := range cs.Events {
		out = append(out, e.Type)
	}
	return out
}

var errBoom = errors.New("boom")
