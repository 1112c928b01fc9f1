package domain

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/reserve/pkg/events"
)

func TestInitializeOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(nil)

	_, err := svc.Join(ctx, "alice", 10)
	require.ErrorIs(t, err, ErrNotInitialized)

	require.ErrorIs(t, svc.Initialize(ctx, "root", 10, 0), ErrInvalidAmount)
	require.ErrorIs(t, svc.Initialize(ctx, "", 10, 5), ErrInvalidIdentity)
	require.NoError(t, svc.Initialize(ctx, "root", 10, 5))
	require.ErrorIs(t, svc.Initialize(ctx, "root", 10, 5), ErrAlreadyInitialized)

	st, err := svc.GetReserveStats(ctx)
	require.NoError(t, err)
	require.True(t, st.Initialized)
	require.Equal(t, "root", st.Admin)
	require.Equal(t, uint64(10), st.MinCapitalContribution)
	require.Equal(t, 5, st.MaxParticipants)
}

func TestMinimumContributionLocksAfterFirstJoin(t *testing.T) {
	f := newFixture(t, 100, 5)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.SetMinimumCapitalContribution(ctx, "mallory", 1), ErrNotAuthorized)
	require.NoError(t, f.svc.SetMinimumCapitalContribution(ctx, testAdmin, 200))

	_, err := f.svc.Join(ctx, "alice", 150)
	require.ErrorIs(t, err, ErrInsufficientContribution)
	f.join(t, "alice", 200)

	require.ErrorIs(t, f.svc.SetMinimumCapitalContribution(ctx, testAdmin, 1), ErrAlreadyInitialized)
	require.Equal(t, uint64(200), f.stats(t).MinCapitalContribution)
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.TransferAdmin(ctx, "mallory", "mallory"), ErrNotAuthorized)
	require.ErrorIs(t, f.svc.TransferAdmin(ctx, testAdmin, ""), ErrInvalidIdentity)
	require.NoError(t, f.svc.TransferAdmin(ctx, testAdmin, "board"))
	require.Equal(t, "board", f.stats(t).Admin)

	f.join(t, "alice", 10)
	_, err := f.svc.Propose(ctx, "alice", "act", 5)
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, testAdmin, "act")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.svc.Approve(ctx, "board", "act")
	require.NoError(t, err)
}

func TestJoinValidation(t *testing.T) {
	f := newFixture(t, 100, 5)
	ctx := context.Background()

	_, err := f.svc.Join(ctx, "", 100)
	require.ErrorIs(t, err, ErrInvalidIdentity)
	_, err = f.svc.Join(ctx, "alice", 99)
	require.ErrorIs(t, err, ErrInsufficientContribution)

	p, err := f.svc.Join(ctx, "alice", 100)
	require.NoError(t, err)
	require.True(t, p.IsActive)
	require.Equal(t, testNow, p.JoinedAt)

	_, err = f.svc.Join(ctx, "alice", 500)
	require.ErrorIs(t, err, ErrAlreadyParticipant)
	require.Equal(t, uint64(100), f.stats(t).TotalCapital)
}

func TestJoinBeyondCapacityChangesNothing(t *testing.T) {
	f := newFixture(t, 1, 3)
	ctx := context.Background()

	f.join(t, "a", 10)
	f.join(t, "b", 10)
	f.join(t, "c", 10)
	before := f.svc.reserve.Snapshot()
	changesets := f.store.count()

	_, err := f.svc.Join(ctx, "d", 10)
	require.ErrorIs(t, err, ErrMaxParticipantsReached)
	require.Equal(t, KindResource, KindOf(err))

	require.Equal(t, before, f.svc.reserve.Snapshot())
	require.Equal(t, changesets, f.store.count())
	_, err = f.svc.GetParticipant(ctx, "d")
	require.ErrorIs(t, err, ErrParticipantNotFound)

	// An exit frees a slot.
	_, err = f.svc.Exit(ctx, "b")
	require.NoError(t, err)
	f.join(t, "d", 10)
}

func TestDepositAndWithdraw(t *testing.T) {
	f := newFixture(t, 10, 5)
	ctx := context.Background()

	f.join(t, "alice", 100)

	_, err := f.svc.Deposit(ctx, "alice", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = f.svc.Deposit(ctx, "bob", 10)
	require.ErrorIs(t, err, ErrParticipantNotFound)

	p, err := f.svc.Deposit(ctx, "alice", 50)
	require.NoError(t, err)
	require.Equal(t, uint64(150), p.CapitalContributed)

	_, err = f.svc.Withdraw(ctx, "alice", 151)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = f.svc.Withdraw(ctx, "alice", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)

	p, err = f.svc.Withdraw(ctx, "alice", 40)
	require.NoError(t, err)
	require.Equal(t, uint64(110), p.CapitalContributed)
	require.Equal(t, uint64(110), f.stats(t).TotalCapital)
	require.Equal(t, []Payout{{Identity: "alice", Amount: 40, Kind: PayoutWithdrawal}}, f.treasury.payouts())

	cs := f.store.last(t)
	require.Equal(t, []string{events.TypeCapitalWithdrawn}, eventTypes(cs))
	require.Equal(t, events.CapitalWithdrawn{
		Identity:           "alice",
		Amount:             40,
		CapitalContributed: 110,
		OccurredAt:         testNow,
	}, cs.Events[0].Payload)
	f.audit(t)
}

func TestExitPaysCapitalAndProfitThenRejoin(t *testing.T) {
	f := newFixture(t, 100_000, 10)
	ctx := context.Background()

	f.join(t, "alice", 1_000_000)
	f.fund(t, "alice", "act-1", 500_000)
	_, _, err := f.svc.Complete(ctx, "alice", "act-1", 100_000)
	require.NoError(t, err)

	balance, err := f.svc.GetWithdrawableBalance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1_100_000), balance)

	paid, err := f.svc.Exit(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1_100_000), paid)

	p := f.participant(t, "alice")
	require.False(t, p.IsActive)
	require.False(t, p.ExitedAt.IsZero())
	require.Zero(t, p.CapitalContributed)
	require.Zero(t, p.ClaimableProfit())
	require.Equal(t, uint64(100_000), p.ProfitShareWithdrawn)

	st := f.stats(t)
	require.Zero(t, st.TotalCapital)
	require.Zero(t, st.ParticipantCount)
	f.audit(t)

	balance, err = f.svc.GetWithdrawableBalance(ctx, "alice")
	require.NoError(t, err)
	require.Zero(t, balance)

	_, err = f.svc.Exit(ctx, "alice")
	require.ErrorIs(t, err, ErrInactiveParticipant)
	_, err = f.svc.Deposit(ctx, "alice", 1)
	require.ErrorIs(t, err, ErrInactiveParticipant)

	p, err = f.svc.Join(ctx, "alice", 200_000)
	require.NoError(t, err)
	require.True(t, p.IsActive)
	require.Equal(t, uint64(200_000), p.CapitalContributed)
	require.Equal(t, uint64(100_000), p.ProfitShareAccumulated)
	require.True(t, p.ExitedAt.IsZero())
	require.True(t, f.participant(t, "alice").ExitedAt.IsZero())
	require.True(t, f.store.last(t).Events[0].Payload.(events.ParticipantJoined).Rejoined)
	f.audit(t)
}

func TestExitRequiresLiquidity(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	f.fund(t, "alice", "act", 800)

	_, err := f.svc.Exit(ctx, "alice")
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
	require.True(t, f.participant(t, "alice").IsActive)
}

func TestProposeRules(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)

	_, err := f.svc.Propose(ctx, "mallory", "act", 10)
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.svc.Propose(ctx, "alice", "act", 0)
	require.ErrorIs(t, err, ErrInvalidCapitalAmount)
	_, err = f.svc.Propose(ctx, "alice", "act", 1_001)
	require.ErrorIs(t, err, ErrInvalidCapitalAmount)
	_, err = f.svc.Propose(ctx, "alice", "", 10)
	require.ErrorIs(t, err, ErrInvalidIdentity)

	a, err := f.svc.Propose(ctx, "alice", "act", 1_000)
	require.NoError(t, err)
	require.Equal(t, StatusProposed, a.Status)
	require.Zero(t, a.CapitalDeployed)
	require.Equal(t, uint64(1_000), f.stats(t).TotalCapital, "proposal does not move capital")

	_, err = f.svc.Propose(ctx, "alice", "act", 10)
	require.ErrorIs(t, err, ErrDuplicateActivity)

	_, err = f.svc.Exit(ctx, "alice")
	require.NoError(t, err)
	_, err = f.svc.Propose(ctx, "alice", "other", 10)
	require.ErrorIs(t, err, ErrInactiveParticipant)
}

func TestApproveRequiresAvailableCapital(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	_, err := f.svc.Propose(ctx, "alice", "first", 700)
	require.NoError(t, err)
	_, err = f.svc.Propose(ctx, "alice", "second", 700)
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, "alice", "first")
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.svc.Approve(ctx, testAdmin, "missing")
	require.ErrorIs(t, err, ErrActivityNotFound)

	a, err := f.svc.Approve(ctx, testAdmin, "first")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, a.Status)
	require.Equal(t, uint64(700), a.CapitalDeployed)

	_, err = f.svc.Approve(ctx, testAdmin, "second")
	require.ErrorIs(t, err, ErrInsufficientCapital)
	second, err := f.svc.GetActivity(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, StatusProposed, second.Status)

	_, err = f.svc.Approve(ctx, testAdmin, "first")
	require.ErrorIs(t, err, ErrInvalidActivityStatus)

	rejected, err := f.svc.Reject(ctx, testAdmin, "second")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	_, err = f.svc.Reject(ctx, testAdmin, "first")
	require.ErrorIs(t, err, ErrInvalidActivityStatus)

	require.Equal(t, uint64(300), f.stats(t).TotalCapital)
	require.Equal(t, uint64(700), f.stats(t).DeployedCapital)
	f.audit(t)
}

func TestCompleteRules(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	f.join(t, "bob", 1_000)
	_, err := f.svc.Propose(ctx, "alice", "act", 500)
	require.NoError(t, err)

	_, _, err = f.svc.Complete(ctx, "alice", "act", 10)
	require.ErrorIs(t, err, ErrInvalidActivityStatus)

	_, err = f.svc.Approve(ctx, testAdmin, "act")
	require.NoError(t, err)

	_, _, err = f.svc.Complete(ctx, "bob", "act", 10)
	require.ErrorIs(t, err, ErrNotAuthorized)
	_, _, err = f.svc.Complete(ctx, "alice", "missing", 10)
	require.ErrorIs(t, err, ErrActivityNotFound)

	_, _, err = f.svc.Complete(ctx, "alice", "act", 10)
	require.NoError(t, err)
	after := f.svc.reserve.Snapshot()

	_, _, err = f.svc.Complete(ctx, "alice", "act", 10)
	require.ErrorIs(t, err, ErrInvalidActivityStatus)
	require.Equal(t, after, f.svc.reserve.Snapshot(), "a second completion distributes nothing")
}

func TestInitiatorMayCompleteAfterExit(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	f.join(t, "bob", 1_000)
	f.fund(t, "alice", "act", 1_000)
	_, err := f.svc.Exit(ctx, "alice")
	require.NoError(t, err)

	_, dist, err := f.svc.Complete(ctx, "alice", "act", 100)
	require.NoError(t, err)
	require.Equal(t, []Share{{Identity: "bob", Amount: 100}}, dist.Shares)
	f.audit(t)
}

func TestTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	f.join(t, "bob", 1_000)
	f.fund(t, "alice", "act", 500)
	before := f.svc.reserve.Snapshot()
	changesets := f.store.count()
	f.treasury.err = errBoom

	_, err := f.svc.Withdraw(ctx, "alice", 100)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, KindTransfer, KindOf(err))

	_, err = f.svc.Exit(ctx, "bob")
	require.ErrorIs(t, err, ErrTransferFailed)

	_, _, err = f.svc.Complete(ctx, "alice", "act", 50)
	require.ErrorIs(t, err, ErrTransferFailed)

	require.Equal(t, before, f.svc.reserve.Snapshot())
	require.Equal(t, changesets, f.store.count())

	// A loss moves nothing out and does not need the treasury.
	_, _, err = f.svc.Complete(ctx, "alice", "act", -50)
	require.NoError(t, err)
	f.audit(t)
}

func TestStoreFailureRollsBack(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	before := f.svc.reserve.Snapshot()
	f.store.err = errBoom

	_, err := f.svc.Deposit(ctx, "alice", 10)
	require.ErrorIs(t, err, ErrPersistenceFailed)
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, KindInternal, KindOf(err))
	require.Equal(t, before, f.svc.reserve.Snapshot())
}

type reentrantTreasury struct {
	svc  *Service
	errs []error
}

func (r *reentrantTreasury) Disburse(ctx context.Context, payouts []Payout) error {
	_, err := r.svc.Withdraw(ctx, payouts[0].Identity, 1)
	r.errs = append(r.errs, err)
	_, err = r.svc.GetParticipant(ctx, payouts[0].Identity)
	r.errs = append(r.errs, err)
	_, _, err = r.svc.Complete(ctx, payouts[0].Identity, "act", 1)
	r.errs = append(r.errs, err)
	return nil
}

func TestReentrantCallsAreRejected(t *testing.T) {
	treasury := &reentrantTreasury{}
	f := newFixture(t, 1, 5, WithTreasury(treasury))
	treasury.svc = f.svc
	ctx := context.Background()

	f.join(t, "alice", 1_000)
	p, err := f.svc.Withdraw(ctx, "alice", 100)
	require.NoError(t, err)
	require.Equal(t, uint64(900), p.CapitalContributed)

	require.Len(t, treasury.errs, 3)
	for _, err := range treasury.errs {
		require.ErrorIs(t, err, ErrReentrantCall)
	}
	require.Equal(t, uint64(900), f.stats(t).TotalCapital)
	f.audit(t)
}

func TestPausedOperationsFail(t *testing.T) {
	paused := map[string]bool{TargetJoin: true, TargetComplete: true}
	guard := GuardFunc(func(target string) bool { return !paused[target] })
	f := newFixture(t, 1, 5, WithGuard(guard))
	ctx := context.Background()

	_, err := f.svc.Join(ctx, "alice", 10)
	require.ErrorIs(t, err, ErrSystemPaused)

	delete(paused, TargetJoin)
	f.join(t, "alice", 10)
	f.fund(t, "alice", "act", 5)

	_, _, err = f.svc.Complete(ctx, "alice", "act", 1)
	require.ErrorIs(t, err, ErrSystemPaused)
	a, err := f.svc.GetActivity(ctx, "act")
	require.NoError(t, err)
	require.Equal(t, StatusApproved, a.Status)

	// Admin configuration is not subject to the guard.
	require.NoError(t, f.svc.TransferAdmin(ctx, testAdmin, "board"))
}

type validatorFunc func(context.Context, Activity) (bool, error)

func (f validatorFunc) Verdict(ctx context.Context, a Activity) (bool, error) { return f(ctx, a) }

func TestComplianceVerdictIsRecorded(t *testing.T) {
	verdicts := map[string]error{"clean": nil, "flagged": errors.New("not compliant"), "down": errBoom}
	var svc *Service
	validator := validatorFunc(func(ctx context.Context, a Activity) (bool, error) {
		// The validator may read the reserve.
		if _, err := svc.GetActivity(ctx, a.ID); err != nil {
			return false, err
		}
		switch err := verdicts[a.ID]; {
		case err == errBoom:
			return false, err
		case err != nil:
			return false, nil
		default:
			return true, nil
		}
	})
	f := newFixture(t, 1, 5, WithComplianceValidator(validator))
	svc = f.svc
	ctx := context.Background()

	f.join(t, "alice", 3_000)
	for id, want := range map[string]bool{"clean": true, "flagged": false, "down": false} {
		f.fund(t, "alice", id, 100)
		a, _, err := f.svc.Complete(ctx, "alice", id, 0)
		require.NoError(t, err)
		require.Equal(t, want, a.IsValidated, id)
	}
}

func TestValidatedDefaultsTrueWithoutValidator(t *testing.T) {
	f := newFixture(t, 1, 5)
	f.join(t, "alice", 100)
	f.fund(t, "alice", "act", 100)
	a, _, err := f.svc.Complete(context.Background(), "alice", "act", 0)
	require.NoError(t, err)
	require.True(t, a.IsValidated)
}

func TestListActivitiesPages(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()
	f.join(t, "alice", 1_000)
	for i := range 5 {
		_, err := f.svc.Propose(ctx, "alice", fmt.Sprintf("act-%d", i), 10)
		require.NoError(t, err)
	}

	var seen []string
	var cursor *Cursor
	for {
		page, next, err := f.svc.ListActivities(ctx, cursor, 2)
		require.NoError(t, err)
		for _, a := range page {
			seen = append(seen, a.ID)
		}
		if next == nil {
			break
		}
		cursor = next
	}
	require.Equal(t, []string{"act-0", "act-1", "act-2", "act-3", "act-4"}, seen)

	page, next, err := f.svc.ListActivities(ctx, nil, 0)
	require.NoError(t, err)
	require.Len(t, page, 5)
	require.Nil(t, next)
}

func TestListParticipants(t *testing.T) {
	f := newFixture(t, 1, 5)
	ctx := context.Background()
	f.join(t, "a", 10)
	f.join(t, "b", 10)
	_, err := f.svc.Exit(ctx, "a")
	require.NoError(t, err)

	all, err := f.svc.ListParticipants(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active, err := f.svc.ListParticipants(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "b", active[0].Identity)
}

func TestRandomOperationsKeepLedgerBalanced(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1337))
	f := newFixture(t, 10, 6)
	ctx := context.Background()
	identities := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var activities []string

	pick := func() string { return identities[rng.IntN(len(identities))] }
	for step := range 2_000 {
		switch rng.IntN(8) {
		case 0:
			_, _ = f.svc.Join(ctx, pick(), rng.Uint64N(5_000))
		case 1:
			_, _ = f.svc.Deposit(ctx, pick(), rng.Uint64N(1_000))
		case 2:
			_, _ = f.svc.Withdraw(ctx, pick(), rng.Uint64N(1_000))
		case 3:
			if rng.IntN(4) == 0 {
				_, _ = f.svc.Exit(ctx, pick())
			}
		case 4:
			id := fmt.Sprintf("act-%d", step)
			if total := f.stats(t).TotalCapital; total > 0 {
				if _, err := f.svc.Propose(ctx, pick(), id, 1+rng.Uint64N(total)); err == nil {
					activities = append(activities, id)
				}
			}
		case 5:
			if len(activities) > 0 {
				_, _ = f.svc.Approve(ctx, testAdmin, activities[rng.IntN(len(activities))])
			}
		case 6:
			if len(activities) > 0 {
				_, _ = f.svc.Reject(ctx, testAdmin, activities[rng.IntN(len(activities))])
			}
		case 7:
			if len(activities) == 0 {
				continue
			}
			a, err := f.svc.GetActivity(ctx, activities[rng.IntN(len(activities))])
			require.NoError(t, err)
			if a.Status != StatusApproved {
				continue
			}
			span := int64(a.CapitalDeployed)
			outcome := rng.Int64N(3*span+1) - 2*span
			_, _, err = f.svc.Complete(ctx, a.Initiator, a.ID, outcome)
			require.NoError(t, err)
		}
		require.NoError(t, f.svc.Audit(ctx), "step %d", step)
	}
}
