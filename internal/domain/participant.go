package domain

import (
	"time"

	"example.com/reserve/pkg/events"
)

func (t *txn) initialize(caller string, minContribution uint64, maxParticipants int) error {
	if t.hdr.initialized {
		return ErrAlreadyInitialized.withDetail("reserve already initialized")
	}
	if caller == "" {
		return ErrInvalidIdentity
	}
	if maxParticipants <= 0 {
		return ErrInvalidAmount.withDetail("max participants must be greater than zero")
	}
	t.hdr.admin = caller
	t.hdr.initialized = true
	t.hdr.minContribution = minContribution
	t.hdr.maxParticipants = maxParticipants
	t.emit(events.TypeReserveInitialized, AggregateReserve, caller, events.ReserveInitialized{
		Admin:                  caller,
		MinCapitalContribution: minContribution,
		MaxParticipants:        maxParticipants,
		OccurredAt:             t.now,
	})
	return nil
}

func (t *txn) setMinimumContribution(caller string, value uint64) error {
	if err := t.requireAdmin(caller); err != nil {
		return err
	}
	if t.hdr.configLocked {
		return ErrAlreadyInitialized.withDetail("minimum contribution is fixed once participants have joined")
	}
	previous := t.hdr.minContribution
	t.hdr.minContribution = value
	t.emit(events.TypeMinimumContributionSet, AggregateReserve, t.hdr.admin, events.MinimumContributionSet{
		Previous:   previous,
		Value:      value,
		OccurredAt: t.now,
	})
	return nil
}

func (t *txn) transferAdmin(caller, next string) error {
	if err := t.requireAdmin(caller); err != nil {
		return err
	}
	if next == "" {
		return ErrInvalidIdentity
	}
	t.hdr.admin = next
	t.emit(events.TypeAdminTransferred, AggregateReserve, next, events.AdminTransferred{
		Previous:   caller,
		Admin:      next,
		OccurredAt: t.now,
	})
	return nil
}

func (t *txn) join(identity string, amount uint64) (*Participant, error) {
	if err := t.requireInitialized(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, ErrInvalidIdentity
	}
	if amount == 0 || amount < t.hdr.minContribution {
		return nil, ErrInsufficientContribution.withDetail("contribution %d below minimum %d", amount, t.hdr.minContribution)
	}
	existing, known := t.participant(identity)
	if known && existing.IsActive {
		return nil, ErrAlreadyParticipant
	}
	if len(t.activeIDs()) >= t.hdr.maxParticipants {
		return nil, ErrMaxParticipantsReached.withDetail("reserve holds the maximum of %d participants", t.hdr.maxParticipants)
	}
	if err := t.hdr.capital.Credit(amount); err != nil {
		return nil, err
	}

	p := existing
	if !known {
		p = &Participant{Identity: identity}
	}
	p.CapitalContributed = amount
	p.IsActive = true
	p.JoinedAt = t.now
	p.ExitedAt = time.Time{}
	p.JoinSeq = t.hdr.nextJoinSeq
	t.hdr.nextJoinSeq++
	t.hdr.configLocked = true
	t.putParticipant(p)
	t.appendActive(identity)

	t.emit(events.TypeParticipantJoined, AggregateParticipant, identity, events.ParticipantJoined{
		Identity:           identity,
		CapitalContributed: amount,
		Rejoined:           known,
		OccurredAt:         t.now,
	})
	return p, nil
}

// activeParticipant resolves a caller that must hold an active record.
func (t *txn) activeParticipant(identity string) (*Participant, error) {
	if err := t.requireInitialized(); err != nil {
		return nil, err
	}
	p, ok := t.participant(identity)
	if !ok {
		return nil, ErrParticipantNotFound
	}
	if !p.IsActive {
		return nil, ErrInactiveParticipant
	}
	return p, nil
}

func (t *txn) deposit(identity string, amount uint64) (*Participant, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	p, err := t.activeParticipant(identity)
	if err != nil {
		return nil, err
	}
	contributed, err := addChecked(p.CapitalContributed, amount)
	if err != nil {
		return nil, err
	}
	if err := t.hdr.capital.Credit(amount); err != nil {
		return nil, err
	}
	p.CapitalContributed = contributed
	t.emit(events.TypeCapitalDeposited, AggregateParticipant, identity, events.CapitalDeposited{
		Identity:           identity,
		Amount:             amount,
		CapitalContributed: contributed,
		OccurredAt:         t.now,
	})
	return p, nil
}

func (t *txn) withdraw(identity string, amount uint64) (*Participant, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	p, err := t.activeParticipant(identity)
	if err != nil {
		return nil, err
	}
	if amount > p.CapitalContributed {
		return nil, ErrInsufficientBalance.withDetail("withdrawal %d exceeds contributed capital %d", amount, p.CapitalContributed)
	}
	if err := t.hdr.capital.Debit(amount); err != nil {
		return nil, err
	}
	p.CapitalContributed -= amount
	t.pay(Payout{Identity: identity, Amount: amount, Kind: PayoutWithdrawal})
	t.emit(events.TypeCapitalWithdrawn, AggregateParticipant, identity, events.CapitalWithdrawn{
		Identity:           identity,
		Amount:             amount,
		CapitalContributed: p.CapitalContributed,
		OccurredAt:         t.now,
	})
	return p, nil
}

func (t *txn) exit(identity string) (*Participant, uint64, error) {
	p, err := t.activeParticipant(identity)
	if err != nil {
		return nil, 0, err
	}
	capital := p.CapitalContributed
	profit := p.ClaimableProfit()
	total, err := addChecked(capital, profit)
	if err != nil {
		return nil, 0, err
	}
	if err := t.hdr.capital.Debit(total); err != nil {
		return nil, 0, err
	}

	p.CapitalContributed = 0
	p.ProfitShareWithdrawn += profit
	p.IsActive = false
	p.ExitedAt = t.now
	t.removeActive(identity)

	t.pay(Payout{Identity: identity, Amount: total, Kind: PayoutExit})
	t.emit(events.TypeParticipantExited, AggregateParticipant, identity, events.ParticipantExited{
		Identity:        identity,
		CapitalReturned: capital,
		ProfitPaid:      profit,
		OccurredAt:      t.now,
	})
	return p, total, nil
}

// withdrawable is what exit would pay out right now.
func withdrawable(p *Participant) (uint64, error) {
	if !p.IsActive {
		return 0, nil
	}
	return addChecked(p.CapitalContributed, p.ClaimableProfit())
}
