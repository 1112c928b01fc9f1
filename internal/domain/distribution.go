package domain

import (
	"example.com/reserve/pkg/events"
)

// DistributionKind tells which branch of the engine ran.
type DistributionKind string

const (
	DistributionNone   DistributionKind = "none"
	DistributionProfit DistributionKind = "profit"
	DistributionLoss   DistributionKind = "loss"
)

// Share is one participant's slice of a distribution pass.
type Share struct {
	Identity string
	Amount   uint64
	// Clamped is set when a loss share was cut to the participant's balance.
	Clamped bool
}

// Distribution is the outcome of one distribution pass.
type Distribution struct {
	ActivityID string
	Kind       DistributionKind
	Outcome    int64
	// Amount is the profit, or the loss after capping at deployed capital.
	Amount uint64
	// Basis is the sum of active capital captured before the pass.
	Basis     uint64
	Allocated uint64
	// Remainder is Amount - Allocated: truncation dust for profit, truncation
	// plus clamping shortfall for loss.
	Remainder uint64
	Shares    []Share
}

// distribute runs the proportional profit or loss allocation for a completed
// activity whose principal has already been credited back.
func (t *txn) distribute(a *Activity, outcome int64) (Distribution, error) {
	d := Distribution{ActivityID: a.ID, Outcome: outcome, Kind: DistributionNone}
	if outcome == 0 {
		return d, nil
	}

	ids := t.activeIDs()
	participants := make([]*Participant, 0, len(ids))
	var basis uint64
	var err error
	for _, id := range ids {
		p, ok := t.participant(id)
		if !ok {
			return d, ErrParticipantNotFound.withDetail("active index references unknown identity %q", id)
		}
		participants = append(participants, p)
		if basis, err = addChecked(basis, p.CapitalContributed); err != nil {
			return d, err
		}
	}
	// basis is fixed here and reused for every participant below.
	d.Basis = basis

	if outcome > 0 {
		return t.distributeProfit(d, a, uint64(outcome), participants)
	}
	loss := uint64(-(outcome + 1)) + 1
	if loss > a.CapitalDeployed {
		loss = a.CapitalDeployed
	}
	return t.distributeLoss(d, a, loss, participants)
}

func (t *txn) distributeProfit(d Distribution, a *Activity, profit uint64, participants []*Participant) (Distribution, error) {
	d.Kind = DistributionProfit
	d.Amount = profit
	if err := t.hdr.capital.Credit(profit); err != nil {
		return d, err
	}

	remaining := profit
	if d.Basis > 0 {
		for _, p := range participants {
			share := mulDiv(p.CapitalContributed, profit, d.Basis)
			if share == 0 {
				continue
			}
			accumulated, err := addChecked(p.ProfitShareAccumulated, share)
			if err != nil {
				return d, err
			}
			p.ProfitShareAccumulated = accumulated
			remaining -= share
			d.Shares = append(d.Shares, Share{Identity: p.Identity, Amount: share})
			t.pay(Payout{Identity: p.Identity, Amount: share, Kind: PayoutProfitShare, Reference: a.ID})
			t.emit(events.TypeProfitSharePaid, AggregateParticipant, p.Identity, events.ProfitSharePaid{
				ActivityID: a.ID,
				Identity:   p.Identity,
				Amount:     share,
				OccurredAt: t.now,
			})
			if remaining == 0 {
				break
			}
		}
	}

	d.Allocated = profit - remaining
	d.Remainder = remaining
	retained, err := addChecked(t.hdr.retainedSurplus, remaining)
	if err != nil {
		return d, err
	}
	t.hdr.retainedSurplus = retained

	t.emit(events.TypeProfitDistributed, AggregateActivity, a.ID, events.ProfitDistributed{
		ActivityID:  a.ID,
		Profit:      profit,
		Distributed: d.Allocated,
		Retained:    d.Remainder,
		Basis:       d.Basis,
		Recipients:  len(d.Shares),
		OccurredAt:  t.now,
	})
	return d, nil
}

func (t *txn) distributeLoss(d Distribution, a *Activity, loss uint64, participants []*Participant) (Distribution, error) {
	d.Kind = DistributionLoss
	d.Amount = loss

	remaining := loss
	if d.Basis > 0 && loss > 0 {
		for _, p := range participants {
			raw := mulDiv(p.CapitalContributed, loss, d.Basis)
			share := min(raw, p.CapitalContributed)
			if share == 0 {
				continue
			}
			if err := t.hdr.capital.Debit(share); err != nil {
				return d, err
			}
			accumulated, err := addChecked(p.LossShareAccumulated, share)
			if err != nil {
				return d, err
			}
			p.CapitalContributed -= share
			p.LossShareAccumulated = accumulated
			remaining -= share
			clamped := share < raw
			d.Shares = append(d.Shares, Share{Identity: p.Identity, Amount: share, Clamped: clamped})
			t.emit(events.TypeLossShareDeducted, AggregateParticipant, p.Identity, events.LossShareDeducted{
				ActivityID:         a.ID,
				Identity:           p.Identity,
				Amount:             share,
				Clamped:            clamped,
				CapitalContributed: p.CapitalContributed,
				OccurredAt:         t.now,
			})
			if remaining == 0 {
				break
			}
		}
	}

	d.Allocated = loss - remaining
	d.Remainder = remaining
	uncollected, err := addChecked(t.hdr.uncollectedLoss, remaining)
	if err != nil {
		return d, err
	}
	t.hdr.uncollectedLoss = uncollected

	t.emit(events.TypeLossDistributed, AggregateActivity, a.ID, events.LossDistributed{
		ActivityID:   a.ID,
		Loss:         loss,
		Deducted:     d.Allocated,
		Shortfall:    d.Remainder,
		Basis:        d.Basis,
		Participants: len(d.Shares),
		OccurredAt:   t.now,
	})
	return d, nil
}
