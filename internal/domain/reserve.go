package domain

import (
	"fmt"
	"sort"
	"time"
)

// Participant is one identity's capital record. Records are never removed;
// exiting only clears IsActive.
type Participant struct {
	Identity               string
	CapitalContributed     uint64
	ProfitShareAccumulated uint64
	ProfitShareWithdrawn   uint64
	LossShareAccumulated   uint64
	IsActive               bool
	JoinedAt               time.Time
	ExitedAt               time.Time
	// JoinSeq orders active participants for distribution. It is reassigned
	// when an exited identity joins again.
	JoinSeq uint64
}

// ClaimableProfit is profit credited to the participant and not yet paid out.
func (p Participant) ClaimableProfit() uint64 {
	return p.ProfitShareAccumulated - p.ProfitShareWithdrawn
}

// ReserveState is the scalar part of the ledger.
type ReserveState struct {
	Admin                  string
	Initialized            bool
	ConfigLocked           bool
	MinCapitalContribution uint64
	MaxParticipants        int
	TotalCapital           uint64
	RetainedSurplus        uint64
	UncollectedLoss        uint64
	NextJoinSeq            uint64
	NextActivitySeq        uint64
}

// Snapshot is the full persisted form of a Reserve.
type Snapshot struct {
	State        ReserveState
	Participants []Participant
	Activities   []Activity
}

// ReserveStats is the read model returned by GetReserveStats.
type ReserveStats struct {
	TotalCapital           uint64
	ParticipantCount       int
	ActivityCount          int
	MinCapitalContribution uint64
	MaxParticipants        int
	DeployedCapital        uint64
	RetainedSurplus        uint64
	UncollectedLoss        uint64
	Admin                  string
	Initialized            bool
}

// header holds the scalar ledger fields shared by Reserve and txn.
type header struct {
	admin           string
	initialized     bool
	configLocked    bool
	minContribution uint64
	maxParticipants int
	capital         CapitalAccount
	retainedSurplus uint64
	uncollectedLoss uint64
	nextJoinSeq     uint64
	nextActivitySeq uint64
}

// Reserve is the single ledger aggregate. It is not safe for concurrent use;
// Service serializes access to it.
type Reserve struct {
	header
	participants  map[string]*Participant
	active        []string
	activities    map[string]*Activity
	activityOrder []string
}

// NewReserve returns an empty, uninitialized reserve.
func NewReserve() *Reserve {
	return &Reserve{
		participants: make(map[string]*Participant),
		activities:   make(map[string]*Activity),
	}
}

// Restore rebuilds a Reserve from a snapshot and audits it.
func Restore(s Snapshot) (*Reserve, error) {
	r := NewReserve()
	r.header = header{
		admin:           s.State.Admin,
		initialized:     s.State.Initialized,
		configLocked:    s.State.ConfigLocked,
		minContribution: s.State.MinCapitalContribution,
		maxParticipants: s.State.MaxParticipants,
		capital:         CapitalAccount{balance: s.State.TotalCapital},
		retainedSurplus: s.State.RetainedSurplus,
		uncollectedLoss: s.State.UncollectedLoss,
		nextJoinSeq:     s.State.NextJoinSeq,
		nextActivitySeq: s.State.NextActivitySeq,
	}

	participants := append([]Participant(nil), s.Participants...)
	sort.Slice(participants, func(i, j int) bool { return participants[i].JoinSeq < participants[j].JoinSeq })
	for i := range participants {
		p := participants[i]
		if _, dup := r.participants[p.Identity]; dup {
			return nil, fmt.Errorf("restore: duplicate participant %q", p.Identity)
		}
		r.participants[p.Identity] = &p
		if p.IsActive {
			r.active = append(r.active, p.Identity)
		}
	}

	activities := append([]Activity(nil), s.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].Seq < activities[j].Seq })
	for i := range activities {
		a := activities[i]
		if _, dup := r.activities[a.ID]; dup {
			return nil, fmt.Errorf("restore: duplicate activity %q", a.ID)
		}
		r.activities[a.ID] = &a
		r.activityOrder = append(r.activityOrder, a.ID)
	}

	if err := r.Audit(); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return r, nil
}

// Snapshot copies the reserve into its persisted form.
func (r *Reserve) Snapshot() Snapshot {
	s := Snapshot{
		State:        r.header.state(),
		Participants: make([]Participant, 0, len(r.participants)),
		Activities:   make([]Activity, 0, len(r.activityOrder)),
	}
	for _, p := range r.participants {
		s.Participants = append(s.Participants, *p)
	}
	sort.Slice(s.Participants, func(i, j int) bool { return s.Participants[i].JoinSeq < s.Participants[j].JoinSeq })
	for _, id := range r.activityOrder {
		s.Activities = append(s.Activities, *r.activities[id])
	}
	return s
}

// Audit verifies the accounting identity
//
//	TotalCapital + Σ deployed(Approved) == Σ active contributed + Σ active claimable profit + RetainedSurplus
//
// along with the structural invariants of the active index.
func (r *Reserve) Audit() error {
	var deployed, held uint64
	var err error
	for _, a := range r.activities {
		if a.Status == StatusApproved {
			if deployed, err = addChecked(deployed, a.CapitalDeployed); err != nil {
				return err
			}
		}
		if a.CapitalDeployed > a.CapitalRequired {
			return fmt.Errorf("activity %q deployed %d above required %d", a.ID, a.CapitalDeployed, a.CapitalRequired)
		}
	}
	activeCount := 0
	for _, p := range r.participants {
		if p.ProfitShareWithdrawn > p.ProfitShareAccumulated {
			return fmt.Errorf("participant %q withdrew more profit than accumulated", p.Identity)
		}
		if !p.IsActive {
			continue
		}
		activeCount++
		if held, err = addChecked(held, p.CapitalContributed); err != nil {
			return err
		}
		if held, err = addChecked(held, p.ClaimableProfit()); err != nil {
			return err
		}
	}
	if activeCount != len(r.active) {
		return fmt.Errorf("active index holds %d identities, ledger has %d active", len(r.active), activeCount)
	}
	for _, id := range r.active {
		if p, ok := r.participants[id]; !ok || !p.IsActive {
			return fmt.Errorf("active index references inactive identity %q", id)
		}
	}
	if held, err = addChecked(held, r.retainedSurplus); err != nil {
		return err
	}
	assets, err := addChecked(r.capital.Balance(), deployed)
	if err != nil {
		return err
	}
	if assets != held {
		return fmt.Errorf("capital identity broken: total %d + deployed %d != held %d", r.capital.Balance(), deployed, held)
	}
	return nil
}

func (r *Reserve) stats() ReserveStats {
	var deployed uint64
	for _, a := range r.activities {
		if a.Status == StatusApproved {
			deployed += a.CapitalDeployed
		}
	}
	return ReserveStats{
		TotalCapital:           r.capital.Balance(),
		ParticipantCount:       len(r.active),
		ActivityCount:          len(r.activityOrder),
		MinCapitalContribution: r.minContribution,
		MaxParticipants:        r.maxParticipants,
		DeployedCapital:        deployed,
		RetainedSurplus:        r.retainedSurplus,
		UncollectedLoss:        r.uncollectedLoss,
		Admin:                  r.admin,
		Initialized:            r.initialized,
	}
}

func (h header) state() ReserveState {
	return ReserveState{
		Admin:                  h.admin,
		Initialized:            h.initialized,
		ConfigLocked:           h.configLocked,
		MinCapitalContribution: h.minContribution,
		MaxParticipants:        h.maxParticipants,
		TotalCapital:           h.capital.Balance(),
		RetainedSurplus:        h.retainedSurplus,
		UncollectedLoss:        h.uncollectedLoss,
		NextJoinSeq:            h.nextJoinSeq,
		NextActivitySeq:        h.nextActivitySeq,
	}
}
