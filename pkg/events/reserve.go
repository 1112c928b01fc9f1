// Package events defines the notification payloads the reserve publishes for
// indexers and UIs.
package events

import "time"

// Event type names as they appear in the outbox and Kafka headers.
const (
	TypeReserveInitialized     = "reserve.initialized"
	TypeMinimumContributionSet = "reserve.minimum_contribution_set"
	TypeAdminTransferred       = "reserve.admin_transferred"
	TypeParticipantJoined      = "participant.joined"
	TypeParticipantExited      = "participant.exited"
	TypeCapitalDeposited       = "capital.deposited"
	TypeCapitalWithdrawn       = "capital.withdrawn"
	TypeActivityProposed       = "activity.proposed"
	TypeActivityApproved       = "activity.approved"
	TypeActivityRejected       = "activity.rejected"
	TypeActivityCompleted      = "activity.completed"
	TypeProfitDistributed      = "distribution.profit"
	TypeLossDistributed        = "distribution.loss"
	TypeProfitSharePaid        = "distribution.profit_paid"
	TypeLossShareDeducted      = "distribution.loss_deducted"
)

// ReserveInitialized is emitted once when the reserve is bootstrapped.
type ReserveInitialized struct {
	Admin                  string    `json:"admin"`
	MinCapitalContribution uint64    `json:"min_capital_contribution"`
	MaxParticipants        int       `json:"max_participants"`
	OccurredAt             time.Time `json:"occurred_at"`
}

// MinimumContributionSet records a change of the join minimum.
type MinimumContributionSet struct {
	Previous   uint64    `json:"previous"`
	Value      uint64    `json:"value"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AdminTransferred records a change of the reserve admin.
type AdminTransferred struct {
	Previous   string    `json:"previous"`
	Admin      string    `json:"admin"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ParticipantJoined is emitted on join, including re-joins after exit.
type ParticipantJoined struct {
	Identity           string    `json:"identity"`
	CapitalContributed uint64    `json:"capital_contributed"`
	Rejoined           bool      `json:"rejoined"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ParticipantExited carries what was paid out on exit.
type ParticipantExited struct {
	Identity        string    `json:"identity"`
	CapitalReturned uint64    `json:"capital_returned"`
	ProfitPaid      uint64    `json:"profit_paid"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// CapitalDeposited is emitted for top-ups by an active participant.
type CapitalDeposited struct {
	Identity           string    `json:"identity"`
	Amount             uint64    `json:"amount"`
	CapitalContributed uint64    `json:"capital_contributed"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// CapitalWithdrawn is emitted for partial withdrawals.
type CapitalWithdrawn struct {
	Identity           string    `json:"identity"`
	Amount             uint64    `json:"amount"`
	CapitalContributed uint64    `json:"capital_contributed"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// ActivityProposed is emitted when an activity enters the Proposed state.
type ActivityProposed struct {
	ActivityID      string    `json:"activity_id"`
	Initiator       string    `json:"initiator"`
	CapitalRequired uint64    `json:"capital_required"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ActivityApproved is emitted once capital is locked for the activity.
type ActivityApproved struct {
	ActivityID      string    `json:"activity_id"`
	CapitalDeployed uint64    `json:"capital_deployed"`
	TotalCapital    uint64    `json:"total_capital"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ActivityRejected is emitted when a proposal is turned down.
type ActivityRejected struct {
	ActivityID string    `json:"activity_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActivityCompleted closes an activity. It is emitted after every share event
// of the same distribution pass.
type ActivityCompleted struct {
	ActivityID      string    `json:"activity_id"`
	Initiator       string    `json:"initiator"`
	Outcome         int64     `json:"outcome"`
	CapitalReturned uint64    `json:"capital_returned"`
	IsValidated     bool      `json:"is_validated"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// ProfitDistributed summarises one profit distribution pass.
type ProfitDistributed struct {
	ActivityID  string    `json:"activity_id"`
	Profit      uint64    `json:"profit"`
	Distributed uint64    `json:"distributed"`
	Retained    uint64    `json:"retained"`
	Basis       uint64    `json:"basis"`
	Recipients  int       `json:"recipients"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// LossDistributed summarises one loss distribution pass.
type LossDistributed struct {
	ActivityID   string    `json:"activity_id"`
	Loss         uint64    `json:"loss"`
	Deducted     uint64    `json:"deducted"`
	Shortfall    uint64    `json:"shortfall"`
	Basis        uint64    `json:"basis"`
	Participants int       `json:"participants"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ProfitSharePaid is one participant's profit share.
type ProfitSharePaid struct {
	ActivityID string    `json:"activity_id"`
	Identity   string    `json:"identity"`
	Amount     uint64    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// LossShareDeducted is one participant's loss share after clamping.
type LossShareDeducted struct {
	ActivityID         string    `json:"activity_id"`
	Identity           string    `json:"identity"`
	Amount             uint64    `json:"amount"`
	Clamped            bool      `json:"clamped"`
	CapitalContributed uint64    `json:"capital_contributed"`
	OccurredAt         time.Time `json:"occurred_at"`
}
