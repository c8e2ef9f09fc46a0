package types

// Status is the coarse lifecycle position of a quest.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusApprove       Status = "APPROVE"
	StatusReject        Status = "REJECT"
	StatusPublish       Status = "PUBLISH"
	StatusFinish        Status = "FINISH"
	StatusDAOSuccess    Status = "DAO_SUCCESS"
	StatusAdjourn       Status = "ADJOURN"
	StatusMarketSuccess Status = "MARKET_SUCCESS"
)

// Terminal reports whether no further phase transition can leave s.
// ADJOURN still accepts a refund, which only moves its stage.
func (s Status) Terminal() bool {
	switch s {
	case StatusReject, StatusAdjourn, StatusMarketSuccess:
		return true
	}
	return false
}

// Stage is the explicit sub-state inside a status. Transitions are matched
// on the (Status, Stage) pair.
type Stage string

const (
	StageDraftOpen        Stage = "draft_open"
	StageApproved         Stage = "approved"
	StageRejected         Stage = "rejected"
	StageBettingOpen      Stage = "betting_open"
	StageAwaitingDecision Stage = "awaiting_decision"
	StageDecisionOpen     Stage = "decision_open"
	StageAnswerOpen       Stage = "answer_open"
	StageAnswerSelected   Stage = "answer_selected"
	StageRefundPending    Stage = "refund_pending"
	StageRefunded         Stage = "refunded"
	StageSettled          Stage = "settled"
)

// State pairs a status with its stage.
type State struct {
	Status Status
	Stage  Stage
}

func (s State) String() string { return string(s.Status) + "/" + string(s.Stage) }

var (
	StateDraftOpen        = State{StatusDraft, StageDraftOpen}
	StateApproved         = State{StatusApprove, StageApproved}
	StateRejected         = State{StatusReject, StageRejected}
	StateBettingOpen      = State{StatusPublish, StageBettingOpen}
	StateAwaitingDecision = State{StatusFinish, StageAwaitingDecision}
	StateDecisionOpen     = State{StatusFinish, StageDecisionOpen}
	StateAnswerOpen       = State{StatusDAOSuccess, StageAnswerOpen}
	StateAnswerSelected   = State{StatusDAOSuccess, StageAnswerSelected}
	StateRefundPending    = State{StatusAdjourn, StageRefundPending}
	StateRefunded         = State{StatusAdjourn, StageRefunded}
	StateMarketSuccess    = State{StatusMarketSuccess, StageSettled}
)

// Op names a state-changing operation. Every Op up to OpRefund is guarded
// by the pending lock; vote and bet submissions are not.
type Op string

const (
	OpResolveDraft    Op = "resolve_draft"
	OpPublish         Op = "publish"
	OpFinish          Op = "finish"
	OpStartDecision   Op = "start_decision"
	OpResolveDecision Op = "resolve_decision"
	OpResolveAnswer   Op = "resolve_answer"
	OpSettleMarket    Op = "settle_market"
	OpRefund          Op = "refund"

	OpSubmitVote  Op = "submit_vote"
	OpPlaceBet    Op = "place_bet"
	OpClaimPayout Op = "claim_payout"
)

// Phase is a voting round.
type Phase string

const (
	PhaseDraft    Phase = "draft"
	PhaseDecision Phase = "decision"
	PhaseAnswer   Phase = "answer"
)

// Vote options. Draft votes use APPROVE/REJECT, decision votes SUCCESS/ADJOURN.
const (
	OptionApprove = "APPROVE"
	OptionReject  = "REJECT"
	OptionSuccess = "SUCCESS"
	OptionAdjourn = "ADJOURN"
)

// ValidOption reports whether option is a legal choice for a binary phase.
func ValidOption(phase Phase, option string) bool {
	switch phase {
	case PhaseDraft:
		return option == OptionApprove || option == OptionReject
	case PhaseDecision:
		return option == OptionSuccess || option == OptionAdjourn
	}
	return false
}

type BettingStatus string

const (
	BettingPending   BettingStatus = "pending"
	BettingConfirmed BettingStatus = "confirmed"
)

type RewardType string

const (
	RewardBetting RewardType = "bettingReward"
	RewardCreator RewardType = "creatorReward"
	RewardCharity RewardType = "charityReward"
	RewardService RewardType = "serviceReward"
)
