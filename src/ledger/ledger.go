// Package ledger is the boundary to the on-chain governance and market
// program. The ledger holds funds and authoritative vote tallies; this
// package only describes how the service talks to it.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/types"
)

// ChainGovernanceClient submits votes and reads or sets vote results.
type ChainGovernanceClient interface {
	SubmitDraftVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error)
	SubmitDecisionVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error)
	SubmitAnswerVote(ctx context.Context, questKey uint64, voter string, answerKey, power uint64) (string, error)

	FetchDraftTally(ctx context.Context, questKey uint64) (Tally, error)
	FetchDecisionTally(ctx context.Context, questKey uint64) (Tally, error)

	SetResult(ctx context.Context, req ResultRequest) (string, error)
	ForceResult(ctx context.Context, req ResultRequest) (string, error)
	StartDecisionWindow(ctx context.Context, questKey uint64) (string, error)

	// QuestState reads what the ledger currently records for a quest. It
	// is how an unconfirmed transition is checked after the fact.
	QuestState(ctx context.Context, questKey uint64) (QuestState, error)
}

// ChainMarketClient drives the betting market of a quest.
type ChainMarketClient interface {
	PublishMarket(ctx context.Context, spec MarketSpec) (string, error)
	FinishMarket(ctx context.Context, questKey uint64) (string, error)
	SuccessMarket(ctx context.Context, questKey, answerKey uint64) (string, error)
	AdjournMarket(ctx context.Context, questKey uint64) (string, error)
	PlaceBet(ctx context.Context, bet BetRequest) (string, error)
	ClaimPayout(ctx context.Context, questKey, answerKey uint64, wallet string) (string, error)

	// PayoutStatus reads whether the ledger has paid a claim. It is how an
	// unconfirmed ClaimPayout is checked after the fact.
	PayoutStatus(ctx context.Context, questKey, answerKey uint64, wallet string) (Payout, error)
}

// Tally is the ledger's power sum for the two options of a binary phase.
// For is APPROVE or SUCCESS, Against is REJECT or ADJOURN.
type Tally struct {
	Phase   types.Phase
	For     uint64
	Against uint64
}

// Options returns the tally keyed by option name.
func (t Tally) Options() map[string]uint64 {
	switch t.Phase {
	case types.PhaseDecision:
		return map[string]uint64{types.OptionSuccess: t.For, types.OptionAdjourn: t.Against}
	default:
		return map[string]uint64{types.OptionApprove: t.For, types.OptionReject: t.Against}
	}
}

// ResultRequest asks the ledger to record the outcome of a voting phase.
// Outcome is an option name for binary phases; AnswerKey is used for the
// answer phase.
type ResultRequest struct {
	QuestKey  uint64
	Phase     types.Phase
	Outcome   string
	AnswerKey uint64
}

// MarketSpec is what the ledger needs to open a market.
type MarketSpec struct {
	QuestKey     uint64
	Creator      string
	BettingToken string
	AnswerKeys   []uint64
	CreatorFee   decimal.Decimal
	CharityFee   decimal.Decimal
	ServiceFee   decimal.Decimal
	BettingEnd   time.Time
}

type BetRequest struct {
	QuestKey  uint64
	AnswerKey uint64
	Wallet    string
	Amount    decimal.Decimal
}

type MarketStatus string

const (
	MarketNone      MarketStatus = ""
	MarketOpen      MarketStatus = "open"
	MarketFinished  MarketStatus = "finished"
	MarketSuccess   MarketStatus = "success"
	MarketAdjourned MarketStatus = "adjourned"
)

// QuestState is the ledger's view of a quest. Empty fields mean the ledger
// has not recorded that step.
type QuestState struct {
	DraftResult    string
	DraftForced    bool
	DecisionOpen   bool
	DecisionResult string
	DecisionForced bool
	AnswerKey      uint64
	Market         MarketStatus
	Tx             string
}

// Payout is the ledger's record of one claim.
type Payout struct {
	Paid bool
	Tx   string
}
