// Package ledgertest provides an in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/types"
)

type failure struct {
	err  error
	land bool
}

// Fake implements ledger.ChainGovernanceClient and ledger.ChainMarketClient.
// Votes move its tallies, results and market calls move its quest state.
type Fake struct {
	mu       sync.Mutex
	seq      int
	draft    map[uint64]*ledger.Tally
	decision map[uint64]*ledger.Tally
	states   map[uint64]*ledger.QuestState
	bets     map[uint64]decimal.Decimal
	payouts  map[string]ledger.Payout
	paid     int
	calls    map[string]int
	failures map[string][]failure

	// Hold, when set, blocks every call except QuestState until it is
	// closed or the call's context ends.
	Hold chan struct{}
}

var (
	_ ledger.ChainGovernanceClient = (*Fake)(nil)
	_ ledger.ChainMarketClient     = (*Fake)(nil)
)

func New() *Fake {
	return &Fake{
		draft:    map[uint64]*ledger.Tally{},
		decision: map[uint64]*ledger.Tally{},
		states:   map[uint64]*ledger.QuestState{},
		bets:     map[uint64]decimal.Decimal{},
		payouts:  map[string]ledger.Payout{},
		calls:    map[string]int{},
		failures: map[string][]failure{},
	}
}

// Fail makes the next call of method return err without any effect.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], failure{err: err})
}

// LandThenFail makes the next call of method take effect and still return
// err, the way a write whose confirmation timed out behaves.
func (f *Fake) LandThenFail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = append(f.failures[method], failure{err: err, land: true})
}

// SetTally overwrites the ledger tally of a binary phase.
func (f *Fake) SetTally(questKey uint64, phase types.Phase, forPower, against uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tallies(phase)[questKey] = &ledger.Tally{Phase: phase, For: forPower, Against: against}
}

// Calls returns how many times method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Staked returns the total the ledger accepted for a quest.
func (f *Fake) Staked(questKey uint64) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bets[questKey]
}

func (f *Fake) tallies(phase types.Phase) map[uint64]*ledger.Tally {
	if phase == types.PhaseDecision {
		return f.decision
	}
	return f.draft
}

func (f *Fake) state(questKey uint64) *ledger.QuestState {
	st, ok := f.states[questKey]
	if !ok {
		st = &ledger.QuestState{}
		f.states[questKey] = st
	}
	return st
}

// call runs apply under the fake's lock unless a queued failure says
// otherwise. apply returns the effect's tx.
func (f *Fake) call(ctx context.Context, method string, apply func() string) (string, error) {
	if hold := f.Hold; hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ledger.Ambiguous(method, "", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	var fail *failure
	if q := f.failures[method]; len(q) > 0 {
		fail = &q[0]
		f.failures[method] = q[1:]
	}
	if fail != nil && !fail.land {
		return "", fail.err
	}
	f.seq++
	tx := apply()
	if tx == "" {
		tx = fmt.Sprintf("tx-%s-%d", method, f.seq)
	}
	if fail != nil {
		if ledger.Classify(fail.err) == ledger.ClassAmbiguous && ledger.PartialTx(fail.err) == "" {
			return "", ledger.Ambiguous(method, tx, fail.err)
		}
		return "", fail.err
	}
	return tx, nil
}

func (f *Fake) vote(ctx context.Context, method string, questKey uint64, phase types.Phase, forOption, option string, power uint64) (string, error) {
	return f.call(ctx, method, func() string {
		t, ok := f.tallies(phase)[questKey]
		if !ok {
			t = &ledger.Tally{Phase: phase}
			f.tallies(phase)[questKey] = t
		}
		if option == forOption {
			t.For += power
		} else {
			t.Against += power
		}
		return ""
	})
}

func (f *Fake) SubmitDraftVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error) {
	return f.vote(ctx, "SubmitDraftVote", questKey, types.PhaseDraft, types.OptionApprove, option, power)
}

func (f *Fake) SubmitDecisionVote(ctx context.Context, questKey uint64, voter, option string, power uint64) (string, error) {
	return f.vote(ctx, "SubmitDecisionVote", questKey, types.PhaseDecision, types.OptionSuccess, option, power)
}

func (f *Fake) SubmitAnswerVote(ctx context.Context, questKey uint64, voter string, answerKey, power uint64) (string, error) {
	return f.call(ctx, "SubmitAnswerVote", func() string { return "" })
}

func (f *Fake) fetch(ctx context.Context, method string, questKey uint64, phase types.Phase) (ledger.Tally, error) {
	var out ledger.Tally
	_, err := f.call(ctx, method, func() string {
		if t, ok := f.tallies(phase)[questKey]; ok {
			out = *t
		}
		out.Phase = phase
		return "read"
	})
	return out, err
}

func (f *Fake) FetchDraftTally(ctx context.Context, questKey uint64) (ledger.Tally, error) {
	return f.fetch(ctx, "FetchDraftTally", questKey, types.PhaseDraft)
}

func (f *Fake) FetchDecisionTally(ctx context.Context, questKey uint64) (ledger.Tally, error) {
	return f.fetch(ctx, "FetchDecisionTally", questKey, types.PhaseDecision)
}

func (f *Fake) result(ctx context.Context, method string, req ledger.ResultRequest) (string, error) {
	forced := method == "ForceResult"
	return f.call(ctx, method, func() string {
		st := f.state(req.QuestKey)
		switch req.Phase {
		case types.PhaseDraft:
			st.DraftResult, st.DraftForced = req.Outcome, forced
		case types.PhaseDecision:
			st.DecisionResult, st.DecisionForced = req.Outcome, forced
		case types.PhaseAnswer:
			st.AnswerKey = req.AnswerKey
		}
		st.Tx = fmt.Sprintf("tx-%s-%d", method, f.seq)
		return st.Tx
	})
}

func (f *Fake) SetResult(ctx context.Context, req ledger.ResultRequest) (string, error) {
	return f.result(ctx, "SetResult", req)
}

func (f *Fake) ForceResult(ctx context.Context, req ledger.ResultRequest) (string, error) {
	return f.result(ctx, "ForceResult", req)
}

func (f *Fake) StartDecisionWindow(ctx context.Context, questKey uint64) (string, error) {
	return f.call(ctx, "StartDecisionWindow", func() string {
		f.state(questKey).DecisionOpen = true
		return ""
	})
}

func (f *Fake) QuestState(_ context.Context, questKey uint64) (ledger.QuestState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["QuestState"]++
	if q := f.failures["QuestState"]; len(q) > 0 {
		f.failures["QuestState"] = q[1:]
		return ledger.QuestState{}, q[0].err
	}
	return *f.state(questKey), nil
}

func (f *Fake) market(ctx context.Context, method string, questKey uint64, status ledger.MarketStatus) (string, error) {
	return f.call(ctx, method, func() string {
		f.state(questKey).Market = status
		return ""
	})
}

func (f *Fake) PublishMarket(ctx context.Context, spec ledger.MarketSpec) (string, error) {
	return f.market(ctx, "PublishMarket", spec.QuestKey, ledger.MarketOpen)
}

func (f *Fake) FinishMarket(ctx context.Context, questKey uint64) (string, error) {
	return f.market(ctx, "FinishMarket", questKey, ledger.MarketFinished)
}

func (f *Fake) SuccessMarket(ctx context.Context, questKey, answerKey uint64) (string, error) {
	return f.market(ctx, "SuccessMarket", questKey, ledger.MarketSuccess)
}

func (f *Fake) AdjournMarket(ctx context.Context, questKey uint64) (string, error) {
	return f.market(ctx, "AdjournMarket", questKey, ledger.MarketAdjourned)
}

func (f *Fake) PlaceBet(ctx context.Context, bet ledger.BetRequest) (string, error) {
	return f.call(ctx, "PlaceBet", func() string {
		f.bets[bet.QuestKey] = f.bets[bet.QuestKey].Add(bet.Amount)
		return ""
	})
}

func payoutKey(questKey, answerKey uint64, wallet string) string {
	return fmt.Sprintf("%d/%d/%s", questKey, answerKey, wallet)
}

func (f *Fake) ClaimPayout(ctx context.Context, questKey, answerKey uint64, wallet string) (string, error) {
	return f.call(ctx, "ClaimPayout", func() string {
		tx := fmt.Sprintf("tx-ClaimPayout-%d", f.seq)
		f.payouts[payoutKey(questKey, answerKey, wallet)] = ledger.Payout{Paid: true, Tx: tx}
		f.paid++
		return tx
	})
}

// Paid returns how many payouts landed, counting a repeated claim twice.
func (f *Fake) Paid() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paid
}

// PayoutStatus is a read and ignores Hold, like QuestState.
func (f *Fake) PayoutStatus(_ context.Context, questKey, answerKey uint64, wallet string) (ledger.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["PayoutStatus"]++
	if q := f.failures["PayoutStatus"]; len(q) > 0 {
		f.failures["PayoutStatus"] = q[1:]
		return ledger.Payout{}, q[0].err
	}
	return f.payouts[payoutKey(questKey, answerKey, wallet)], nil
}
