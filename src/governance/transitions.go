package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

// pastDraft reports whether a quest has left the draft phase.
func pastDraft(q *types.Quest) bool { return q.Status != types.StatusDraft }

func doneWhen(cond func(q *types.Quest) bool, tx func(q *types.Quest) string) func(q *types.Quest) (string, bool) {
	return func(q *types.Quest) (string, bool) {
		if t := tx(q); t != "" && cond(q) {
			return t, true
		}
		return "", false
	}
}

// ResolveDraft reads the ledger's draft tally and records the result:
// APPROVE when approve power is at least reject power, REJECT otherwise.
// Equal power goes through the ledger's force path.
func (o *Orchestrator) ResolveDraft(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.resolveDraft())
}

func (o *Orchestrator) resolveDraft() transition {
	return transition{
		op:   types.OpResolveDraft,
		from: []types.State{types.StateDraftOpen},
		done: doneWhen(pastDraft, func(q *types.Quest) string { return q.DraftTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			t, err := o.reconcile(ctx, q.QuestKey, types.PhaseDraft)
			if err != nil {
				return outcome{}, err
			}
			option, forced := o.decide(t, types.OptionApprove, types.OptionReject)
			tx, err := o.setResult(ctx, ledger.ResultRequest{QuestKey: q.QuestKey, Phase: types.PhaseDraft, Outcome: option}, forced)
			if err != nil {
				return outcome{}, err
			}
			out := draftOutcome(option, tx, o.timeRef())
			out.forced = forced
			out.fields["draft_forced"] = forced
			return out, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.DraftResult == "" {
				return outcome{}, false
			}
			out := draftOutcome(ls.DraftResult, txOr(ls.Tx, q.PendingTx), nil)
			out.forced = ls.DraftForced
			out.fields["draft_forced"] = ls.DraftForced
			return out, true
		},
	}
}

func draftOutcome(option, tx string, at *time.Time) outcome {
	to := types.StateApproved
	if option == types.OptionReject {
		to = types.StateRejected
	}
	fields := map[string]interface{}{"draft_tx": tx}
	if at != nil {
		fields["draft_end_at"] = at
	}
	return outcome{to: to, tx: tx, fields: fields}
}

// reconcile fetches a ledger tally and checks local rows against it. A
// mismatch is an alert; the ledger tally still decides.
func (o *Orchestrator) reconcile(ctx context.Context, questKey uint64, phase types.Phase) (ledger.Tally, error) {
	method := "FetchDraftTally"
	if phase == types.PhaseDecision {
		method = "FetchDecisionTally"
	}
	var t ledger.Tally
	err := o.read(ctx, method, func(ctx context.Context) error {
		var err error
		t, err = o.tally.Reconcile(ctx, questKey, phase)
		return err
	})
	if err != nil {
		return t, err
	}
	_ = o.tally.Compare(ctx, questKey, t)
	return t, nil
}

// Publish opens the betting market of an approved quest.
func (o *Orchestrator) Publish(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.publishMarket())
}

func (o *Orchestrator) publishMarket() transition {
	return transition{
		op:   types.OpPublish,
		from: []types.State{types.StateApproved},
		done: doneWhen(func(q *types.Quest) bool {
			return q.Status != types.StatusApprove
		}, func(q *types.Quest) string { return q.PublishTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			answers, err := o.store.Answers(ctx, q.QuestKey)
			if err != nil {
				return outcome{}, err
			}
			if len(answers) == 0 {
				return outcome{}, types.ErrNoAnswers
			}
			season, err := o.store.GetSeason(ctx, q.SeasonID)
			if err != nil {
				return outcome{}, err
			}
			keys := make([]uint64, len(answers))
			for i, a := range answers {
				keys[i] = a.AnswerKey
			}
			start := o.now()
			end := start.Add(o.cfg.BettingWindow)
			spec := ledger.MarketSpec{
				QuestKey:     q.QuestKey,
				Creator:      q.Creator,
				BettingToken: q.BettingToken,
				AnswerKeys:   keys,
				CreatorFee:   season.CreatorFee,
				CharityFee:   season.CharityFee,
				ServiceFee:   season.ServiceFee,
				BettingEnd:   end,
			}
			tx, err := o.write(ctx, "PublishMarket", func(ctx context.Context) (string, error) {
				return o.market.PublishMarket(ctx, spec)
			})
			if err != nil {
				return outcome{}, err
			}
			return outcome{to: types.StateBettingOpen, tx: tx, fields: map[string]interface{}{
				"publish_tx":       tx,
				"betting_start_at": start,
				"betting_end_at":   end,
			}}, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.Market == ledger.MarketNone {
				return outcome{}, false
			}
			tx := txOr(ls.Tx, q.PendingTx)
			return outcome{to: types.StateBettingOpen, tx: tx, fields: map[string]interface{}{"publish_tx": tx}}, true
		},
	}
}

// Finish closes betting once the betting window has passed.
func (o *Orchestrator) Finish(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.finishMarket())
}

func (o *Orchestrator) finishMarket() transition {
	return transition{
		op:   types.OpFinish,
		from: []types.State{types.StateBettingOpen},
		done: doneWhen(func(q *types.Quest) bool {
			return q.Status != types.StatusPublish
		}, func(q *types.Quest) string { return q.FinishTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			if q.BettingEndAt != nil && o.now().Before(*q.BettingEndAt) {
				return outcome{}, fmt.Errorf("betting open until %s: %w", q.BettingEndAt.Format("2006-01-02 15:04:05"), types.ErrInvalidPhase)
			}
			tx, err := o.write(ctx, "FinishMarket", func(ctx context.Context) (string, error) {
				return o.market.FinishMarket(ctx, q.QuestKey)
			})
			if err != nil {
				return outcome{}, err
			}
			return outcome{to: types.StateAwaitingDecision, tx: tx, fields: map[string]interface{}{"finish_tx": tx}}, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			switch ls.Market {
			case ledger.MarketFinished, ledger.MarketSuccess, ledger.MarketAdjourned:
				tx := txOr(ls.Tx, q.PendingTx)
				return outcome{to: types.StateAwaitingDecision, tx: tx, fields: map[string]interface{}{"finish_tx": tx}}, true
			}
			return outcome{}, false
		},
	}
}

// StartDecision opens the decision voting window.
func (o *Orchestrator) StartDecision(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.startDecision())
}

func (o *Orchestrator) startDecision() transition {
	return transition{
		op:   types.OpStartDecision,
		from: []types.State{types.StateAwaitingDecision},
		done: doneWhen(func(q *types.Quest) bool {
			return q.State() != types.StateAwaitingDecision && q.Status != types.StatusPublish
		}, func(q *types.Quest) string { return q.DecisionStartTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			tx, err := o.write(ctx, "StartDecisionWindow", func(ctx context.Context) (string, error) {
				return o.gov.StartDecisionWindow(ctx, q.QuestKey)
			})
			if err != nil {
				return outcome{}, err
			}
			start := o.now()
			return outcome{to: types.StateDecisionOpen, tx: tx, fields: map[string]interface{}{
				"decision_start_tx": tx,
				"decision_start_at": start,
				"decision_end_at":   start.Add(o.cfg.DecisionWindow),
			}}, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if !ls.DecisionOpen && ls.DecisionResult == "" {
				return outcome{}, false
			}
			tx := txOr(ls.Tx, q.PendingTx)
			return outcome{to: types.StateDecisionOpen, tx: tx, fields: map[string]interface{}{"decision_start_tx": tx}}, true
		},
	}
}

// ResolveDecision records the decision result: DAO_SUCCESS when success
// power is at least adjourn power, ADJOURN otherwise.
func (o *Orchestrator) ResolveDecision(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.resolveDecision())
}

func (o *Orchestrator) resolveDecision() transition {
	return transition{
		op:   types.OpResolveDecision,
		from: []types.State{types.StateDecisionOpen},
		done: doneWhen(func(q *types.Quest) bool {
			return q.Status == types.StatusDAOSuccess || q.Status == types.StatusAdjourn || q.Status == types.StatusMarketSuccess
		}, func(q *types.Quest) string { return q.DecisionTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			t, err := o.reconcile(ctx, q.QuestKey, types.PhaseDecision)
			if err != nil {
				return outcome{}, err
			}
			option, forced := o.decide(t, types.OptionSuccess, types.OptionAdjourn)
			tx, err := o.setResult(ctx, ledger.ResultRequest{QuestKey: q.QuestKey, Phase: types.PhaseDecision, Outcome: option}, forced)
			if err != nil {
				return outcome{}, err
			}
			out := o.decisionOutcome(option, tx)
			out.forced = forced
			out.fields["decision_forced"] = forced
			out.fields["decision_end_at"] = o.now()
			return out, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.DecisionResult == "" {
				return outcome{}, false
			}
			out := o.decisionOutcome(ls.DecisionResult, txOr(ls.Tx, q.PendingTx))
			out.forced = ls.DecisionForced
			out.fields["decision_forced"] = ls.DecisionForced
			return out, true
		},
	}
}

func (o *Orchestrator) decisionOutcome(option, tx string) outcome {
	if option == types.OptionAdjourn {
		return outcome{to: types.StateRefundPending, tx: tx, fields: map[string]interface{}{"decision_tx": tx}}
	}
	start := o.now()
	return outcome{to: types.StateAnswerOpen, tx: tx, fields: map[string]interface{}{
		"decision_tx":     tx,
		"answer_start_at": start,
		"answer_end_at":   start.Add(o.cfg.AnswerWindow),
	}}
}

// ResolveAnswer selects the answer with the most answer-phase power and
// records it on the ledger.
func (o *Orchestrator) ResolveAnswer(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.resolveAnswer())
}

func (o *Orchestrator) resolveAnswer() transition {
	return transition{
		op:   types.OpResolveAnswer,
		from: []types.State{types.StateAnswerOpen},
		done: doneWhen(func(q *types.Quest) bool {
			return q.State() == types.StateAnswerSelected || q.Status == types.StatusMarketSuccess
		}, func(q *types.Quest) string { return q.AnswerTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			winner, _, err := o.tally.WinningAnswer(ctx, q.QuestKey)
			if err != nil {
				return outcome{}, err
			}
			if err := o.store.SetAnswerPending(ctx, winner, true); err != nil {
				return outcome{}, err
			}
			tx, err := o.setResult(ctx, ledger.ResultRequest{QuestKey: q.QuestKey, Phase: types.PhaseAnswer, AnswerKey: winner}, false)
			if err != nil {
				return outcome{}, err
			}
			out := answerOutcome(q.QuestKey, winner, tx)
			out.fields["answer_end_at"] = o.now()
			return out, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.AnswerKey == 0 {
				return outcome{}, false
			}
			return answerOutcome(q.QuestKey, ls.AnswerKey, txOr(ls.Tx, q.PendingTx)), true
		},
		abort: func(ctx context.Context, q *types.Quest) {
			if err := o.store.ClearAnswerPending(ctx, q.QuestKey); err != nil {
				o.log.WithError(err).WithField("quest_key", q.QuestKey).Error("clear answer pending")
			}
		},
	}
}

func answerOutcome(questKey, answerKey uint64, tx string) outcome {
	return outcome{
		to:     types.StateAnswerSelected,
		tx:     tx,
		fields: map[string]interface{}{"answer_tx": tx},
		local: func(ctx context.Context, st *store.Store) error {
			return st.SelectAnswer(ctx, questKey, answerKey)
		},
	}
}

// SettleMarket tells the ledger the selected answer won. The quest becomes
// MARKET_SUCCESS and eligible for reward settlement.
func (o *Orchestrator) SettleMarket(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.settleMarket())
}

func (o *Orchestrator) settleMarket() transition {
	return transition{
		op:   types.OpSettleMarket,
		from: []types.State{types.StateAnswerSelected},
		done: doneWhen(func(q *types.Quest) bool {
			return q.Status == types.StatusMarketSuccess
		}, func(q *types.Quest) string { return q.SuccessTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			selected, err := o.store.SelectedAnswer(ctx, q.QuestKey)
			if err != nil {
				return outcome{}, err
			}
			tx, err := o.write(ctx, "SuccessMarket", func(ctx context.Context) (string, error) {
				return o.market.SuccessMarket(ctx, q.QuestKey, selected.AnswerKey)
			})
			if err != nil {
				return outcome{}, err
			}
			return outcome{to: types.StateMarketSuccess, tx: tx, fields: map[string]interface{}{"success_tx": tx}}, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.Market != ledger.MarketSuccess {
				return outcome{}, false
			}
			tx := txOr(ls.Tx, q.PendingTx)
			return outcome{to: types.StateMarketSuccess, tx: tx, fields: map[string]interface{}{"success_tx": tx}}, true
		},
	}
}

// Refund adjourns the market so the ledger returns every stake.
func (o *Orchestrator) Refund(ctx context.Context, questKey uint64) (Result, error) {
	return o.run(ctx, questKey, o.refund())
}

func (o *Orchestrator) refund() transition {
	return transition{
		op:   types.OpRefund,
		from: []types.State{types.StateRefundPending},
		done: doneWhen(func(q *types.Quest) bool {
			return q.State() == types.StateRefunded
		}, func(q *types.Quest) string { return q.AdjournTx }),
		call: func(ctx context.Context, q *types.Quest) (outcome, error) {
			tx, err := o.write(ctx, "AdjournMarket", func(ctx context.Context) (string, error) {
				return o.market.AdjournMarket(ctx, q.QuestKey)
			})
			if err != nil {
				return outcome{}, err
			}
			return outcome{to: types.StateRefunded, tx: tx, fields: map[string]interface{}{"adjourn_tx": tx}}, nil
		},
		landed: func(q *types.Quest, ls ledger.QuestState) (outcome, bool) {
			if ls.Market != ledger.MarketAdjourned {
				return outcome{}, false
			}
			tx := txOr(ls.Tx, q.PendingTx)
			return outcome{to: types.StateRefunded, tx: tx, fields: map[string]interface{}{"adjourn_tx": tx}}, true
		},
	}
}

// transitionFor maps a pending op back to its definition.
func (o *Orchestrator) transitionFor(op types.Op) (transition, bool) {
	switch op {
	case types.OpResolveDraft:
		return o.resolveDraft(), true
	case types.OpPublish:
		return o.publishMarket(), true
	case types.OpFinish:
		return o.finishMarket(), true
	case types.OpStartDecision:
		return o.startDecision(), true
	case types.OpResolveDecision:
		return o.resolveDecision(), true
	case types.OpResolveAnswer:
		return o.resolveAnswer(), true
	case types.OpSettleMarket:
		return o.settleMarket(), true
	case types.OpRefund:
		return o.refund(), true
	}
	return transition{}, false
}

func txOr(tx, fallback string) string {
	if tx != "" {
		return tx
	}
	return fallback
}
