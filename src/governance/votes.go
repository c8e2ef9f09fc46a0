package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

// VoteRequest is one voter's choice in one phase. Option is used in the
// draft and decision phases, AnswerKey in the answer phase.
type VoteRequest struct {
	QuestKey  uint64
	Voter     string
	Option    string
	AnswerKey uint64
}

type VoteResult struct {
	QuestKey uint64      `json:"questKey"`
	Voter    string      `json:"voter"`
	Phase    types.Phase `json:"phase"`
	Power    uint64      `json:"power"`
	Tx       string      `json:"tx,omitempty"`
	// Recorded is false when the voter had already voted in this phase.
	Recorded bool `json:"recorded"`
}

// CastDraftVote records an APPROVE or REJECT vote on a draft quest.
func (o *Orchestrator) CastDraftVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	return o.castVote(ctx, types.PhaseDraft, types.StateDraftOpen, req)
}

// CastDecisionVote records a SUCCESS or ADJOURN vote while the decision
// window is open.
func (o *Orchestrator) CastDecisionVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	return o.castVote(ctx, types.PhaseDecision, types.StateDecisionOpen, req)
}

// CastAnswerVote records a vote for one of the quest's answers.
func (o *Orchestrator) CastAnswerVote(ctx context.Context, req VoteRequest) (VoteResult, error) {
	return o.castVote(ctx, types.PhaseAnswer, types.StateAnswerOpen, req)
}

// previousChoice returns the tx and power of the voter's recorded vote in
// phase, if any.
func previousChoice(v *types.Vote, phase types.Phase) (string, uint64, bool) {
	switch phase {
	case types.PhaseDraft:
		return v.DraftTx, v.DraftPower, v.DraftOption != nil
	case types.PhaseDecision:
		return v.DecisionTx, v.DecisionPower, v.DecisionOption != nil
	}
	return v.AnswerTx, v.AnswerPower, v.AnswerKey != nil
}

func (o *Orchestrator) castVote(ctx context.Context, phase types.Phase, open types.State, req VoteRequest) (VoteResult, error) {
	res := VoteResult{QuestKey: req.QuestKey, Voter: req.Voter, Phase: phase}
	if !ValidWallet(req.Voter) {
		return res, invalid(fmt.Errorf("voter %q is not a wallet address", req.Voter))
	}
	req.Option = normalizeOption(req.Option)
	if phase != types.PhaseAnswer && !types.ValidOption(phase, req.Option) {
		return res, invalid(fmt.Errorf("option %q is not valid for the %s phase", req.Option, phase))
	}

	q, err := o.store.GetQuest(ctx, req.QuestKey)
	if err != nil {
		return res, err
	}
	if q.State() != open {
		return res, fmt.Errorf("quest %d is %s, %s voting closed: %w", q.QuestKey, q.State(), phase, types.ErrInvalidPhase)
	}
	if q.Pending {
		return res, fmt.Errorf("quest %d (%s in flight): %w", q.QuestKey, q.PendingOp, types.ErrAlreadyPending)
	}
	if phase == types.PhaseAnswer {
		a, err := o.store.GetAnswer(ctx, req.AnswerKey)
		if err != nil {
			return res, err
		}
		if a.QuestKey != q.QuestKey {
			return res, invalid(fmt.Errorf("answer %d does not belong to quest %d", req.AnswerKey, q.QuestKey))
		}
	}

	prev, err := o.store.GetVote(ctx, req.QuestKey, req.Voter)
	switch {
	case err == nil:
		if tx, pw, voted := previousChoice(prev, phase); voted {
			res.Power, res.Tx = pw, tx
			return res, nil
		}
	case !errors.Is(err, types.ErrNotFound):
		return res, err
	}

	var pw uint64
	err = o.read(ctx, "PowerOf", func(ctx context.Context) error {
		var err error
		pw, err = o.power.PowerOf(ctx, req.Voter)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("voting power of %s: %w", req.Voter, err)
	}
	if pw == 0 {
		return res, fmt.Errorf("%s: %w", req.Voter, types.ErrNotEligible)
	}
	res.Power = pw

	log := o.log.WithFields(logrus.Fields{"quest_key": req.QuestKey, "voter": req.Voter, "phase": phase})
	tx, err := o.submitVote(ctx, phase, req, pw)
	if err != nil {
		var we *writeError
		if errors.As(err, &we) && ledger.Classify(we.err) == ledger.ClassRejected {
			log.WithError(we.err).Warn("ledger rejected vote")
			return res, fmt.Errorf("%s vote on quest %d: %w: %w", phase, req.QuestKey, types.ErrLedgerRejected, we.err)
		}
		// not recorded locally: a later verification flags the
		// difference if the vote did land
		ptx := ledger.PartialTx(err)
		log.WithError(err).WithField("tx", ptx).Warn("vote outcome unconfirmed")
		return res, &types.PendingError{QuestKey: req.QuestKey, Op: types.OpSubmitVote, Tx: ptx, Err: err}
	}
	res.Tx = tx

	recorded, err := o.tally.RecordVote(context.WithoutCancel(ctx), store.VoteInput{
		QuestKey:  req.QuestKey,
		Voter:     req.Voter,
		Phase:     phase,
		Option:    req.Option,
		AnswerKey: req.AnswerKey,
		Power:     pw,
		Tx:        tx,
	})
	if err != nil {
		return res, err
	}
	res.Recorded = recorded
	log.WithField("tx", tx).Debug("vote recorded")
	return res, nil
}

func (o *Orchestrator) submitVote(ctx context.Context, phase types.Phase, req VoteRequest, pw uint64) (string, error) {
	switch phase {
	case types.PhaseDraft:
		return o.write(ctx, "SubmitDraftVote", func(ctx context.Context) (string, error) {
			return o.gov.SubmitDraftVote(ctx, req.QuestKey, req.Voter, req.Option, pw)
		})
	case types.PhaseDecision:
		return o.write(ctx, "SubmitDecisionVote", func(ctx context.Context) (string, error) {
			return o.gov.SubmitDecisionVote(ctx, req.QuestKey, req.Voter, req.Option, pw)
		})
	}
	return o.write(ctx, "SubmitAnswerVote", func(ctx context.Context) (string, error) {
		return o.gov.SubmitAnswerVote(ctx, req.QuestKey, req.Voter, req.AnswerKey, pw)
	})
}
