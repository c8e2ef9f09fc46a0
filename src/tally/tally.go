// Package tally mirrors ledger vote tallies into local vote rows. The
// ledger decides who won a binary phase; local rows are a cache used for
// reporting, audit and answer selection.
package tally

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

type Reconciler struct {
	store   *store.Store
	gov     ledger.ChainGovernanceClient
	metrics *metrics.Collectors
	log     logrus.FieldLogger
}

func New(st *store.Store, gov ledger.ChainGovernanceClient, m *metrics.Collectors, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{store: st, gov: gov, metrics: m, log: logging.Or(log).WithField("component", "tally")}
}

// RecordVote stores one phase choice for (quest, voter). A second
// submission for the same phase is a no-op and reports false.
func (r *Reconciler) RecordVote(ctx context.Context, in store.VoteInput) (bool, error) {
	if in.Phase != types.PhaseAnswer && !types.ValidOption(in.Phase, in.Option) {
		return false, fmt.Errorf("option %q for %s: %w", in.Option, in.Phase, types.ErrInvalidInput)
	}
	recorded, err := r.store.RecordVote(ctx, in)
	if err != nil {
		return false, fmt.Errorf("record %s vote of %s on quest %d: %w", in.Phase, in.Voter, in.QuestKey, err)
	}
	return recorded, nil
}

// Reconcile returns the ledger's authoritative tally for a binary phase.
func (r *Reconciler) Reconcile(ctx context.Context, questKey uint64, phase types.Phase) (ledger.Tally, error) {
	var (
		t   ledger.Tally
		err error
	)
	switch phase {
	case types.PhaseDraft:
		t, err = r.gov.FetchDraftTally(ctx, questKey)
	case types.PhaseDecision:
		t, err = r.gov.FetchDecisionTally(ctx, questKey)
	default:
		return ledger.Tally{}, fmt.Errorf("no ledger tally for %s phase: %w", phase, types.ErrInvalidInput)
	}
	if err != nil {
		return ledger.Tally{}, fmt.Errorf("fetch %s tally of quest %d: %w", phase, questKey, err)
	}
	t.Phase = phase
	return t, nil
}

// Verify compares the local per-option sums with the ledger tally.
func (r *Reconciler) Verify(ctx context.Context, questKey uint64, phase types.Phase) error {
	t, err := r.Reconcile(ctx, questKey, phase)
	if err != nil {
		return err
	}
	return r.Compare(ctx, questKey, t)
}

// Compare checks local vote rows against an already fetched tally. A
// divergence is logged, counted and returned as *types.TallyMismatchError;
// local rows are never rewritten to match.
func (r *Reconciler) Compare(ctx context.Context, questKey uint64, t ledger.Tally) error {
	local, err := r.store.SumOptionPower(ctx, questKey, t.Phase)
	if err != nil {
		return err
	}
	remote := t.Options()
	for opt, want := range remote {
		if local[opt] == want {
			continue
		}
		r.metrics.TallyMismatch(string(t.Phase))
		r.log.WithFields(logrus.Fields{
			"quest_key": questKey,
			"phase":     t.Phase,
			"local":     local,
			"ledger":    remote,
		}).Error("tally mismatch")
		return &types.TallyMismatchError{QuestKey: questKey, Phase: t.Phase, Local: local, Ledger: remote}
	}
	return nil
}

// WinningAnswer aggregates answer-phase power per answer of the quest and
// returns the answer with the highest total. Equal totals go to the lowest
// answer key.
func (r *Reconciler) WinningAnswer(ctx context.Context, questKey uint64) (uint64, uint64, error) {
	answers, err := r.store.Answers(ctx, questKey)
	if err != nil {
		return 0, 0, err
	}
	if len(answers) == 0 {
		return 0, 0, fmt.Errorf("quest %d: %w", questKey, types.ErrNoAnswers)
	}
	sums, err := r.store.SumAnswerPower(ctx, questKey)
	if err != nil {
		return 0, 0, err
	}
	valid := make(map[uint64]uint64, len(answers))
	for _, a := range answers {
		if p, ok := sums[a.AnswerKey]; ok && p > 0 {
			valid[a.AnswerKey] = p
		}
	}
	key, power, ok := pickWinner(valid)
	if !ok {
		return 0, 0, fmt.Errorf("quest %d has no answer votes: %w", questKey, types.ErrNoAnswers)
	}
	return key, power, nil
}

func pickWinner(sums map[uint64]uint64) (uint64, uint64, bool) {
	if len(sums) == 0 {
		return 0, 0, false
	}
	keys := make([]uint64, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	best := keys[0]
	for _, k := range keys[1:] {
		if sums[k] > sums[best] {
			best = k
		}
	}
	return best, sums[best], true
}
