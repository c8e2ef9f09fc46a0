// Package sweep runs the periodic batch jobs: settling resolved quests,
// paying out their rewards, reconciling quests and claims stuck behind an
// unconfirmed ledger write, and checking open tallies against the ledger.
package sweep

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/settlement"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/tally"
	"github.com/stake-plus/questdao/src/types"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Concurrency bounds how many quests are settled, or rewards paid, at
	// once.
	Concurrency int
	// PendingMinAge skips locks younger than this, leaving them to the
	// request that took them.
	PendingMinAge time.Duration
	// BatchSize caps the quests settled per run and the rewards read per
	// page. Zero means no cap.
	BatchSize int
}

type Sweeper struct {
	store  *store.Store
	gov    *governance.Orchestrator
	settle *settlement.Engine
	tally  *tally.Reconciler
	log    logrus.FieldLogger
	cfg    Config
	now    func() time.Time

	running sync.Mutex
}

func New(st *store.Store, gov *governance.Orchestrator, settle *settlement.Engine, rec *tally.Reconciler, log logrus.FieldLogger, cfg Config) *Sweeper {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Sweeper{
		store:  st,
		gov:    gov,
		settle: settle,
		tally:  rec,
		log:    logging.Or(log).WithField("component", "sweep"),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Report counts what one sweep did.
type Report struct {
	Settled    int `json:"settled"`
	Paid       int `json:"paid"`
	Reconciled int `json:"reconciled"`
	Released   int `json:"released"`
	Waiting    int `json:"waiting"`
	Verified   int `json:"verified"`
	Mismatches int `json:"mismatches"`
	Failed     int `json:"failed"`
}

func (r *Report) add(o Report) {
	r.Settled += o.Settled
	r.Paid += o.Paid
	r.Reconciled += o.Reconciled
	r.Released += o.Released
	r.Waiting += o.Waiting
	r.Verified += o.Verified
	r.Mismatches += o.Mismatches
	r.Failed += o.Failed
}

// SettleAll settles every resolved quest whose rewards are not computed
// yet. Failures are logged and left for the next run.
func (s *Sweeper) SettleAll(ctx context.Context) (Report, error) {
	quests, err := s.store.ListSettleable(ctx, s.cfg.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var settled, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, q := range quests {
		key := q.QuestKey
		g.Go(func() error {
			_, err := s.settle.Settle(gctx, key)
			switch {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, types.ErrSettlementAlreadyDone):
			default:
				failed.Add(1)
				s.log.WithError(err).WithField("quest_key", key).Warn("settlement sweep failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	return Report{Settled: int(settled.Load()), Failed: int(failed.Load())}, nil
}

// DistributeAll pays out every unclaimed reward that no claim holds,
// page by page. Each payout takes the reward's claim lock, so a reward is
// never paid twice. Unconfirmed payouts are counted as waiting and left to
// reconciliation.
func (s *Sweeper) DistributeAll(ctx context.Context) (Report, error) {
	var (
		paid, waiting, failed atomic.Int64
		after                 uint64
	)
	for {
		page, err := s.store.UnclaimedRewards(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return Report{}, err
		}
		if len(page) == 0 {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, r := range page {
			key := r.RewardKey
			g.Go(func() error {
				_, err := s.settle.ClaimReward(gctx, key)
				switch {
				case err == nil:
					paid.Add(1)
				case errors.Is(err, types.ErrLedgerTimeout):
					waiting.Add(1)
				case errors.Is(err, types.ErrSettlementAlreadyDone), errors.Is(err, types.ErrAlreadyPending):
				default:
					failed.Add(1)
					s.log.WithError(err).WithField("reward_key", key).Warn("payout sweep failed")
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Report{}, err
		}
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		after = page[len(page)-1].RewardKey
		if s.cfg.BatchSize <= 0 {
			break
		}
	}
	return Report{Paid: int(paid.Load()), Waiting: int(waiting.Load()), Failed: int(failed.Load())}, nil
}

// ReconcileAllPending reconciles every quest and every reward claim whose
// lock is older than PendingMinAge.
func (s *Sweeper) ReconcileAllPending(ctx context.Context) (Report, error) {
	olderThan := s.now().Add(-s.cfg.PendingMinAge)
	quests, err := s.store.ListPending(ctx, olderThan)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	for _, q := range quests {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		log := s.log.WithFields(logrus.Fields{"quest_key": q.QuestKey, "op": q.PendingOp})
		res, err := s.gov.ReconcilePending(ctx, q.QuestKey)
		switch {
		case err == nil && res.Released:
			rep.Released++
		case err == nil:
			rep.Reconciled++
		case errors.Is(err, types.ErrNotPending):
		case errors.Is(err, types.ErrLedgerTimeout):
			rep.Waiting++
		default:
			rep.Failed++
			log.WithError(err).Warn("pending reconciliation failed")
		}
	}

	claims, err := s.store.ListPendingClaims(ctx, olderThan)
	if err != nil {
		return rep, err
	}
	for _, c := range claims {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		r, err := s.settle.ReconcileClaim(ctx, c.RewardKey)
		switch {
		case err == nil && r.Claimed:
			rep.Reconciled++
		case err == nil:
			rep.Released++
		case errors.Is(err, types.ErrNotPending), errors.Is(err, types.ErrSettlementAlreadyDone):
		case errors.Is(err, types.ErrLedgerTimeout):
			rep.Waiting++
		default:
			rep.Failed++
			s.log.WithError(err).WithField("reward_key", c.RewardKey).Warn("claim reconciliation failed")
		}
	}
	return rep, nil
}

// VerifyAll compares the local tally of every open draft and decision vote
// with the ledger. Mismatches are reported, never corrected.
func (s *Sweeper) VerifyAll(ctx context.Context) (Report, error) {
	quests, err := s.store.ListInStates(ctx, types.StateDraftOpen, types.StateDecisionOpen)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	for _, q := range quests {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		phase := types.PhaseDraft
		if q.State() == types.StateDecisionOpen {
			phase = types.PhaseDecision
		}
		err := s.tally.Verify(ctx, q.QuestKey, phase)
		switch {
		case err == nil:
			rep.Verified++
		case errors.Is(err, types.ErrTallyMismatch):
			rep.Mismatches++
		default:
			rep.Failed++
			s.log.WithError(err).WithField("quest_key", q.QuestKey).Warn("tally verification failed")
		}
	}
	return rep, nil
}

// RunOnce runs every sweep in order. A run that starts while another is
// still going is skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.TryLock() {
		s.log.Debug("previous sweep still running, skipping")
		return Report{}, nil
	}
	defer s.running.Unlock()

	var total Report
	for _, step := range []struct {
		name string
		fn   func(context.Context) (Report, error)
	}{
		{"reconcile", s.ReconcileAllPending},
		{"verify", s.VerifyAll},
		{"settle", s.SettleAll},
		{"distribute", s.DistributeAll},
	} {
		rep, err := step.fn(ctx)
		total.add(rep)
		if err != nil {
			return total, err
		}
		s.log.WithField("step", step.name).WithFields(logrus.Fields{
			"settled":    rep.Settled,
			"paid":       rep.Paid,
			"reconciled": rep.Reconciled,
			"released":   rep.Released,
			"waiting":    rep.Waiting,
			"mismatches": rep.Mismatches,
			"failed":     rep.Failed,
		}).Debug("sweep step done")
	}
	return total, nil
}

// Run triggers RunOnce on schedule until ctx is cancelled. schedule is a
// robfig/cron spec such as "@every 1m" or "0 */5 * * * *".
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("sweep failed")
		}
	})
	if err != nil {
		return err
	}
	s.log.WithField("schedule", schedule).Info("sweeper started")
	c.Start()
	<-ctx.Done()
	c.Stop()

	// wait for an in-flight run to finish
	s.running.Lock()
	s.running.Unlock()
	s.log.Info("sweeper stopped")
	return nil
}
