// Package governance drives quests through their phases. Every transition
// takes the durable pending lock, calls the ledger with a bounded timeout
// and only then moves the quest, so at most one ledger transition per quest
// is ever in flight across all service instances.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/power"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/tally"
	"github.com/stake-plus/questdao/src/types"
)

// TiePolicy decides the outcome the ledger is forced to when both options
// of a binary phase carry exactly the same power.
type TiePolicy string

const (
	// TieAffirmative resolves ties to APPROVE and SUCCESS.
	TieAffirmative TiePolicy = "affirmative"
	// TieNegative resolves ties to REJECT and ADJOURN.
	TieNegative TiePolicy = "negative"
)

type Config struct {
	TiePolicy      TiePolicy
	LedgerTimeout  time.Duration
	BettingWindow  time.Duration
	DecisionWindow time.Duration
	AnswerWindow   time.Duration
	// TxExpiry is how long an unconfirmed ledger write may stay invisible
	// on the ledger before reconciliation treats it as never landed.
	TxExpiry time.Duration
}

func (c Config) withDefaults() Config {
	if c.TiePolicy == "" {
		c.TiePolicy = TieAffirmative
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = 30 * time.Second
	}
	if c.BettingWindow <= 0 {
		c.BettingWindow = 7 * 24 * time.Hour
	}
	if c.DecisionWindow <= 0 {
		c.DecisionWindow = 3 * 24 * time.Hour
	}
	if c.AnswerWindow <= 0 {
		c.AnswerWindow = 3 * 24 * time.Hour
	}
	if c.TxExpiry <= 0 {
		c.TxExpiry = 10 * time.Minute
	}
	return c
}

// Publisher receives a domain event for every completed transition.
type Publisher interface {
	Publish(ctx context.Context, event map[string]interface{}) error
}

type Deps struct {
	Store      *store.Store
	Tally      *tally.Reconciler
	Governance ledger.ChainGovernanceClient
	Market     ledger.ChainMarketClient
	Power      power.VotingPowerSource
	Events     Publisher
	Metrics    *metrics.Collectors
	Log        logrus.FieldLogger
}

type Orchestrator struct {
	store   *store.Store
	tally   *tally.Reconciler
	gov     ledger.ChainGovernanceClient
	market  ledger.ChainMarketClient
	power   power.VotingPowerSource
	events  Publisher
	metrics *metrics.Collectors
	log     logrus.FieldLogger
	cfg     Config
	now     func() time.Time

	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

func New(d Deps, cfg Config) *Orchestrator {
	log := logging.Or(d.Log).WithField("component", "governance")
	rec := d.Tally
	if rec == nil {
		rec = tally.New(d.Store, d.Governance, d.Metrics, log)
	}
	return &Orchestrator{
		store:   d.Store,
		tally:   rec,
		gov:     d.Governance,
		market:  d.Market,
		power:   d.Power,
		events:  d.Events,
		metrics: d.Metrics,
		log:     log,
		cfg:     cfg.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
		strict:  bluemonday.StrictPolicy(),
		ugc:     bluemonday.UGCPolicy(),
	}
}

// Result is the state of a quest after a transition call.
type Result struct {
	QuestKey uint64       `json:"questKey"`
	Status   types.Status `json:"status"`
	Stage    types.Stage  `json:"stage"`
	Tx       string       `json:"tx,omitempty"`
	Forced   bool         `json:"forced,omitempty"`
	// Replayed is set when the transition had already happened and no
	// ledger call was made.
	Replayed bool `json:"replayed,omitempty"`
	// Released is set when reconciliation dropped a lock whose ledger
	// write never landed.
	Released bool `json:"released,omitempty"`
}

func resultOf(q *types.Quest, tx string) Result {
	return Result{QuestKey: q.QuestKey, Status: q.Status, Stage: q.Stage, Tx: tx}
}

// outcome is what a successful ledger call turns into locally.
type outcome struct {
	to     types.State
	tx     string
	forced bool
	fields map[string]interface{}
	// local runs in the same database transaction that completes the
	// transition.
	local func(ctx context.Context, tx *store.Store) error
}

// transition describes one locked operation.
type transition struct {
	op   types.Op
	from []types.State
	// done returns the tx of an already completed transition.
	done func(q *types.Quest) (string, bool)
	// call issues the ledger work. Only errors wrapped by o.write are
	// treated as ledger write failures; any other error releases the lock.
	call func(ctx context.Context, q *types.Quest) (outcome, error)
	// landed derives the outcome from the ledger's view of the quest, for
	// reconciliation of an unconfirmed call.
	landed func(q *types.Quest, ls ledger.QuestState) (outcome, bool)
	// abort undoes local side effects when the lock is released without
	// the transition.
	abort func(ctx context.Context, q *types.Quest)
}

// writeError marks an error returned by a ledger write.
type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// write calls a ledger write under the orchestrator's timeout and records
// its latency.
func (o *Orchestrator) write(ctx context.Context, method string, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()
	start := time.Now()
	tx, err := fn(ctx)
	o.metrics.LedgerCall(method, ledger.Classify(err).String(), time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			var le *ledger.Error
			if !errors.As(err, &le) {
				err = ledger.Ambiguous(method, "", err)
			}
		}
		return "", &writeError{err: err}
	}
	return tx, nil
}

// read calls a ledger read under the orchestrator's timeout.
func (o *Orchestrator) read(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.LedgerTimeout)
	defer cancel()
	start := time.Now()
	err := fn(ctx)
	class := "ok"
	if err != nil {
		class = "error"
	}
	o.metrics.LedgerCall(method, class, time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) run(ctx context.Context, questKey uint64, t transition) (Result, error) {
	log := o.log.WithFields(logrus.Fields{"quest_key": questKey, "op": t.op})

	q, err := o.store.GetQuest(ctx, questKey)
	if err != nil {
		return Result{}, err
	}
	if tx, ok := t.done(q); ok {
		r := resultOf(q, tx)
		r.Replayed = true
		return r, nil
	}

	q, err = o.store.AcquirePending(ctx, questKey, t.op, t.from...)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrAlreadyPending):
			o.metrics.PendingConflict(string(t.op))
		case errors.Is(err, types.ErrInvalidPhase) && q != nil:
			// another caller completed it between the read and the lock
			if tx, ok := t.done(q); ok {
				r := resultOf(q, tx)
				r.Replayed = true
				return r, nil
			}
		}
		return Result{}, err
	}

	out, err := t.call(ctx, q)
	// bookkeeping after the ledger call must not be lost to the caller's
	// cancellation
	bg := context.WithoutCancel(ctx)
	if err != nil {
		return Result{}, o.fail(bg, log, q, t, err)
	}

	if err := o.complete(bg, q, t.op, out); err != nil {
		return Result{}, err
	}
	o.metrics.Transition(string(t.op), "ok")
	log.WithFields(logrus.Fields{"tx": out.tx, "state": out.to.String(), "forced": out.forced}).Info("transition complete")
	return Result{QuestKey: questKey, Status: out.to.Status, Stage: out.to.Stage, Tx: out.tx, Forced: out.forced}, nil
}

// fail settles the lock after a failed call: released when nothing can
// have landed, kept with the partial tx otherwise.
func (o *Orchestrator) fail(ctx context.Context, log logrus.FieldLogger, q *types.Quest, t transition, err error) error {
	var we *writeError
	if !errors.As(err, &we) || ledger.Classify(we.err) == ledger.ClassRejected {
		if rerr := o.store.ReleasePending(ctx, q.QuestKey, t.op); rerr != nil {
			log.WithError(rerr).Error("release pending lock")
		}
		if t.abort != nil {
			t.abort(ctx, q)
		}
		if we == nil {
			o.metrics.Transition(string(t.op), "error")
			return fmt.Errorf("quest %d %s: %w", q.QuestKey, t.op, err)
		}
		o.metrics.Transition(string(t.op), "rejected")
		log.WithError(err).Warn("ledger rejected transition")
		return fmt.Errorf("quest %d %s: %w: %w", q.QuestKey, t.op, types.ErrLedgerRejected, we.err)
	}

	tx := ledger.PartialTx(we.err)
	if tx != "" {
		if rerr := o.store.RecordPendingTx(ctx, q.QuestKey, t.op, tx); rerr != nil {
			log.WithError(rerr).Error("record pending tx")
		}
	}
	o.metrics.Transition(string(t.op), "pending")
	log.WithError(we.err).WithField("tx", tx).Warn("ledger outcome unconfirmed, quest left pending")
	return &types.PendingError{QuestKey: q.QuestKey, Op: t.op, Tx: tx, Err: we.err}
}

// complete applies out and clears the lock in one database transaction.
func (o *Orchestrator) complete(ctx context.Context, q *types.Quest, op types.Op, out outcome) error {
	err := o.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CompleteTransition(ctx, q.QuestKey, op, out.to, out.fields); err != nil {
			return err
		}
		if out.local != nil {
			return out.local(ctx, tx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("quest %d %s: %w", q.QuestKey, op, err)
	}
	o.publish(ctx, "transition", map[string]interface{}{
		"quest_key": q.QuestKey,
		"op":        string(op),
		"from":      q.State().String(),
		"to":        out.to.String(),
		"tx":        out.tx,
		"forced":    out.forced,
	})
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, kind string, fields map[string]interface{}) {
	if o.events == nil {
		return
	}
	event := map[string]interface{}{
		"id":   uuid.NewString(),
		"type": kind,
		"at":   o.now().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		event[k] = v
	}
	if err := o.events.Publish(ctx, event); err != nil {
		o.log.WithError(err).WithField("type", kind).Warn("publish event")
	}
}

// decide picks the outcome of a binary phase. A strict lead uses the normal
// result path; equal power takes the force path with the tie policy.
func (o *Orchestrator) decide(t ledger.Tally, forOption, againstOption string) (string, bool) {
	switch {
	case t.For > t.Against:
		return forOption, false
	case t.For < t.Against:
		return againstOption, false
	}
	if o.cfg.TiePolicy == TieNegative {
		return againstOption, true
	}
	return forOption, true
}

func (o *Orchestrator) setResult(ctx context.Context, req ledger.ResultRequest, forced bool) (string, error) {
	if forced {
		return o.write(ctx, "ForceResult", func(ctx context.Context) (string, error) {
			return o.gov.ForceResult(ctx, req)
		})
	}
	return o.write(ctx, "SetResult", func(ctx context.Context) (string, error) {
		return o.gov.SetResult(ctx, req)
	})
}

func normalizeOption(option string) string {
	return strings.ToUpper(strings.TrimSpace(option))
}

func (o *Orchestrator) timeRef() *time.Time {
	t := o.now()
	return &t
}
