package governance

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/types"
)

// ReconcilePending resolves a quest left pending by an unconfirmed ledger
// write. If the ledger shows the write landed, the transition completes,
// at most once even with concurrent reconcilers. If it did not land and
// the write is older than the tx expiry, the lock is released and the
// quest keeps its state. Otherwise the quest stays pending.
func (o *Orchestrator) ReconcilePending(ctx context.Context, questKey uint64) (Result, error) {
	q, err := o.store.GetQuest(ctx, questKey)
	if err != nil {
		return Result{}, err
	}
	if !q.Pending {
		return Result{}, fmt.Errorf("quest %d: %w", questKey, types.ErrNotPending)
	}
	t, ok := o.transitionFor(q.PendingOp)
	if !ok {
		return Result{}, fmt.Errorf("quest %d pending op %q unknown: %w", questKey, q.PendingOp, types.ErrInvalidInput)
	}
	log := o.log.WithFields(logrus.Fields{"quest_key": questKey, "op": q.PendingOp, "tx": q.PendingTx})

	var ls ledger.QuestState
	err = o.read(ctx, "QuestState", func(ctx context.Context) error {
		var err error
		ls, err = o.gov.QuestState(ctx, questKey)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("quest %d ledger state: %w", questKey, err)
	}

	if out, landed := t.landed(q, ls); landed {
		if err := o.complete(ctx, q, t.op, out); err != nil {
			return Result{}, err
		}
		o.metrics.Transition(string(t.op), "reconciled")
		log.WithField("state", out.to.String()).Info("unconfirmed transition landed")
		return Result{QuestKey: questKey, Status: out.to.Status, Stage: out.to.Stage, Tx: out.tx, Forced: out.forced}, nil
	}

	if q.PendingSince != nil && o.now().Sub(*q.PendingSince) >= o.cfg.TxExpiry {
		if err := o.store.ReleasePending(ctx, questKey, t.op); err != nil {
			return Result{}, err
		}
		if t.abort != nil {
			t.abort(ctx, q)
		}
		o.metrics.Transition(string(t.op), "expired")
		log.Warn("unconfirmed transition never landed, lock released")
		r := resultOf(q, "")
		r.Released = true
		return r, nil
	}
	return Result{}, &types.PendingError{QuestKey: questKey, Op: t.op, Tx: q.PendingTx, Err: ledger.ErrTimeout}
}
