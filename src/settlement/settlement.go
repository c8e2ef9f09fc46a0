// Package settlement computes the payouts of a resolved quest exactly once
// and pays them out through the market ledger.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/logging"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

var hundred = decimal.NewFromInt(100)

type Config struct {
	// Precision is the number of decimal places rewards are truncated to.
	Precision     int32
	LedgerTimeout time.Duration
	// CharityWallet and ServiceWallet are resolved on every run so the
	// beneficiaries can be rotated without a restart.
	CharityWallet func() string
	ServiceWallet func() string
	// TxExpiry is how long an unconfirmed payout may stay unseen on the
	// ledger before its claim is released.
	TxExpiry time.Duration
}

type Engine struct {
	store   *store.Store
	market  ledger.ChainMarketClient
	metrics *metrics.Collectors
	log     logrus.FieldLogger
	cfg     Config
	now     func() time.Time
}

func New(st *store.Store, market ledger.ChainMarketClient, m *metrics.Collectors, log logrus.FieldLogger, cfg Config) *Engine {
	if cfg.Precision <= 0 {
		cfg.Precision = 9
	}
	if cfg.LedgerTimeout <= 0 {
		cfg.LedgerTimeout = 30 * time.Second
	}
	if cfg.TxExpiry <= 0 {
		cfg.TxExpiry = 10 * time.Minute
	}
	if cfg.CharityWallet == nil {
		cfg.CharityWallet = func() string { return "" }
	}
	if cfg.ServiceWallet == nil {
		cfg.ServiceWallet = func() string { return "" }
	}
	return &Engine{
		store:   st,
		market:  market,
		metrics: m,
		log:     logging.Or(log).WithField("component", "settlement"),
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Summary is the result of settling one quest.
type Summary struct {
	QuestKey      uint64          `json:"questKey"`
	Pool          decimal.Decimal `json:"pool"`
	Distributable decimal.Decimal `json:"distributable"`
	WinningAnswer uint64          `json:"winningAnswer,omitempty"`
	// Skipped is set when no winning stake existed and no reward was
	// written.
	Skipped bool           `json:"skipped"`
	Rewards []types.Reward `json:"rewards"`
}

// truncate divides n by d keeping Precision decimal places and dropping
// the rest, so every share rounds toward the pool.
func (e *Engine) truncate(n, d decimal.Decimal) decimal.Decimal {
	q, _ := n.QuoRem(d, e.cfg.Precision)
	return q
}

// Settle computes and stores the rewards of a MARKET_SUCCESS quest. Every
// reward row and the reward_calculated flag are written in one database
// transaction; a failure leaves the flag false so the next run recomputes.
// A quest that is already settled returns its rewards with
// ErrSettlementAlreadyDone.
func (e *Engine) Settle(ctx context.Context, questKey uint64) (*Summary, error) {
	q, err := e.store.GetQuest(ctx, questKey)
	if err != nil {
		return nil, err
	}
	if q.Status != types.StatusMarketSuccess {
		return nil, fmt.Errorf("quest %d is %s: %w", questKey, q.State(), types.ErrInvalidPhase)
	}
	if q.RewardCalculated {
		return e.alreadyDone(ctx, questKey)
	}

	var sum *Summary
	err = e.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		sum, err = e.compute(ctx, tx, q)
		if err != nil {
			return err
		}
		marked, err := tx.MarkRewardCalculated(ctx, questKey)
		if err != nil {
			return err
		}
		if !marked {
			return types.ErrSettlementAlreadyDone
		}
		return nil
	})
	if errors.Is(err, types.ErrSettlementAlreadyDone) {
		return e.alreadyDone(ctx, questKey)
	}
	if err != nil {
		e.metrics.Settlement("error")
		e.log.WithError(err).WithField("quest_key", questKey).Error("settlement failed")
		return nil, fmt.Errorf("settle quest %d: %w", questKey, err)
	}

	for _, r := range sum.Rewards {
		e.metrics.Rewarded(string(r.Type), r.Amount.InexactFloat64())
	}
	result := "ok"
	if sum.Skipped {
		result = "skipped"
	}
	e.metrics.Settlement(result)
	e.log.WithFields(logrus.Fields{
		"quest_key":     questKey,
		"pool":          sum.Pool.String(),
		"distributable": sum.Distributable.String(),
		"rewards":       len(sum.Rewards),
		"skipped":       sum.Skipped,
	}).Info("quest settled")
	return sum, nil
}

func (e *Engine) alreadyDone(ctx context.Context, questKey uint64) (*Summary, error) {
	rewards, err := e.store.RewardsForQuest(ctx, questKey)
	if err != nil {
		return nil, err
	}
	e.metrics.Settlement("already_done")
	return &Summary{QuestKey: questKey, Rewards: rewards},
		fmt.Errorf("quest %d: %w", questKey, types.ErrSettlementAlreadyDone)
}

func (e *Engine) compute(ctx context.Context, tx *store.Store, q *types.Quest) (*Summary, error) {
	season, err := tx.GetSeason(ctx, q.SeasonID)
	if err != nil {
		return nil, err
	}
	totalFee := season.TotalFee()
	if totalFee.IsNegative() || totalFee.GreaterThan(hundred) {
		return nil, fmt.Errorf("season %d fees total %s%%: %w", season.ID, totalFee, types.ErrInvalidInput)
	}

	bets, err := tx.ConfirmedBets(ctx, q.QuestKey)
	if err != nil {
		return nil, err
	}
	pool := decimal.Zero
	for _, b := range bets {
		pool = pool.Add(b.Amount)
	}
	sum := &Summary{
		QuestKey:      q.QuestKey,
		Pool:          pool,
		Distributable: e.truncate(pool.Mul(hundred.Sub(totalFee)), hundred),
	}

	winner, err := tx.SelectedAnswer(ctx, q.QuestKey)
	if errors.Is(err, types.ErrNotFound) {
		sum.Skipped = true
		return sum, nil
	}
	if err != nil {
		return nil, err
	}
	sum.WinningAnswer = winner.AnswerKey

	var winning []types.Betting
	winTotal := decimal.Zero
	for _, b := range bets {
		if b.AnswerKey == winner.AnswerKey {
			winning = append(winning, b)
			winTotal = winTotal.Add(b.Amount)
		}
	}
	if !winTotal.IsPositive() {
		sum.Skipped = true
		return sum, nil
	}

	answerKey := winner.AnswerKey
	for _, b := range winning {
		amount := e.truncate(b.Amount.Mul(sum.Distributable), winTotal)
		bettingKey := b.BettingKey
		r := types.Reward{
			Wallet:     b.Bettor,
			QuestKey:   q.QuestKey,
			Type:       types.RewardBetting,
			AnswerKey:  &answerKey,
			BettingKey: &bettingKey,
			Amount:     amount,
		}
		if _, err := tx.UpsertReward(ctx, &r); err != nil {
			return nil, err
		}
		if err := tx.SetBettingReward(ctx, b.BettingKey, amount); err != nil {
			return nil, err
		}
		sum.Rewards = append(sum.Rewards, r)
	}

	fees := []struct {
		typ    types.RewardType
		pct    decimal.Decimal
		wallet func() string
	}{
		{types.RewardCreator, season.CreatorFee, func() string { return q.Creator }},
		{types.RewardCharity, season.CharityFee, e.cfg.CharityWallet},
		{types.RewardService, season.ServiceFee, e.cfg.ServiceWallet},
	}
	for _, f := range fees {
		amount := e.truncate(pool.Mul(f.pct), hundred)
		if !amount.IsPositive() {
			continue
		}
		wallet := f.wallet()
		if wallet == "" {
			return nil, fmt.Errorf("%s wallet not configured: %w", f.typ, types.ErrInvalidInput)
		}
		r := types.Reward{Wallet: wallet, QuestKey: q.QuestKey, Type: f.typ, Amount: amount}
		if _, err := tx.UpsertReward(ctx, &r); err != nil {
			return nil, err
		}
		sum.Rewards = append(sum.Rewards, r)
	}
	return sum, nil
}

// Rewards returns the reward rows of a quest.
func (e *Engine) Rewards(ctx context.Context, questKey uint64) ([]types.Reward, error) {
	if _, err := e.store.GetQuest(ctx, questKey); err != nil {
		return nil, err
	}
	return e.store.RewardsForQuest(ctx, questKey)
}

// ClaimReward pays a reward out through the ledger under the reward's
// claim lock. A rejected payout releases the lock; an unconfirmed one keeps
// it, with any partial tx, until ReconcileClaim checks the ledger. A
// claimed reward is never paid or changed again.
func (e *Engine) ClaimReward(ctx context.Context, rewardKey uint64) (*types.Reward, error) {
	r, err := e.store.AcquireClaim(ctx, rewardKey)
	if err != nil {
		if errors.Is(err, types.ErrAlreadyPending) {
			e.metrics.PendingConflict(string(types.OpClaimPayout))
		}
		return r, err
	}
	log := e.log.WithFields(logrus.Fields{"reward_key": rewardKey, "quest_key": r.QuestKey, "wallet": r.Wallet})

	lctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	start := time.Now()
	tx, err := e.market.ClaimPayout(lctx, r.QuestKey, answerOf(r), r.Wallet)
	cancel()
	e.metrics.LedgerCall("ClaimPayout", ledger.Classify(err).String(), time.Since(start).Seconds())

	// the lock must settle even if the caller has gone away
	bg := context.WithoutCancel(ctx)
	if err != nil {
		if ledger.Classify(err) == ledger.ClassRejected {
			if rerr := e.store.ReleaseClaim(bg, rewardKey); rerr != nil {
				log.WithError(rerr).Error("release claim lock")
			}
			log.WithError(err).Warn("ledger rejected payout")
			return r, fmt.Errorf("reward %d: %w: %w", rewardKey, types.ErrLedgerRejected, err)
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			var le *ledger.Error
			if !errors.As(err, &le) {
				err = ledger.Ambiguous("ClaimPayout", "", err)
			}
		}
		ptx := ledger.PartialTx(err)
		if ptx != "" {
			if rerr := e.store.RecordClaimTx(bg, rewardKey, ptx); rerr != nil {
				log.WithError(rerr).Error("record claim tx")
			}
		}
		log.WithError(err).WithField("tx", ptx).Warn("payout outcome unconfirmed, claim left pending")
		return r, &types.PendingError{QuestKey: r.QuestKey, Op: types.OpClaimPayout, Tx: ptx, Err: err}
	}
	return e.completeClaim(bg, log, r, tx)
}

// ReconcileClaim resolves a claim left pending by an unconfirmed payout.
// If the ledger shows the payout, the claim completes. If it does not and
// the claim is older than the tx expiry, the lock is released so the
// reward can be claimed again. Otherwise the claim stays pending.
func (e *Engine) ReconcileClaim(ctx context.Context, rewardKey uint64) (*types.Reward, error) {
	r, err := e.store.GetReward(ctx, rewardKey)
	if err != nil {
		return nil, err
	}
	if !r.ClaimPending {
		return r, fmt.Errorf("reward %d: %w", rewardKey, types.ErrNotPending)
	}
	log := e.log.WithFields(logrus.Fields{"reward_key": rewardKey, "quest_key": r.QuestKey, "tx": r.ClaimPendingTx})

	lctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	start := time.Now()
	p, err := e.market.PayoutStatus(lctx, r.QuestKey, answerOf(r), r.Wallet)
	cancel()
	class := "ok"
	if err != nil {
		class = "error"
	}
	e.metrics.LedgerCall("PayoutStatus", class, time.Since(start).Seconds())
	if err != nil {
		return r, fmt.Errorf("reward %d payout status: %w", rewardKey, err)
	}

	if p.Paid {
		tx := p.Tx
		if tx == "" {
			tx = r.ClaimPendingTx
		}
		log.Info("unconfirmed payout landed")
		return e.completeClaim(ctx, log, r, tx)
	}
	if r.ClaimPendingSince != nil && e.now().Sub(*r.ClaimPendingSince) >= e.cfg.TxExpiry {
		if err := e.store.ReleaseClaim(ctx, rewardKey); err != nil {
			return r, err
		}
		log.Warn("unconfirmed payout never landed, claim released")
		return e.store.GetReward(ctx, rewardKey)
	}
	return r, &types.PendingError{QuestKey: r.QuestKey, Op: types.OpClaimPayout, Tx: r.ClaimPendingTx, Err: ledger.ErrTimeout}
}

func (e *Engine) completeClaim(ctx context.Context, log logrus.FieldLogger, r *types.Reward, tx string) (*types.Reward, error) {
	err := e.store.Transaction(ctx, func(st *store.Store) error {
		if err := st.CompleteClaim(ctx, r.RewardKey, tx); err != nil {
			return err
		}
		if r.BettingKey != nil {
			return st.MarkBettingRewardClaimed(ctx, *r.BettingKey)
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	log.WithField("tx", tx).Info("reward claimed")
	return e.store.GetReward(ctx, r.RewardKey)
}

func answerOf(r *types.Reward) uint64 {
	if r.AnswerKey != nil {
		return *r.AnswerKey
	}
	return 0
}
