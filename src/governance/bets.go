package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

type BetRequest struct {
	QuestKey  uint64
	AnswerKey uint64
	Wallet    string
	Amount    decimal.Decimal
}

// PlaceBet stakes on an answer while betting is open. Repeated stakes by
// the same wallet on the same answer accumulate into one betting row. A
// stake whose ledger outcome is unknown is parked as pending until
// ConfirmBet settles it.
func (o *Orchestrator) PlaceBet(ctx context.Context, req BetRequest) (*types.Betting, error) {
	if !ValidWallet(req.Wallet) {
		return nil, invalid(fmt.Errorf("wallet %q is not a wallet address", req.Wallet))
	}
	if !req.Amount.IsPositive() {
		return nil, invalid(fmt.Errorf("stake amount %s must be positive", req.Amount))
	}
	q, err := o.store.GetQuest(ctx, req.QuestKey)
	if err != nil {
		return nil, err
	}
	if q.Status != types.StatusPublish {
		return nil, fmt.Errorf("quest %d is %s: %w", q.QuestKey, q.State(), types.ErrBettingClosed)
	}
	if q.Pending {
		return nil, fmt.Errorf("quest %d (%s in flight): %w", q.QuestKey, q.PendingOp, types.ErrAlreadyPending)
	}
	if q.BettingEndAt != nil && !o.now().Before(*q.BettingEndAt) {
		return nil, fmt.Errorf("quest %d betting ended %s: %w", q.QuestKey, q.BettingEndAt.Format("2006-01-02 15:04:05"), types.ErrBettingClosed)
	}
	a, err := o.store.GetAnswer(ctx, req.AnswerKey)
	if err != nil {
		return nil, err
	}
	if a.QuestKey != q.QuestKey {
		return nil, invalid(fmt.Errorf("answer %d does not belong to quest %d", req.AnswerKey, q.QuestKey))
	}

	log := o.log.WithFields(logrus.Fields{"quest_key": q.QuestKey, "answer_key": a.AnswerKey, "wallet": req.Wallet})
	tx, err := o.write(ctx, "PlaceBet", func(ctx context.Context) (string, error) {
		return o.market.PlaceBet(ctx, ledger.BetRequest{
			QuestKey:  req.QuestKey,
			AnswerKey: req.AnswerKey,
			Wallet:    req.Wallet,
			Amount:    req.Amount,
		})
	})
	bg := context.WithoutCancel(ctx)
	in := store.StakeInput{QuestKey: req.QuestKey, AnswerKey: req.AnswerKey, Bettor: req.Wallet, Amount: req.Amount, Tx: tx}
	if err != nil {
		var we *writeError
		if errors.As(err, &we) && ledger.Classify(we.err) == ledger.ClassRejected {
			log.WithError(we.err).Warn("ledger rejected bet")
			return nil, fmt.Errorf("bet on quest %d: %w: %w", req.QuestKey, types.ErrLedgerRejected, we.err)
		}
		in.Tx = ledger.PartialTx(err)
		b, perr := o.store.AddPendingStake(bg, in)
		if perr != nil {
			return nil, perr
		}
		log.WithError(err).WithField("betting_key", b.BettingKey).Warn("bet outcome unconfirmed, stake parked")
		return b, &types.PendingError{QuestKey: req.QuestKey, Op: types.OpPlaceBet, Tx: in.Tx, Err: err}
	}

	b, err := o.store.AddStake(bg, in)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"tx": tx, "amount": req.Amount.String()}).Info("bet placed")
	o.publish(bg, "bet_placed", map[string]interface{}{
		"quest_key":   req.QuestKey,
		"answer_key":  req.AnswerKey,
		"betting_key": b.BettingKey,
		"amount":      req.Amount.String(),
		"tx":          tx,
	})
	return b, nil
}

// ConfirmBet settles a parked stake once an operator has checked the
// ledger: landed folds it into the confirmed amount, otherwise it is
// dropped.
func (o *Orchestrator) ConfirmBet(ctx context.Context, bettingKey uint64, landed bool) (*types.Betting, error) {
	b, err := o.store.ConfirmPendingStake(ctx, bettingKey, landed)
	if err != nil {
		return b, err
	}
	o.log.WithFields(logrus.Fields{"betting_key": bettingKey, "landed": landed}).Info("pending stake settled")
	return b, nil
}
