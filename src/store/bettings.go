package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BettingKey derives the stable key of a (quest, answer, bettor) stake.
func BettingKey(questKey, answerKey uint64, bettor string) uint64 {
	return naturalKey(1, questKey, answerKey, bettor)
}

// StakeInput is one stake by one wallet on one answer.
type StakeInput struct {
	QuestKey  uint64
	AnswerKey uint64
	Bettor    string
	Amount    decimal.Decimal
	Tx        string
}

// AddStake adds a ledger-acknowledged stake, creating the betting row on the
// first stake and increasing its amount on later ones.
func (s *Store) AddStake(ctx context.Context, in StakeInput) (*types.Betting, error) {
	return s.upsertStake(ctx, in, "amount", types.BettingConfirmed)
}

// AddPendingStake parks a stake whose ledger outcome is unknown.
func (s *Store) AddPendingStake(ctx context.Context, in StakeInput) (*types.Betting, error) {
	return s.upsertStake(ctx, in, "pending_amount", types.BettingPending)
}

func (s *Store) upsertStake(ctx context.Context, in StakeInput, column string, status types.BettingStatus) (*types.Betting, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("stake amount %s: %w", in.Amount, types.ErrInvalidInput)
	}
	key := BettingKey(in.QuestKey, in.AnswerKey, in.Bettor)
	row := types.Betting{
		BettingKey: key,
		QuestKey:   in.QuestKey,
		AnswerKey:  in.AnswerKey,
		Bettor:     in.Bettor,
		Status:     status,
		Tx:         in.Tx,
	}
	if column == "amount" {
		row.Amount = in.Amount
	} else {
		row.PendingAmount = in.Amount
	}

	assignments := map[string]interface{}{
		column:       gorm.Expr(column+" + ?", in.Amount),
		"tx":         in.Tx,
		"updated_at": s.now(),
	}
	if status == types.BettingConfirmed {
		assignments["status"] = status
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "betting_key"}},
		DoUpdates: clause.Assignments(assignments),
	}).Create(&row).Error
	if err != nil {
		return nil, err
	}
	return s.GetBetting(ctx, key)
}

// ConfirmPendingStake settles the parked amount of a betting row: folded
// into the confirmed amount when the ledger shows it landed, dropped
// otherwise.
func (s *Store) ConfirmPendingStake(ctx context.Context, bettingKey uint64, landed bool) (*types.Betting, error) {
	var updates map[string]interface{}
	if landed {
		updates = map[string]interface{}{
			"amount":         gorm.Expr("amount + pending_amount"),
			"pending_amount": 0,
			"status":         types.BettingConfirmed,
		}
	} else {
		updates = map[string]interface{}{
			"pending_amount": 0,
			"status": gorm.Expr("CASE WHEN amount > 0 THEN ? ELSE ? END",
				types.BettingConfirmed, types.BettingPending),
		}
	}
	res := s.conn(ctx).Model(&types.Betting{}).
		Where("betting_key = ? AND pending_amount > 0", bettingKey).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	b, err := s.GetBetting(ctx, bettingKey)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return b, fmt.Errorf("betting %d has no pending stake: %w", bettingKey, types.ErrNotPending)
	}
	return b, nil
}

func (s *Store) GetBetting(ctx context.Context, bettingKey uint64) (*types.Betting, error) {
	var b types.Betting
	if err := s.conn(ctx).First(&b, "betting_key = ?", bettingKey).Error; err != nil {
		return nil, notFound(err, "betting", bettingKey)
	}
	return &b, nil
}

// ConfirmedBets returns the confirmed betting rows of a quest.
func (s *Store) ConfirmedBets(ctx context.Context, questKey uint64) ([]types.Betting, error) {
	var out []types.Betting
	err := s.conn(ctx).
		Where("quest_key = ? AND status = ?", questKey, types.BettingConfirmed).
		Order("betting_key asc").
		Find(&out).Error
	return out, err
}

func (s *Store) Bettings(ctx context.Context, questKey uint64) ([]types.Betting, error) {
	var out []types.Betting
	err := s.conn(ctx).Where("quest_key = ?", questKey).Order("betting_key asc").Find(&out).Error
	return out, err
}

// SetBettingReward mirrors a computed betting reward onto its betting row.
func (s *Store) SetBettingReward(ctx context.Context, bettingKey uint64, amount decimal.Decimal) error {
	return s.conn(ctx).Model(&types.Betting{}).
		Where("betting_key = ? AND reward_claimed = ?", bettingKey, false).
		Update("reward_amount", decimal.NewNullDecimal(amount)).Error
}

func (s *Store) MarkBettingRewardClaimed(ctx context.Context, bettingKey uint64) error {
	return s.conn(ctx).Model(&types.Betting{}).
		Where("betting_key = ?", bettingKey).
		Update("reward_claimed", true).Error
}
