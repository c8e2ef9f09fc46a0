package store

import (
	"context"
	"fmt"
	"time"

	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm/clause"
)

// RewardKey derives the stable key of the reward a wallet receives from a
// quest for one reward type.
func RewardKey(wallet string, questKey uint64, typ types.RewardType) uint64 {
	return naturalKey(2, wallet, questKey, string(typ))
}

// UpsertReward writes r keyed by its natural key. An existing unclaimed row
// only has its amount corrected; a claimed row is left untouched. It
// reports whether a new row was created.
func (s *Store) UpsertReward(ctx context.Context, r *types.Reward) (bool, error) {
	r.RewardKey = RewardKey(r.Wallet, r.QuestKey, r.Type)
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "reward_key"}},
		DoNothing: true,
	}).Create(r)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	err := s.conn(ctx).Model(&types.Reward{}).
		Where("reward_key = ? AND claimed = ?", r.RewardKey, false).
		Update("amount", r.Amount).Error
	return false, err
}

func (s *Store) GetReward(ctx context.Context, rewardKey uint64) (*types.Reward, error) {
	var r types.Reward
	if err := s.conn(ctx).First(&r, "reward_key = ?", rewardKey).Error; err != nil {
		return nil, notFound(err, "reward", rewardKey)
	}
	return &r, nil
}

func (s *Store) RewardsForQuest(ctx context.Context, questKey uint64) ([]types.Reward, error) {
	var out []types.Reward
	err := s.conn(ctx).Where("quest_key = ?", questKey).Order("type asc, wallet asc").Find(&out).Error
	return out, err
}

func (s *Store) RewardsForWallet(ctx context.Context, wallet string) ([]types.Reward, error) {
	var out []types.Reward
	err := s.conn(ctx).Where("wallet = ?", wallet).Order("quest_key asc, type asc").Find(&out).Error
	return out, err
}

// UnclaimedRewards returns up to limit rewards after the given key that
// are neither paid nor held by an in-flight claim.
func (s *Store) UnclaimedRewards(ctx context.Context, after uint64, limit int) ([]types.Reward, error) {
	var out []types.Reward
	q := s.conn(ctx).
		Where("claimed = ? AND claim_pending = ? AND reward_key > ?", false, false, after).
		Order("reward_key asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

// AcquireClaim takes the claim lock of an unpaid reward with one
// conditional update. A paid reward fails with ErrSettlementAlreadyDone, a
// held one with ErrAlreadyPending.
func (s *Store) AcquireClaim(ctx context.Context, rewardKey uint64) (*types.Reward, error) {
	res := s.conn(ctx).Model(&types.Reward{}).
		Where("reward_key = ? AND claimed = ? AND claim_pending = ?", rewardKey, false, false).
		Updates(map[string]interface{}{
			"claim_pending":       true,
			"claim_pending_tx":    "",
			"claim_pending_since": s.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	r, err := s.GetReward(ctx, rewardKey)
	if err != nil {
		return nil, err
	}
	switch {
	case res.RowsAffected == 1:
		return r, nil
	case r.Claimed:
		return r, fmt.Errorf("reward %d already claimed: %w", rewardKey, types.ErrSettlementAlreadyDone)
	}
	return r, fmt.Errorf("reward %d (payout in flight): %w", rewardKey, types.ErrAlreadyPending)
}

// RecordClaimTx keeps a partial payout reference next to the held claim.
func (s *Store) RecordClaimTx(ctx context.Context, rewardKey uint64, tx string) error {
	return s.conn(ctx).Model(&types.Reward{}).
		Where("reward_key = ? AND claim_pending = ?", rewardKey, true).
		Update("claim_pending_tx", tx).Error
}

// ReleaseClaim drops a held claim without paying it.
func (s *Store) ReleaseClaim(ctx context.Context, rewardKey uint64) error {
	res := s.conn(ctx).Model(&types.Reward{}).
		Where("reward_key = ? AND claim_pending = ?", rewardKey, true).
		Updates(map[string]interface{}{"claim_pending": false, "claim_pending_tx": "", "claim_pending_since": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("release claim of reward %d: %w", rewardKey, types.ErrNotPending)
	}
	return nil
}

// CompleteClaim marks a held claim paid and clears the lock. It succeeds
// once; a paid reward fails with ErrSettlementAlreadyDone and an unheld one
// with ErrNotPending.
func (s *Store) CompleteClaim(ctx context.Context, rewardKey uint64, tx string) error {
	res := s.conn(ctx).Model(&types.Reward{}).
		Where("reward_key = ? AND claimed = ? AND claim_pending = ?", rewardKey, false, true).
		Updates(map[string]interface{}{
			"claimed":             true,
			"claim_tx":            tx,
			"claim_pending":       false,
			"claim_pending_tx":    "",
			"claim_pending_since": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	r, err := s.GetReward(ctx, rewardKey)
	if err != nil {
		return err
	}
	if r.Claimed {
		return fmt.Errorf("reward %d already claimed: %w", rewardKey, types.ErrSettlementAlreadyDone)
	}
	return fmt.Errorf("complete claim of reward %d: %w", rewardKey, types.ErrNotPending)
}

// ListPendingClaims returns rewards whose claim lock was taken before
// olderThan.
func (s *Store) ListPendingClaims(ctx context.Context, olderThan time.Time) ([]types.Reward, error) {
	var out []types.Reward
	err := s.conn(ctx).
		Where("claim_pending = ? AND claim_pending_since <= ?", true, olderThan).
		Order("claim_pending_since asc").
		Find(&out).Error
	return out, err
}
