package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm/clause"
)

func (s *Store) CreateQuest(ctx context.Context, q *types.Quest) error {
	return s.conn(ctx).Omit(clause.Associations).Create(q).Error
}

func (s *Store) GetQuest(ctx context.Context, questKey uint64) (*types.Quest, error) {
	var q types.Quest
	if err := s.conn(ctx).First(&q, "quest_key = ?", questKey).Error; err != nil {
		return nil, notFound(err, "quest", questKey)
	}
	return &q, nil
}

func (s *Store) CreateAnswers(ctx context.Context, answers []types.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return s.conn(ctx).Create(&answers).Error
}

func (s *Store) Answers(ctx context.Context, questKey uint64) ([]types.Answer, error) {
	var out []types.Answer
	err := s.conn(ctx).Where("quest_key = ?", questKey).Order("answer_key asc").Find(&out).Error
	return out, err
}

func (s *Store) GetAnswer(ctx context.Context, answerKey uint64) (*types.Answer, error) {
	var a types.Answer
	if err := s.conn(ctx).First(&a, "answer_key = ?", answerKey).Error; err != nil {
		return nil, notFound(err, "answer", answerKey)
	}
	return &a, nil
}

// SelectedAnswer returns the answer marked selected, or ErrNotFound.
func (s *Store) SelectedAnswer(ctx context.Context, questKey uint64) (*types.Answer, error) {
	var a types.Answer
	err := s.conn(ctx).First(&a, "quest_key = ? AND selected = ?", questKey, true).Error
	if err != nil {
		return nil, notFound(err, "selected answer for quest", questKey)
	}
	return &a, nil
}

func stateClause(from []types.State) (string, []interface{}) {
	parts := make([]string, 0, len(from))
	args := make([]interface{}, 0, 2*len(from))
	for _, st := range from {
		parts = append(parts, "(status = ? AND stage = ?)")
		args = append(args, st.Status, st.Stage)
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// AcquirePending sets the pending flag for op if, and only if, the quest is
// not pending and sits in one of the from states. The check and the write
// are one conditional UPDATE, so of N concurrent callers exactly one wins.
func (s *Store) AcquirePending(ctx context.Context, questKey uint64, op types.Op, from ...types.State) (*types.Quest, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("acquire %s: no source state", op)
	}
	cond, args := stateClause(from)
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ?", questKey, false).
		Where(cond, args...).
		Updates(map[string]interface{}{
			"pending":       true,
			"pending_op":    op,
			"pending_tx":    "",
			"pending_since": s.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}

	q, err := s.GetQuest(ctx, questKey)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return q, nil
	}
	if q.Pending {
		return q, fmt.Errorf("quest %d (%s in flight): %w", questKey, q.PendingOp, types.ErrAlreadyPending)
	}
	return q, fmt.Errorf("quest %d is %s, %s not allowed: %w", questKey, q.State(), op, types.ErrInvalidPhase)
}

// HoldQuestIn touches the quest row if it is not pending and sits in one of
// the from states. Run inside a transaction it keeps the row locked until
// commit, so writes that depend on the state cannot race a transition.
func (s *Store) HoldQuestIn(ctx context.Context, questKey uint64, from ...types.State) (*types.Quest, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("hold quest %d: no source state", questKey)
	}
	cond, args := stateClause(from)
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ?", questKey, false).
		Where(cond, args...).
		Update("updated_at", s.now())
	if res.Error != nil {
		return nil, res.Error
	}

	q, err := s.GetQuest(ctx, questKey)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 1 {
		return q, nil
	}
	if q.Pending {
		return q, fmt.Errorf("quest %d (%s in flight): %w", questKey, q.PendingOp, types.ErrAlreadyPending)
	}
	return q, fmt.Errorf("quest %d is %s: %w", questKey, q.State(), types.ErrInvalidPhase)
}

// CompleteTransition moves a quest held by op to state to, applies fields
// and clears the lock. It fails with ErrNotPending when the lock is no
// longer held for op, which makes completion happen at most once.
func (s *Store) CompleteTransition(ctx context.Context, questKey uint64, op types.Op, to types.State, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"status":        to.Status,
		"stage":         to.Stage,
		"pending":       false,
		"pending_op":    "",
		"pending_tx":    "",
		"pending_since": nil,
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ? AND pending_op = ?", questKey, true, op).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete %s on quest %d: %w", op, questKey, types.ErrNotPending)
	}
	return nil
}

// ReleasePending clears the lock held by op without changing the state.
func (s *Store) ReleasePending(ctx context.Context, questKey uint64, op types.Op) error {
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ? AND pending_op = ?", questKey, true, op).
		Updates(map[string]interface{}{"pending": false, "pending_op": "", "pending_tx": "", "pending_since": nil})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("release %s on quest %d: %w", op, questKey, types.ErrNotPending)
	}
	return nil
}

// RecordPendingTx keeps a partial ledger reference next to the held lock.
func (s *Store) RecordPendingTx(ctx context.Context, questKey uint64, op types.Op, tx string) error {
	return s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ? AND pending_op = ?", questKey, true, op).
		Update("pending_tx", tx).Error
}

// UpdateQuest writes fields on a quest that is not pending.
func (s *Store) UpdateQuest(ctx context.Context, questKey uint64, fields map[string]interface{}) error {
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND pending = ?", questKey, false).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		q, err := s.GetQuest(ctx, questKey)
		if err != nil {
			return err
		}
		if q.Pending {
			return fmt.Errorf("update quest %d: %w", questKey, types.ErrAlreadyPending)
		}
	}
	return nil
}

// ListPending returns quests whose lock was taken before olderThan.
func (s *Store) ListPending(ctx context.Context, olderThan time.Time) ([]types.Quest, error) {
	var out []types.Quest
	err := s.conn(ctx).
		Where("pending = ? AND pending_since <= ?", true, olderThan).
		Order("pending_since asc").
		Find(&out).Error
	return out, err
}

// ListInStates returns non-pending quests in any of the given states.
func (s *Store) ListInStates(ctx context.Context, states ...types.State) ([]types.Quest, error) {
	var out []types.Quest
	if len(states) == 0 {
		return out, nil
	}
	cond, args := stateClause(states)
	err := s.conn(ctx).Where(cond, args...).Order("quest_key asc").Find(&out).Error
	return out, err
}

// ListSettleable returns resolved quests whose rewards are not yet computed.
func (s *Store) ListSettleable(ctx context.Context, limit int) ([]types.Quest, error) {
	var out []types.Quest
	q := s.conn(ctx).
		Where("status = ? AND reward_calculated = ?", types.StatusMarketSuccess, false).
		Order("quest_key asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

// MarkRewardCalculated flips reward_calculated from false to true and
// reports whether this call did it.
func (s *Store) MarkRewardCalculated(ctx context.Context, questKey uint64) (bool, error) {
	res := s.conn(ctx).Model(&types.Quest{}).
		Where("quest_key = ? AND reward_calculated = ?", questKey, false).
		Update("reward_calculated", true)
	return res.RowsAffected == 1, res.Error
}

// SetAnswerPending flags the answer a resolution is about to select.
func (s *Store) SetAnswerPending(ctx context.Context, answerKey uint64, pending bool) error {
	return s.conn(ctx).Model(&types.Answer{}).
		Where("answer_key = ?", answerKey).
		Update("pending", pending).Error
}

// ClearAnswerPending drops the pending mark from every answer of a quest.
func (s *Store) ClearAnswerPending(ctx context.Context, questKey uint64) error {
	return s.conn(ctx).Model(&types.Answer{}).
		Where("quest_key = ? AND pending = ?", questKey, true).
		Update("pending", false).Error
}

// SelectAnswer marks answerKey as the quest's only selected answer.
func (s *Store) SelectAnswer(ctx context.Context, questKey, answerKey uint64) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Model(&types.Answer{}).
			Where("quest_key = ? AND answer_key <> ?", questKey, answerKey).
			Updates(map[string]interface{}{"selected": false, "pending": false}).Error; err != nil {
			return err
		}
		res := tx.db.Model(&types.Answer{}).
			Where("quest_key = ? AND answer_key = ?", questKey, answerKey).
			Updates(map[string]interface{}{"selected": true, "pending": false})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("answer %d of quest %d: %w", answerKey, questKey, types.ErrNotFound)
		}
		return nil
	})
}
