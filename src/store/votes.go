package store

import (
	"context"
	"fmt"

	"github.com/stake-plus/questdao/src/types"
	"gorm.io/gorm/clause"
)

// VoteInput is one phase's choice by one voter.
type VoteInput struct {
	QuestKey  uint64
	Voter     string
	Phase     types.Phase
	Option    string
	AnswerKey uint64
	Power     uint64
	Tx        string
}

type phaseColumns struct {
	choice, power, tx string
}

func columnsFor(phase types.Phase) (phaseColumns, error) {
	switch phase {
	case types.PhaseDraft:
		return phaseColumns{"draft_option", "draft_power", "draft_tx"}, nil
	case types.PhaseDecision:
		return phaseColumns{"decision_option", "decision_power", "decision_tx"}, nil
	case types.PhaseAnswer:
		return phaseColumns{"answer_key", "answer_power", "answer_tx"}, nil
	}
	return phaseColumns{}, fmt.Errorf("phase %q: %w", phase, types.ErrInvalidInput)
}

func (in VoteInput) choice() interface{} {
	if in.Phase == types.PhaseAnswer {
		return in.AnswerKey
	}
	return in.Option
}

func (in VoteInput) row() types.Vote {
	v := types.Vote{QuestKey: in.QuestKey, Voter: in.Voter, Power: in.Power}
	switch in.Phase {
	case types.PhaseDraft:
		opt := in.Option
		v.DraftOption, v.DraftPower, v.DraftTx = &opt, in.Power, in.Tx
	case types.PhaseDecision:
		opt := in.Option
		v.DecisionOption, v.DecisionPower, v.DecisionTx = &opt, in.Power, in.Tx
	case types.PhaseAnswer:
		key := in.AnswerKey
		v.AnswerKey, v.AnswerPower, v.AnswerTx = &key, in.Power, in.Tx
	}
	return v
}

// RecordVote stores a phase choice on the (quest, voter) row. It reports
// false without writing when the row already carries a choice for that
// phase. Both the insert and the fill-in are conditional, so duplicate
// submissions racing each other still leave one row with one choice.
func (s *Store) RecordVote(ctx context.Context, in VoteInput) (bool, error) {
	cols, err := columnsFor(in.Phase)
	if err != nil {
		return false, err
	}

	row := in.row()
	res := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "quest_key"}, {Name: "voter"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	res = s.conn(ctx).Model(&types.Vote{}).
		Where("quest_key = ? AND voter = ? AND "+cols.choice+" IS NULL", in.QuestKey, in.Voter).
		Updates(map[string]interface{}{
			cols.choice: in.choice(),
			cols.power:  in.Power,
			cols.tx:     in.Tx,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetVote(ctx context.Context, questKey uint64, voter string) (*types.Vote, error) {
	var v types.Vote
	if err := s.conn(ctx).First(&v, "quest_key = ? AND voter = ?", questKey, voter).Error; err != nil {
		return nil, notFound(err, "vote by "+voter+" on quest", questKey)
	}
	return &v, nil
}

func (s *Store) Votes(ctx context.Context, questKey uint64) ([]types.Vote, error) {
	var out []types.Vote
	err := s.conn(ctx).Where("quest_key = ?", questKey).Order("id asc").Find(&out).Error
	return out, err
}

// SumOptionPower aggregates recorded power per option for a binary phase.
func (s *Store) SumOptionPower(ctx context.Context, questKey uint64, phase types.Phase) (map[string]uint64, error) {
	if phase == types.PhaseAnswer {
		return nil, fmt.Errorf("use SumAnswerPower for %s: %w", phase, types.ErrInvalidInput)
	}
	cols, err := columnsFor(phase)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Opt   string
		Power uint64
	}
	err = s.conn(ctx).Model(&types.Vote{}).
		Select(cols.choice+" AS opt, SUM("+cols.power+") AS power").
		Where("quest_key = ? AND "+cols.choice+" IS NOT NULL", questKey).
		Group(cols.choice).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64, len(rows))
	for _, r := range rows {
		out[r.Opt] = r.Power
	}
	return out, nil
}

// SumAnswerPower aggregates answer-phase power per chosen answer.
func (s *Store) SumAnswerPower(ctx context.Context, questKey uint64) (map[uint64]uint64, error) {
	var rows []struct {
		AnswerKey uint64
		Power     uint64
	}
	err := s.conn(ctx).Model(&types.Vote{}).
		Select("answer_key, SUM(answer_power) AS power").
		Where("quest_key = ? AND answer_key IS NOT NULL", questKey).
		Group("answer_key").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]uint64, len(rows))
	for _, r := range rows {
		out[r.AnswerKey] = r.Power
	}
	return out, nil
}
