package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mr-tron/base58"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
)

var validate = validator.New()

// NewQuest is the input of CreateQuest. Keys are supplied by the caller.
type NewQuest struct {
	QuestKey     uint64      `json:"questKey" validate:"required"`
	Title        string      `json:"title" validate:"required,max=255"`
	Description  string      `json:"description" validate:"max=20000"`
	Category     string      `json:"category" validate:"max=64"`
	Creator      string      `json:"creator" validate:"required"`
	BettingToken string      `json:"bettingToken" validate:"max=64"`
	Answers      []NewAnswer `json:"answers" validate:"dive"`
}

type NewAnswer struct {
	AnswerKey uint64 `json:"answerKey" validate:"required"`
	Title     string `json:"title" validate:"required,max=255"`
}

// ValidWallet reports whether s is a base58 encoded 32-byte public key.
func ValidWallet(s string) bool {
	b, err := base58.Decode(s)
	return err == nil && len(b) == 32
}

func invalid(err error) error {
	return fmt.Errorf("%v: %w", err, types.ErrInvalidInput)
}

func (o *Orchestrator) sanitizeAnswers(questKey uint64, in []NewAnswer) ([]types.Answer, error) {
	out := make([]types.Answer, 0, len(in))
	seen := make(map[uint64]bool, len(in))
	for _, a := range in {
		title := strings.TrimSpace(o.strict.Sanitize(a.Title))
		if title == "" {
			return nil, invalid(fmt.Errorf("answer %d has an empty title", a.AnswerKey))
		}
		if seen[a.AnswerKey] {
			return nil, invalid(fmt.Errorf("answer %d listed twice", a.AnswerKey))
		}
		seen[a.AnswerKey] = true
		out = append(out, types.Answer{AnswerKey: a.AnswerKey, QuestKey: questKey, Title: title})
	}
	return out, nil
}

// CreateQuest stores a new quest in DRAFT under the active season.
func (o *Orchestrator) CreateQuest(ctx context.Context, in NewQuest) (*types.Quest, error) {
	if err := validate.Struct(in); err != nil {
		return nil, invalid(err)
	}
	if !ValidWallet(in.Creator) {
		return nil, invalid(fmt.Errorf("creator %q is not a wallet address", in.Creator))
	}
	title := strings.TrimSpace(o.strict.Sanitize(in.Title))
	if title == "" {
		return nil, invalid(errors.New("empty title"))
	}
	answers, err := o.sanitizeAnswers(in.QuestKey, in.Answers)
	if err != nil {
		return nil, err
	}

	if _, err := o.store.GetQuest(ctx, in.QuestKey); err == nil {
		return nil, invalid(fmt.Errorf("quest %d already exists", in.QuestKey))
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	season, err := o.store.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}

	q := &types.Quest{
		QuestKey:     in.QuestKey,
		SeasonID:     season.ID,
		Category:     strings.TrimSpace(o.strict.Sanitize(in.Category)),
		Title:        title,
		Description:  o.ugc.Sanitize(in.Description),
		Creator:      in.Creator,
		BettingToken: in.BettingToken,
		Status:       types.StatusDraft,
		Stage:        types.StageDraftOpen,
		DraftStartAt: o.timeRef(),
	}
	err = o.store.Transaction(ctx, func(tx *store.Store) error {
		if err := tx.CreateQuest(ctx, q); err != nil {
			return err
		}
		return tx.CreateAnswers(ctx, answers)
	})
	if err != nil {
		return nil, fmt.Errorf("create quest %d: %w", in.QuestKey, err)
	}
	q.Answers = answers
	q.Season = *season
	o.log.WithField("quest_key", q.QuestKey).Info("quest created")
	o.publish(ctx, "quest_created", map[string]interface{}{"quest_key": q.QuestKey, "creator": q.Creator})
	return q, nil
}

// AddAnswers attaches answers to a quest that is not yet published.
func (o *Orchestrator) AddAnswers(ctx context.Context, questKey uint64, in []NewAnswer) ([]types.Answer, error) {
	if len(in) == 0 {
		return nil, invalid(errors.New("no answers"))
	}
	for _, a := range in {
		if err := validate.Struct(a); err != nil {
			return nil, invalid(err)
		}
	}
	answers, err := o.sanitizeAnswers(questKey, in)
	if err != nil {
		return nil, err
	}
	err = o.store.Transaction(ctx, func(tx *store.Store) error {
		if _, err := tx.HoldQuestIn(ctx, questKey, types.StateDraftOpen, types.StateApproved); err != nil {
			return err
		}
		for _, a := range answers {
			if _, err := tx.GetAnswer(ctx, a.AnswerKey); err == nil {
				return invalid(fmt.Errorf("answer %d already exists", a.AnswerKey))
			}
		}
		return tx.CreateAnswers(ctx, answers)
	})
	if err != nil {
		return nil, err
	}
	return o.store.Answers(ctx, questKey)
}

// StartAnswer stamps the answer window of a quest whose decision passed.
// Calling it again leaves the existing window in place.
func (o *Orchestrator) StartAnswer(ctx context.Context, questKey uint64) (Result, error) {
	q, err := o.store.GetQuest(ctx, questKey)
	if err != nil {
		return Result{}, err
	}
	if q.State() != types.StateAnswerOpen {
		return Result{}, fmt.Errorf("quest %d is %s: %w", questKey, q.State(), types.ErrInvalidPhase)
	}
	if q.AnswerStartAt != nil {
		r := resultOf(q, q.DecisionTx)
		r.Replayed = true
		return r, nil
	}
	start := o.now()
	err = o.store.UpdateQuest(ctx, questKey, map[string]interface{}{
		"answer_start_at": start,
		"answer_end_at":   start.Add(o.cfg.AnswerWindow),
	})
	if err != nil {
		return Result{}, err
	}
	return resultOf(q, q.DecisionTx), nil
}
