// Package storetest opens migrated in-memory stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/data"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/require"
)

// New returns a store over a fresh in-memory SQLite database.
func New(t testing.TB) *store.Store {
	t.Helper()
	db, err := data.ConnectSQLite("")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return store.New(db)
}

// Season creates an active season with the given fee percentages.
func Season(t testing.TB, s *store.Store, creator, charity, service string) *types.Season {
	t.Helper()
	season := &types.Season{
		Title:      "season",
		CreatorFee: decimal.RequireFromString(creator),
		CharityFee: decimal.RequireFromString(charity),
		ServiceFee: decimal.RequireFromString(service),
		Active:     true,
	}
	require.NoError(t, s.CreateSeason(context.Background(), season))
	return season
}

// Quest creates a quest in state st under season with one answer per key.
func Quest(t testing.TB, s *store.Store, season *types.Season, key uint64, st types.State, answerKeys ...uint64) *types.Quest {
	t.Helper()
	ctx := context.Background()
	q := &types.Quest{
		QuestKey: key,
		SeasonID: season.ID,
		Title:    "quest",
		Creator:  "creator-wallet",
		Status:   st.Status,
		Stage:    st.Stage,
	}
	require.NoError(t, s.CreateQuest(ctx, q))
	answers := make([]types.Answer, 0, len(answerKeys))
	for _, a := range answerKeys {
		answers = append(answers, types.Answer{AnswerKey: a, QuestKey: key, Title: "answer"})
	}
	require.NoError(t, s.CreateAnswers(ctx, answers))
	return q
}
