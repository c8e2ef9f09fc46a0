package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/data"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := data.ConnectSQLite("")
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func seedQuest(t *testing.T, s *Store, key uint64, st types.State) {
	t.Helper()
	season := types.Season{Title: "s1", Active: true}
	require.NoError(t, s.CreateSeason(context.Background(), &season))
	require.NoError(t, s.CreateQuest(context.Background(), &types.Quest{
		QuestKey: key,
		SeasonID: season.ID,
		Title:    "Will it rain?",
		Creator:  "creator",
		Status:   st.Status,
		Stage:    st.Stage,
	}))
}

func TestAcquirePendingSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 10, types.StateDraftOpen)

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AcquirePending(ctx, 10, types.OpResolveDraft, types.StateDraftOpen)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, types.ErrAlreadyPending):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflict)

	q, err := s.GetQuest(ctx, 10)
	require.NoError(t, err)
	assert.True(t, q.Pending)
	assert.Equal(t, types.OpResolveDraft, q.PendingOp)
	assert.NotNil(t, q.PendingSince)
}

func TestAcquirePendingClassifiesFailures(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 11, types.StateApproved)

	_, err := s.AcquirePending(ctx, 11, types.OpResolveDraft, types.StateDraftOpen)
	assert.ErrorIs(t, err, types.ErrInvalidPhase)

	_, err = s.AcquirePending(ctx, 404, types.OpPublish, types.StateApproved)
	assert.ErrorIs(t, err, types.ErrNotFound)

	q, err := s.AcquirePending(ctx, 11, types.OpPublish, types.StateApproved)
	require.NoError(t, err)
	assert.True(t, q.Pending)
}

func TestHoldQuestIn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 13, types.StateApproved)

	_, err := s.HoldQuestIn(ctx, 13, types.StateDraftOpen)
	assert.ErrorIs(t, err, types.ErrInvalidPhase)
	_, err = s.HoldQuestIn(ctx, 404, types.StateApproved)
	assert.ErrorIs(t, err, types.ErrNotFound)

	q, err := s.HoldQuestIn(ctx, 13, types.StateDraftOpen, types.StateApproved)
	require.NoError(t, err)
	assert.False(t, q.Pending)

	_, err = s.AcquirePending(ctx, 13, types.OpPublish, types.StateApproved)
	require.NoError(t, err)
	_, err = s.HoldQuestIn(ctx, 13, types.StateApproved)
	assert.ErrorIs(t, err, types.ErrAlreadyPending)
}

func TestCompleteTransitionOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 12, types.StateApproved)

	_, err := s.AcquirePending(ctx, 12, types.OpPublish, types.StateApproved)
	require.NoError(t, err)

	fields := map[string]interface{}{"publish_tx": "tx-publish"}
	require.NoError(t, s.CompleteTransition(ctx, 12, types.OpPublish, types.StateBettingOpen, fields))
	err = s.CompleteTransition(ctx, 12, types.OpPublish, types.StateBettingOpen, fields)
	assert.ErrorIs(t, err, types.ErrNotPending)

	q, err := s.GetQuest(ctx, 12)
	require.NoError(t, err)
	assert.False(t, q.Pending)
	assert.Empty(t, q.PendingOp)
	assert.Equal(t, types.StateBettingOpen, q.State())
	assert.Equal(t, "tx-publish", q.PublishTx)
}

func TestReleasePendingKeepsState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 13, types.StateBettingOpen)

	_, err := s.AcquirePending(ctx, 13, types.OpFinish, types.StateBettingOpen)
	require.NoError(t, err)
	require.NoError(t, s.RecordPendingTx(ctx, 13, types.OpFinish, "sig-1"))

	q, err := s.GetQuest(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", q.PendingTx)

	require.NoError(t, s.ReleasePending(ctx, 13, types.OpFinish))
	assert.ErrorIs(t, s.ReleasePending(ctx, 13, types.OpFinish), types.ErrNotPending)

	q, err = s.GetQuest(ctx, 13)
	require.NoError(t, err)
	assert.False(t, q.Pending)
	assert.Equal(t, types.StateBettingOpen, q.State())
}

func TestRecordVoteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 20, types.StateDraftOpen)

	in := VoteInput{QuestKey: 20, Voter: "alice", Phase: types.PhaseDraft, Option: types.OptionApprove, Power: 2, Tx: "v1"}
	ok, err := s.RecordVote(ctx, in)
	require.NoError(t, err)
	assert.True(t, ok)

	again := in
	again.Option = types.OptionReject
	ok, err = s.RecordVote(ctx, again)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RecordVote(ctx, VoteInput{QuestKey: 20, Voter: "alice", Phase: types.PhaseDecision, Option: types.OptionSuccess, Power: 4})
	require.NoError(t, err)
	assert.True(t, ok)

	votes, err := s.Votes(ctx, 20)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	v := votes[0]
	require.NotNil(t, v.DraftOption)
	assert.Equal(t, types.OptionApprove, *v.DraftOption)
	assert.EqualValues(t, 2, v.DraftPower)
	require.NotNil(t, v.DecisionOption)
	assert.EqualValues(t, 4, v.DecisionPower)
	assert.Nil(t, v.AnswerKey)
}

func TestSumPower(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 21, types.StateDraftOpen)

	for _, v := range []VoteInput{
		{Voter: "a", Option: types.OptionApprove, Power: 2},
		{Voter: "b", Option: types.OptionApprove, Power: 3},
		{Voter: "c", Option: types.OptionReject, Power: 1},
	} {
		v.QuestKey, v.Phase = 21, types.PhaseDraft
		_, err := s.RecordVote(ctx, v)
		require.NoError(t, err)
	}
	sums, err := s.SumOptionPower(ctx, 21, types.PhaseDraft)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{types.OptionApprove: 5, types.OptionReject: 1}, sums)

	for _, v := range []VoteInput{
		{Voter: "a", AnswerKey: 7, Power: 2},
		{Voter: "b", AnswerKey: 8, Power: 3},
		{Voter: "c", AnswerKey: 7, Power: 1},
	} {
		v.QuestKey, v.Phase = 21, types.PhaseAnswer
		_, err := s.RecordVote(ctx, v)
		require.NoError(t, err)
	}
	answers, err := s.SumAnswerPower(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]uint64{7: 3, 8: 3}, answers)
}

func TestAddStakeAccumulates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := StakeInput{QuestKey: 30, AnswerKey: 1, Bettor: "bob", Amount: decimal.NewFromInt(300), Tx: "b1"}
	first, err := s.AddStake(ctx, in)
	require.NoError(t, err)

	in.Amount, in.Tx = decimal.NewFromInt(200), "b2"
	second, err := s.AddStake(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.BettingKey, second.BettingKey)
	assert.True(t, decimal.NewFromInt(500).Equal(second.Amount), second.Amount.String())
	assert.Equal(t, types.BettingConfirmed, second.Status)
	assert.Equal(t, "b2", second.Tx)

	all, err := s.Bettings(ctx, 30)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.AddStake(ctx, StakeInput{QuestKey: 30, AnswerKey: 1, Bettor: "bob", Amount: decimal.Zero})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestPendingStake(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b, err := s.AddPendingStake(ctx, StakeInput{QuestKey: 31, AnswerKey: 1, Bettor: "carol", Amount: decimal.NewFromInt(40)})
	require.NoError(t, err)
	assert.Equal(t, types.BettingPending, b.Status)

	confirmed, err := s.ConfirmedBets(ctx, 31)
	require.NoError(t, err)
	assert.Empty(t, confirmed)

	b, err = s.ConfirmPendingStake(ctx, b.BettingKey, true)
	require.NoError(t, err)
	assert.Equal(t, types.BettingConfirmed, b.Status)
	assert.True(t, decimal.NewFromInt(40).Equal(b.Amount))
	assert.True(t, b.PendingAmount.IsZero())

	_, err = s.ConfirmPendingStake(ctx, b.BettingKey, true)
	assert.ErrorIs(t, err, types.ErrNotPending)

	other, err := s.AddPendingStake(ctx, StakeInput{QuestKey: 31, AnswerKey: 2, Bettor: "dave", Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)
	other, err = s.ConfirmPendingStake(ctx, other.BettingKey, false)
	require.NoError(t, err)
	assert.Equal(t, types.BettingPending, other.Status)
	assert.True(t, other.Amount.IsZero())
}

func TestUpsertRewardNaturalKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &types.Reward{Wallet: "creator", QuestKey: 40, Type: types.RewardCreator, Amount: decimal.NewFromInt(30)}
	created, err := s.UpsertReward(ctx, r)
	require.NoError(t, err)
	assert.True(t, created)

	fix := &types.Reward{Wallet: "creator", QuestKey: 40, Type: types.RewardCreator, Amount: decimal.NewFromInt(31)}
	created, err = s.UpsertReward(ctx, fix)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.RewardKey, fix.RewardKey)

	got, err := s.GetReward(ctx, r.RewardKey)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(31).Equal(got.Amount))

	_, err = s.AcquireClaim(ctx, r.RewardKey)
	require.NoError(t, err)
	require.NoError(t, s.CompleteClaim(ctx, r.RewardKey, "claim-1"))
	assert.ErrorIs(t, s.CompleteClaim(ctx, r.RewardKey, "claim-2"), types.ErrSettlementAlreadyDone)

	_, err = s.UpsertReward(ctx, &types.Reward{Wallet: "creator", QuestKey: 40, Type: types.RewardCreator, Amount: decimal.NewFromInt(99)})
	require.NoError(t, err)
	got, err = s.GetReward(ctx, r.RewardKey)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(31).Equal(got.Amount), "claimed rewards are immutable")

	rows, err := s.RewardsForQuest(ctx, 40)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestClaimLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	var keys []uint64
	for _, w := range []string{"a", "b", "c"} {
		r := &types.Reward{Wallet: w, QuestKey: 7, Type: types.RewardBetting, Amount: decimal.NewFromInt(1)}
		_, err := s.UpsertReward(ctx, r)
		require.NoError(t, err)
		keys = append(keys, r.RewardKey)
	}
	held := keys[0]

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AcquireClaim(ctx, held)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			assert.ErrorIs(t, err, types.ErrAlreadyPending)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	require.NoError(t, s.RecordClaimTx(ctx, held, "partial"))
	r, err := s.GetReward(ctx, held)
	require.NoError(t, err)
	assert.True(t, r.ClaimPending)
	assert.Equal(t, "partial", r.ClaimPendingTx)

	open, err := s.UnclaimedRewards(ctx, 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, 2, "held claims are not offered again")
	for _, o := range open {
		assert.NotEqual(t, held, o.RewardKey)
	}
	page, err := s.UnclaimedRewards(ctx, open[0].RewardKey, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, open[1].RewardKey, page[0].RewardKey)

	pending, err := s.ListPendingClaims(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, held, pending[0].RewardKey)
	pending, err = s.ListPendingClaims(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.ReleaseClaim(ctx, held))
	assert.ErrorIs(t, s.ReleaseClaim(ctx, held), types.ErrNotPending)
	assert.ErrorIs(t, s.CompleteClaim(ctx, held, "tx"), types.ErrNotPending)

	_, err = s.AcquireClaim(ctx, held)
	require.NoError(t, err)
	require.NoError(t, s.CompleteClaim(ctx, held, "tx"))
	_, err = s.AcquireClaim(ctx, held)
	assert.ErrorIs(t, err, types.ErrSettlementAlreadyDone)
	_, err = s.AcquireClaim(ctx, 12345)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestNaturalKeysStable(t *testing.T) {
	assert.Equal(t, BettingKey(1, 2, "w"), BettingKey(1, 2, "w"))
	assert.NotEqual(t, BettingKey(1, 2, "w"), BettingKey(1, 3, "w"))
	assert.NotEqual(t, RewardKey("w", 1, types.RewardCreator), RewardKey("w", 1, types.RewardService))
	assert.LessOrEqual(t, RewardKey("w", 1, types.RewardCharity), uint64(1<<63-1))
}

func TestSelectAnswerExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 50, types.StateAnswerOpen)
	require.NoError(t, s.CreateAnswers(ctx, []types.Answer{
		{AnswerKey: 501, QuestKey: 50, Title: "yes"},
		{AnswerKey: 502, QuestKey: 50, Title: "no"},
	}))

	require.NoError(t, s.SelectAnswer(ctx, 50, 501))
	require.NoError(t, s.SelectAnswer(ctx, 50, 502))

	sel, err := s.SelectedAnswer(ctx, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 502, sel.AnswerKey)

	assert.ErrorIs(t, s.SelectAnswer(ctx, 50, 999), types.ErrNotFound)
}

func TestMarkRewardCalculatedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedQuest(t, s, 60, types.StateMarketSuccess)

	list, err := s.ListSettleable(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)

	ok, err := s.MarkRewardCalculated(ctx, 60)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkRewardCalculated(ctx, 60)
	require.NoError(t, err)
	assert.False(t, ok)

	list, err = s.ListSettleable(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}
