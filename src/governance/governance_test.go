package governance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/ledger/ledgertest"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/power"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/store/storetest"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func wallet(n byte) string {
	b := make([]byte, 32)
	for i := range b {
		b[i] = n + byte(i)
	}
	return base58.Encode(b)
}

var (
	creator = wallet(1)
	alice   = wallet(10)
	bob     = wallet(20)
	carol   = wallet(30)
	dave    = wallet(40)
	nobody  = wallet(50)
)

type recorder struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (r *recorder) Publish(_ context.Context, event map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e["type"] == kind {
			n++
		}
	}
	return n
}

type env struct {
	o      *Orchestrator
	st     *store.Store
	fake   *ledgertest.Fake
	events *recorder
	clock  time.Time
}

func (e *env) advance(d time.Duration) { e.clock = e.clock.Add(d) }

func setup(t *testing.T, cfg Config) *env {
	t.Helper()
	st := storetest.New(t)
	storetest.Season(t, st, "3", "1", "3")
	fake := ledgertest.New()
	e := &env{st: st, fake: fake, events: &recorder{}, clock: time.Now().UTC()}
	if cfg.LedgerTimeout == 0 {
		cfg.LedgerTimeout = 2 * time.Second
	}
	e.o = New(Deps{
		Store:      st,
		Governance: fake,
		Market:     fake,
		Power:      power.Static{alice: 2, bob: 3, carol: 1, dave: 2},
		Events:     e.events,
		Metrics:    metrics.New(prometheus.NewRegistry()),
	}, cfg)
	e.o.now = func() time.Time { return e.clock }
	return e
}

func (e *env) createQuest(t *testing.T, key uint64) {
	t.Helper()
	_, err := e.o.CreateQuest(context.Background(), NewQuest{
		QuestKey:    key,
		Title:       "Will <b>it</b> rain?",
		Description: `<p onclick="x()">Resolves on the weather report.</p>`,
		Creator:     creator,
		Answers: []NewAnswer{
			{AnswerKey: key*10 + 1, Title: "Yes"},
			{AnswerKey: key*10 + 2, Title: "No"},
		},
	})
	require.NoError(t, err)
}

func (e *env) vote(t *testing.T, phase types.Phase, key uint64, voter, option string, answer uint64) VoteResult {
	t.Helper()
	req := VoteRequest{QuestKey: key, Voter: voter, Option: option, AnswerKey: answer}
	var (
		res VoteResult
		err error
	)
	switch phase {
	case types.PhaseDraft:
		res, err = e.o.CastDraftVote(context.Background(), req)
	case types.PhaseDecision:
		res, err = e.o.CastDecisionVote(context.Background(), req)
	default:
		res, err = e.o.CastAnswerVote(context.Background(), req)
	}
	require.NoError(t, err)
	return res
}

func (e *env) quest(t *testing.T, key uint64) *types.Quest {
	t.Helper()
	q, err := e.st.GetQuest(context.Background(), key)
	require.NoError(t, err)
	return q
}

func TestCreateQuestSanitizesAndValidates(t *testing.T) {
	e := setup(t, Config{})
	e.createQuest(t, 1)

	q := e.quest(t, 1)
	assert.Equal(t, "Will it rain?", q.Title)
	assert.NotContains(t, q.Description, "onclick")
	assert.Equal(t, types.StateDraftOpen, q.State())
	assert.Equal(t, 1, e.events.count("quest_created"))

	_, err := e.o.CreateQuest(context.Background(), NewQuest{QuestKey: 2, Title: "x", Creator: "not-a-wallet"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = e.o.CreateQuest(context.Background(), NewQuest{QuestKey: 1, Title: "again", Creator: creator})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestDraftApprovedByPower(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 1)

	e.vote(t, types.PhaseDraft, 1, alice, "approve", 0)
	e.vote(t, types.PhaseDraft, 1, bob, types.OptionApprove, 0)
	e.vote(t, types.PhaseDraft, 1, carol, types.OptionReject, 0)

	res, err := e.o.ResolveDraft(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusApprove, res.Status)
	assert.False(t, res.Forced)
	assert.Equal(t, 1, e.fake.Calls("SetResult"))
	assert.Zero(t, e.fake.Calls("ForceResult"))

	q := e.quest(t, 1)
	assert.False(t, q.Pending)
	assert.Equal(t, res.Tx, q.DraftTx)

	again, err := e.o.ResolveDraft(ctx, 1)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, types.StatusApprove, again.Status)
	assert.Equal(t, res.Tx, again.Tx)
	assert.Equal(t, 1, e.fake.Calls("SetResult"))
}

func TestDraftRejected(t *testing.T) {
	e := setup(t, Config{})
	e.createQuest(t, 1)
	e.vote(t, types.PhaseDraft, 1, carol, types.OptionApprove, 0)
	e.vote(t, types.PhaseDraft, 1, bob, types.OptionReject, 0)

	res, err := e.o.ResolveDraft(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, types.StateRejected, types.State{Status: res.Status, Stage: res.Stage})

	_, err = e.o.Publish(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrInvalidPhase)
}

func TestDraftTieUsesForcePath(t *testing.T) {
	for policy, want := range map[TiePolicy]types.Status{
		"":             types.StatusApprove,
		TieAffirmative: types.StatusApprove,
		TieNegative:    types.StatusReject,
	} {
		e := setup(t, Config{TiePolicy: policy})
		e.createQuest(t, 1)
		e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
		e.vote(t, types.PhaseDraft, 1, dave, types.OptionReject, 0)

		res, err := e.o.ResolveDraft(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, want, res.Status, "policy %q", policy)
		assert.True(t, res.Forced)
		assert.Equal(t, 1, e.fake.Calls("ForceResult"))
		assert.Zero(t, e.fake.Calls("SetResult"))
		assert.True(t, e.quest(t, 1).DraftForced)
	}
}

func TestVoteIdempotentAndEligibility(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 1)

	first := e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	assert.True(t, first.Recorded)
	assert.EqualValues(t, 2, first.Power)

	second := e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	assert.False(t, second.Recorded)
	assert.Equal(t, first.Tx, second.Tx)
	assert.Equal(t, 1, e.fake.Calls("SubmitDraftVote"))

	votes, err := e.st.Votes(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, votes, 1)

	_, err = e.o.CastDraftVote(ctx, VoteRequest{QuestKey: 1, Voter: nobody, Option: types.OptionApprove})
	assert.ErrorIs(t, err, types.ErrNotEligible)
	_, err = e.o.CastDraftVote(ctx, VoteRequest{QuestKey: 1, Voter: alice, Option: types.OptionSuccess})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = e.o.CastDecisionVote(ctx, VoteRequest{QuestKey: 1, Voter: bob, Option: types.OptionSuccess})
	assert.ErrorIs(t, err, types.ErrInvalidPhase)
}

func TestVoteRejectedByLedgerNotRecorded(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 1)
	e.fake.Fail("SubmitDraftVote", ledger.Rejected("SubmitDraftVote", "AlreadyVoted", errors.New("duplicate")))

	_, err := e.o.CastDraftVote(ctx, VoteRequest{QuestKey: 1, Voter: alice, Option: types.OptionApprove})
	assert.ErrorIs(t, err, types.ErrLedgerRejected)
	_, err = e.st.GetVote(ctx, 1, alice)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestConcurrentResolveSingleWinner(t *testing.T) {
	e := setup(t, Config{LedgerTimeout: 10 * time.Second})
	e.createQuest(t, 1)
	e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	e.fake.Hold = make(chan struct{})

	const n = 6
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := e.o.ResolveDraft(context.Background(), 1)
			errs <- err
		}()
	}

	for i := 0; i < n-1; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, types.ErrAlreadyPending)
		case <-time.After(5 * time.Second):
			t.Fatal("losers did not fail fast")
		}
	}
	close(e.fake.Hold)
	require.NoError(t, <-errs)
	assert.Equal(t, types.StatusApprove, e.quest(t, 1).Status)
	assert.Equal(t, 1, e.fake.Calls("SetResult"))
}

func TestLedgerRejectionReleasesLock(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 1)
	e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	_, err := e.o.ResolveDraft(ctx, 1)
	require.NoError(t, err)

	e.fake.Fail("PublishMarket", ledger.Rejected("PublishMarket", "6001", errors.New("market exists")))
	_, err = e.o.Publish(ctx, 1)
	require.ErrorIs(t, err, types.ErrLedgerRejected)

	q := e.quest(t, 1)
	assert.False(t, q.Pending)
	assert.Equal(t, types.StateApproved, q.State())

	res, err := e.o.Publish(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPublish, res.Status)
}

func TestPublishNeedsAnswers(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	_, err := e.o.CreateQuest(ctx, NewQuest{QuestKey: 5, Title: "No answers yet", Creator: creator})
	require.NoError(t, err)
	e.vote(t, types.PhaseDraft, 5, alice, types.OptionApprove, 0)
	_, err = e.o.ResolveDraft(ctx, 5)
	require.NoError(t, err)

	_, err = e.o.Publish(ctx, 5)
	require.ErrorIs(t, err, types.ErrNoAnswers)
	assert.False(t, e.quest(t, 5).Pending)

	answers, err := e.o.AddAnswers(ctx, 5, []NewAnswer{{AnswerKey: 51, Title: "Yes"}})
	require.NoError(t, err)
	assert.Len(t, answers, 1)
	_, err = e.o.Publish(ctx, 5)
	require.NoError(t, err)
}

// An unconfirmed write leaves the quest pending with its state unchanged;
// reconciliation that finds the write on the ledger completes it once.
func TestTimeoutThenReconcileLanded(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 1)
	e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	e.vote(t, types.PhaseDraft, 1, carol, types.OptionReject, 0)
	e.fake.LandThenFail("SetResult", ledger.Ambiguous("SetResult", "", context.DeadlineExceeded))

	_, err := e.o.ResolveDraft(ctx, 1)
	require.ErrorIs(t, err, types.ErrLedgerTimeout)
	var pending *types.PendingError
	require.True(t, errors.As(err, &pending))
	assert.NotEmpty(t, pending.Tx)

	q := e.quest(t, 1)
	assert.True(t, q.Pending)
	assert.Equal(t, types.StateDraftOpen, q.State())
	assert.Equal(t, pending.Tx, q.PendingTx)

	_, err = e.o.ResolveDraft(ctx, 1)
	assert.ErrorIs(t, err, types.ErrAlreadyPending)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		already int
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.o.ReconcilePending(ctx, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, types.ErrNotPending):
				already++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 2, already)

	q = e.quest(t, 1)
	assert.False(t, q.Pending)
	assert.Equal(t, types.StateApproved, q.State())
	assert.Equal(t, pending.Tx, q.DraftTx)
	assert.Equal(t, 1, e.fake.Calls("SetResult"))
	assert.Equal(t, 1, e.events.count("transition"))
}

func TestTimeoutThenReconcileExpired(t *testing.T) {
	e := setup(t, Config{LedgerTimeout: 50 * time.Millisecond, TxExpiry: 10 * time.Minute})
	ctx := context.Background()
	e.createQuest(t, 1)
	e.vote(t, types.PhaseDraft, 1, alice, types.OptionApprove, 0)
	_, err := e.o.ResolveDraft(ctx, 1)
	require.NoError(t, err)

	e.fake.Hold = make(chan struct{})
	_, err = e.o.Publish(ctx, 1)
	require.ErrorIs(t, err, types.ErrLedgerTimeout)
	assert.True(t, e.quest(t, 1).Pending)

	_, err = e.o.ReconcilePending(ctx, 1)
	require.ErrorIs(t, err, types.ErrLedgerTimeout)
	assert.True(t, e.quest(t, 1).Pending)

	e.advance(time.Hour)
	res, err := e.o.ReconcilePending(ctx, 1)
	require.NoError(t, err)
	assert.True(t, res.Released)

	q := e.quest(t, 1)
	assert.False(t, q.Pending)
	assert.Equal(t, types.StateApproved, q.State())
	assert.Empty(t, q.PublishTx)
}

func TestFullLifecycleToMarketSuccess(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 7)
	yes, no := uint64(71), uint64(72)

	e.vote(t, types.PhaseDraft, 7, alice, types.OptionApprove, 0)
	_, err := e.o.ResolveDraft(ctx, 7)
	require.NoError(t, err)
	_, err = e.o.Publish(ctx, 7)
	require.NoError(t, err)

	_, err = e.o.PlaceBet(ctx, BetRequest{QuestKey: 7, AnswerKey: yes, Wallet: bob, Amount: decimal.NewFromInt(300)})
	require.NoError(t, err)
	b, err := e.o.PlaceBet(ctx, BetRequest{QuestKey: 7, AnswerKey: yes, Wallet: bob, Amount: decimal.NewFromInt(200)})
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(decimal.NewFromInt(500)))

	_, err = e.o.Finish(ctx, 7)
	require.ErrorIs(t, err, types.ErrInvalidPhase)
	assert.False(t, e.quest(t, 7).Pending)

	e.advance(8 * 24 * time.Hour)
	_, err = e.o.PlaceBet(ctx, BetRequest{QuestKey: 7, AnswerKey: no, Wallet: carol, Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, types.ErrBettingClosed)

	_, err = e.o.Finish(ctx, 7)
	require.NoError(t, err)
	_, err = e.o.StartDecision(ctx, 7)
	require.NoError(t, err)

	e.vote(t, types.PhaseDecision, 7, bob, types.OptionSuccess, 0)
	e.vote(t, types.PhaseDecision, 7, carol, types.OptionAdjourn, 0)
	res, err := e.o.ResolveDecision(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, types.StateAnswerOpen, types.State{Status: res.Status, Stage: res.Stage})

	started, err := e.o.StartAnswer(ctx, 7)
	require.NoError(t, err)
	assert.True(t, started.Replayed)

	e.vote(t, types.PhaseAnswer, 7, alice, "", no)
	e.vote(t, types.PhaseAnswer, 7, bob, "", yes)
	_, err = e.o.ResolveAnswer(ctx, 7)
	require.NoError(t, err)

	selected, err := e.st.SelectedAnswer(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, yes, selected.AnswerKey)
	assert.False(t, selected.Pending)

	res, err = e.o.SettleMarket(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, types.StateMarketSuccess, types.State{Status: res.Status, Stage: res.Stage})

	again, err := e.o.SettleMarket(ctx, 7)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, e.fake.Calls("SuccessMarket"))
	assert.Equal(t, 7, e.events.count("transition"))
	assert.True(t, e.fake.Staked(7).Equal(decimal.NewFromInt(500)))
}

func TestAdjournAndRefund(t *testing.T) {
	e := setup(t, Config{BettingWindow: time.Hour})
	ctx := context.Background()
	e.createQuest(t, 3)
	e.vote(t, types.PhaseDraft, 3, alice, types.OptionApprove, 0)
	for _, step := range []func(context.Context, uint64) (Result, error){e.o.ResolveDraft, e.o.Publish} {
		_, err := step(ctx, 3)
		require.NoError(t, err)
	}
	e.advance(2 * time.Hour)
	for _, step := range []func(context.Context, uint64) (Result, error){e.o.Finish, e.o.StartDecision} {
		_, err := step(ctx, 3)
		require.NoError(t, err)
	}
	e.vote(t, types.PhaseDecision, 3, bob, types.OptionAdjourn, 0)

	res, err := e.o.ResolveDecision(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, types.StateRefundPending, types.State{Status: res.Status, Stage: res.Stage})

	_, err = e.o.ResolveAnswer(ctx, 3)
	assert.ErrorIs(t, err, types.ErrInvalidPhase)

	res, err = e.o.Refund(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, types.StateRefunded, types.State{Status: res.Status, Stage: res.Stage})
	res, err = e.o.Refund(ctx, 3)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
}

func TestPendingBetConfirmed(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 4)
	e.vote(t, types.PhaseDraft, 4, alice, types.OptionApprove, 0)
	_, err := e.o.ResolveDraft(ctx, 4)
	require.NoError(t, err)
	_, err = e.o.Publish(ctx, 4)
	require.NoError(t, err)

	e.fake.Fail("PlaceBet", ledger.Ambiguous("PlaceBet", "partial-sig", errors.New("confirmation timed out")))
	b, err := e.o.PlaceBet(ctx, BetRequest{QuestKey: 4, AnswerKey: 41, Wallet: bob, Amount: decimal.NewFromInt(50)})
	require.ErrorIs(t, err, types.ErrLedgerTimeout)
	require.NotNil(t, b)
	assert.Equal(t, types.BettingPending, b.Status)
	assert.True(t, b.PendingAmount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "partial-sig", b.Tx)

	b, err = e.o.ConfirmBet(ctx, b.BettingKey, true)
	require.NoError(t, err)
	assert.Equal(t, types.BettingConfirmed, b.Status)
	assert.True(t, b.Amount.Equal(decimal.NewFromInt(50)))

	_, err = e.o.ConfirmBet(ctx, b.BettingKey, true)
	assert.ErrorIs(t, err, types.ErrNotPending)
}

func TestReconcileNotPending(t *testing.T) {
	e := setup(t, Config{})
	e.createQuest(t, 1)
	_, err := e.o.ReconcilePending(context.Background(), 1)
	assert.ErrorIs(t, err, types.ErrNotPending)
	_, err = e.o.ReconcilePending(context.Background(), 99)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReplayedVoteReportsPhasePower(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 3)

	e.vote(t, types.PhaseDraft, 3, alice, types.OptionApprove, 0)
	_, err := e.o.ResolveDraft(ctx, 3)
	require.NoError(t, err)
	_, err = e.o.Publish(ctx, 3)
	require.NoError(t, err)
	e.advance(8 * 24 * time.Hour)
	_, err = e.o.Finish(ctx, 3)
	require.NoError(t, err)
	_, err = e.o.StartDecision(ctx, 3)
	require.NoError(t, err)

	e.o.power = power.Static{alice: 5, bob: 3, carol: 1, dave: 2}
	first := e.vote(t, types.PhaseDecision, 3, alice, types.OptionSuccess, 0)
	assert.True(t, first.Recorded)
	assert.EqualValues(t, 5, first.Power)

	again := e.vote(t, types.PhaseDecision, 3, alice, types.OptionSuccess, 0)
	assert.False(t, again.Recorded)
	assert.EqualValues(t, 5, again.Power)
	assert.Equal(t, first.Tx, again.Tx)
	assert.Equal(t, 1, e.fake.Calls("SubmitDecisionVote"))
}

func TestReconcileLandedForcedDraft(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	e.createQuest(t, 2)
	e.vote(t, types.PhaseDraft, 2, alice, types.OptionApprove, 0)
	e.vote(t, types.PhaseDraft, 2, dave, types.OptionReject, 0)
	e.fake.LandThenFail("ForceResult", ledger.Ambiguous("ForceResult", "", context.DeadlineExceeded))

	_, err := e.o.ResolveDraft(ctx, 2)
	require.ErrorIs(t, err, types.ErrLedgerTimeout)
	assert.False(t, e.quest(t, 2).DraftForced)

	res, err := e.o.ReconcilePending(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.Forced)
	assert.Equal(t, types.StatusApprove, res.Status)

	q := e.quest(t, 2)
	assert.False(t, q.Pending)
	assert.True(t, q.DraftForced)
	assert.Equal(t, 1, e.fake.Calls("ForceResult"))
}

func TestAddAnswersBlockedWhilePending(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	_, err := e.o.CreateQuest(ctx, NewQuest{QuestKey: 6, Title: "Held", Creator: creator})
	require.NoError(t, err)
	e.vote(t, types.PhaseDraft, 6, alice, types.OptionApprove, 0)
	_, err = e.o.ResolveDraft(ctx, 6)
	require.NoError(t, err)

	_, err = e.st.AcquirePending(ctx, 6, types.OpPublish, types.StateApproved)
	require.NoError(t, err)
	_, err = e.o.AddAnswers(ctx, 6, []NewAnswer{{AnswerKey: 61, Title: "Yes"}})
	require.ErrorIs(t, err, types.ErrAlreadyPending)

	answers, err := e.st.Answers(ctx, 6)
	require.NoError(t, err)
	assert.Empty(t, answers)

	require.NoError(t, e.st.ReleasePending(ctx, 6, types.OpPublish))
	answers, err = e.o.AddAnswers(ctx, 6, []NewAnswer{{AnswerKey: 61, Title: "Yes"}})
	require.NoError(t, err)
	assert.Len(t, answers, 1)
}
