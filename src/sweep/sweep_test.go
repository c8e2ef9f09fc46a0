package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/ledger/ledgertest"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/power"
	"github.com/stake-plus/questdao/src/settlement"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/store/storetest"
	"github.com/stake-plus/questdao/src/tally"
	"github.com/stake-plus/questdao/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type env struct {
	sw     *Sweeper
	st     *store.Store
	fake   *ledgertest.Fake
	season *types.Season
}

func setup(t *testing.T, cfg Config) *env {
	t.Helper()
	st := storetest.New(t)
	season := storetest.Season(t, st, "0", "0", "0")
	fake := ledgertest.New()
	m := metrics.New(prometheus.NewRegistry())
	rec := tally.New(st, fake, m, nil)
	gov := governance.New(governance.Deps{
		Store:      st,
		Tally:      rec,
		Governance: fake,
		Market:     fake,
		Power:      power.Static{},
		Metrics:    m,
	}, governance.Config{TxExpiry: time.Nanosecond})
	eng := settlement.New(st, fake, m, nil, settlement.Config{})
	return &env{
		sw:     New(st, gov, eng, rec, nil, cfg),
		st:     st,
		fake:   fake,
		season: season,
	}
}

func (e *env) resolved(t *testing.T, key uint64) {
	t.Helper()
	ctx := context.Background()
	storetest.Quest(t, e.st, e.season, key, types.StateMarketSuccess, key*10+1, key*10+2)
	require.NoError(t, e.st.SelectAnswer(ctx, key, key*10+1))
	_, err := e.st.AddStake(ctx, store.StakeInput{
		QuestKey: key, AnswerKey: key*10 + 1, Bettor: "alice", Amount: decimal.NewFromInt(10), Tx: "tx",
	})
	require.NoError(t, err)
}

func TestSettleAll(t *testing.T) {
	e := setup(t, Config{Concurrency: 2})
	ctx := context.Background()
	for _, key := range []uint64{1, 2, 3} {
		e.resolved(t, key)
	}
	storetest.Quest(t, e.st, e.season, 4, types.StateBettingOpen, 41)

	rep, err := e.sw.SettleAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Settled)
	assert.Zero(t, rep.Failed)

	for _, key := range []uint64{1, 2, 3} {
		q, err := e.st.GetQuest(ctx, key)
		require.NoError(t, err)
		assert.True(t, q.RewardCalculated)
	}

	rep, err = e.sw.SettleAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Settled)
}

func TestDistributeAll(t *testing.T) {
	e := setup(t, Config{Concurrency: 2, BatchSize: 2})
	ctx := context.Background()
	for _, key := range []uint64{1, 2, 3} {
		e.resolved(t, key)
	}
	_, err := e.sw.SettleAll(ctx)
	require.NoError(t, err)

	e.fake.LandThenFail("ClaimPayout", ledger.Ambiguous("ClaimPayout", "", context.DeadlineExceeded))
	rep, err := e.sw.DistributeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Paid)
	assert.Equal(t, 1, rep.Waiting)
	assert.Zero(t, rep.Failed)

	rep, err = e.sw.DistributeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep, "held and paid rewards are skipped")
	assert.Equal(t, 3, e.fake.Calls("ClaimPayout"))

	e.sw.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }
	rep, err = e.sw.ReconcileAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reconciled)

	open, err := e.st.UnclaimedRewards(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Equal(t, 3, e.fake.Paid())
	assert.Equal(t, 3, e.fake.Calls("ClaimPayout"))
}

func TestReconcileAllPending(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	storetest.Quest(t, e.st, e.season, 1, types.StateDraftOpen, 11)
	storetest.Quest(t, e.st, e.season, 2, types.StateDraftOpen, 21)
	_, err := e.st.AcquirePending(ctx, 1, types.OpResolveDraft, types.StateDraftOpen)
	require.NoError(t, err)
	e.sw.now = func() time.Time { return time.Now().UTC().Add(time.Minute) }

	rep, err := e.sw.ReconcileAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Released)
	assert.Zero(t, rep.Failed)

	q, err := e.st.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.False(t, q.Pending)
	assert.Equal(t, types.StateDraftOpen, q.State())
}

func TestReconcileSkipsYoungLocks(t *testing.T) {
	e := setup(t, Config{PendingMinAge: time.Hour})
	ctx := context.Background()
	storetest.Quest(t, e.st, e.season, 1, types.StateDraftOpen, 11)
	_, err := e.st.AcquirePending(ctx, 1, types.OpResolveDraft, types.StateDraftOpen)
	require.NoError(t, err)

	rep, err := e.sw.ReconcileAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)

	q, err := e.st.GetQuest(ctx, 1)
	require.NoError(t, err)
	assert.True(t, q.Pending)
}

func TestVerifyAllCountsMismatches(t *testing.T) {
	e := setup(t, Config{})
	ctx := context.Background()
	storetest.Quest(t, e.st, e.season, 1, types.StateDraftOpen, 11)
	storetest.Quest(t, e.st, e.season, 2, types.StateDecisionOpen, 21)
	e.fake.SetTally(2, types.PhaseDecision, 5, 0)

	rep, err := e.sw.VerifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Verified)
	assert.Equal(t, 1, rep.Mismatches)

	q, err := e.st.GetQuest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.StateDecisionOpen, q.State())
}

func TestRunOnceAndSchedule(t *testing.T) {
	e := setup(t, Config{})
	e.resolved(t, 1)

	rep, err := e.sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Settled)
	assert.Equal(t, 1, rep.Paid)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.sw.Run(ctx, "@every 1h"))
	assert.Error(t, e.sw.Run(context.Background(), "not a schedule"))
}
