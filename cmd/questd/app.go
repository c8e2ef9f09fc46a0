package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stake-plus/questdao/src/config"
	"github.com/stake-plus/questdao/src/data"
	"github.com/stake-plus/questdao/src/governance"
	"github.com/stake-plus/questdao/src/ledger"
	"github.com/stake-plus/questdao/src/metrics"
	"github.com/stake-plus/questdao/src/power"
	"github.com/stake-plus/questdao/src/settlement"
	"github.com/stake-plus/questdao/src/store"
	"github.com/stake-plus/questdao/src/sweep"
	"github.com/stake-plus/questdao/src/tally"
	"github.com/stake-plus/questdao/src/webclient"
	"gorm.io/gorm"
)

// app holds every wired component of one process.
type app struct {
	cfg     *config.Config
	log     logrus.FieldLogger
	db      *gorm.DB
	rdb     *redis.Client
	store   *store.Store
	metrics *metrics.Collectors
	tally   *tally.Reconciler
	gov     *governance.Orchestrator
	settle  *settlement.Engine
	sweeper *sweep.Sweeper
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := data.Connect(cfg.DBDriver, cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	return db, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logrus.WithField("component", programName)
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if err := data.LoadSettings(db); err != nil {
		log.WithError(err).Warn("settings not loaded, using environment")
	}

	a := &app{cfg: cfg, log: log, db: db, store: store.New(db)}
	if cfg.RedisURL != "" {
		if a.rdb, err = data.ConnectRedis(ctx, cfg.RedisURL); err != nil {
			a.close()
			return nil, err
		}
	}

	a.metrics = metrics.New(prometheus.DefaultRegisterer)
	gw := ledger.NewGateway(cfg.LedgerURL,
		ledger.WithAPIKey(cfg.LedgerAPIKey),
		ledger.WithHTTPClient(webclient.NewDefault(cfg.LedgerTimeout)),
	)

	var src power.VotingPowerSource = power.Static{}
	if cfg.IndexerURL != "" {
		src = power.NewIndexerSource(cfg.IndexerURL, cfg.LedgerTimeout)
		if a.rdb != nil && cfg.PowerCacheTTL > 0 {
			src = power.NewCachedSource(src, a.rdb, cfg.PowerCacheTTL)
		}
	} else {
		log.Warn("no voting power indexer configured, every voter has zero power")
	}

	var events governance.Publisher
	if a.rdb != nil {
		events = data.NewEventStream(a.rdb)
	}

	a.tally = tally.New(a.store, gw, a.metrics, log)
	a.gov = governance.New(governance.Deps{
		Store:      a.store,
		Tally:      a.tally,
		Governance: gw,
		Market:     gw,
		Power:      src,
		Events:     events,
		Metrics:    a.metrics,
		Log:        log,
	}, governance.Config{
		TiePolicy:      governance.TiePolicy(cfg.TiePolicy),
		LedgerTimeout:  cfg.LedgerTimeout,
		BettingWindow:  cfg.BettingWindow,
		DecisionWindow: cfg.DecisionWindow,
		AnswerWindow:   cfg.AnswerWindow,
		TxExpiry:       cfg.TxExpiry,
	})
	a.settle = settlement.New(a.store, gw, a.metrics, log, settlement.Config{
		Precision:     cfg.RewardPrecision,
		LedgerTimeout: cfg.LedgerTimeout,
		TxExpiry:      cfg.TxExpiry,
		CharityWallet: cfg.Setting("charity_wallet", cfg.CharityWallet),
		ServiceWallet: cfg.Setting("service_wallet", cfg.ServiceWallet),
	})
	a.sweeper = sweep.New(a.store, a.gov, a.settle, a.tally, log, sweep.Config{
		Concurrency:   cfg.SweepConcurrency,
		PendingMinAge: cfg.PendingMinAge,
	})
	return a, nil
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
