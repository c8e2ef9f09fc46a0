package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stake-plus/questdao/src/data"
	"github.com/stake-plus/questdao/src/webserver"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func serveCommand() *cobra.Command {
	var withSweeper bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			if err := data.Migrate(a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			if cfg.JWTSecret == "" {
				a.log.Warn("JWT_SECRET not set, authenticated routes are disabled")
			}

			var nonces webserver.NonceStore
			if a.rdb != nil {
				nonces = data.NewNonces(a.rdb, 5*time.Minute)
			}
			srv := webserver.New(webserver.Deps{
				Store:    a.store,
				Gov:      a.gov,
				Settle:   a.settle,
				Tally:    a.tally,
				Nonces:   nonces,
				Gatherer: prometheus.DefaultGatherer,
				Log:      a.log,
			}, webserver.Options{
				JWTSecret:    []byte(cfg.JWTSecret),
				Admins:       cfg.Admins(),
				AllowOrigins: cfg.AllowOrigins,
				RateLimit:    cfg.RateLimit,
			})
			defer srv.Close()

			go reloadSettings(ctx, a, time.Minute)
			if withSweeper {
				go func() {
					if err := a.sweeper.Run(ctx, cfg.SweepSchedule); err != nil {
						a.log.WithError(err).Error("sweeper stopped")
					}
				}()
			}

			httpSrv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           srv,
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() { errCh <- httpSrv.ListenAndServe() }()
			a.log.WithField("port", cfg.Port).Info("questd API listening")

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http: %w", err)
				}
			case <-ctx.Done():
			}
			shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShut()
			return httpSrv.Shutdown(shutCtx)
		},
	}
	cmd.Flags().BoolVar(&withSweeper, "with-sweeper", false, "also run the sweeper on SWEEP_SCHEDULE")
	return cmd
}

// reloadSettings refreshes the settings cache so rotated wallets apply
// without a restart.
func reloadSettings(ctx context.Context, a *app, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := data.LoadSettings(a.db); err != nil {
				a.log.WithError(err).Warn("settings reload failed")
			}
		}
	}
}

func sweepCommand() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Settle, pay out, reconcile and verify quests once, or on a schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if schedule != "" {
				go reloadSettings(ctx, a, time.Minute)
				return a.sweeper.Run(ctx, schedule)
			}
			rep, err := a.sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"settled":    rep.Settled,
				"paid":       rep.Paid,
				"reconciled": rep.Reconciled,
				"released":   rep.Released,
				"waiting":    rep.Waiting,
				"verified":   rep.Verified,
				"mismatches": rep.Mismatches,
				"failed":     rep.Failed,
			}).Info("sweep done")
			return nil
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron schedule, e.g. "@every 1m"; empty runs once`)
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(configFrom(cmd))
			if err != nil {
				return err
			}
			defer func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			}()
			if err := data.Migrate(db); err != nil {
				return err
			}
			logrus.WithField("component", programName).Info("schema migrated")
			return nil
		},
	}
}

func reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [quest-key]",
		Short: "Resolve quests and reward claims left pending by unconfirmed ledger writes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, configFrom(cmd))
			if err != nil {
				return err
			}
			defer a.close()

			if len(args) == 0 {
				rep, err := a.sweeper.ReconcileAllPending(ctx)
				if err != nil {
					return err
				}
				a.log.WithFields(logrus.Fields{
					"reconciled": rep.Reconciled,
					"released":   rep.Released,
					"waiting":    rep.Waiting,
					"failed":     rep.Failed,
				}).Info("reconciliation done")
				return nil
			}

			key, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad quest key %q", args[0])
			}
			res, err := a.gov.ReconcilePending(ctx, key)
			if err != nil {
				return err
			}
			a.log.WithFields(logrus.Fields{
				"quest_key": key,
				"status":    res.Status,
				"stage":     res.Stage,
				"released":  res.Released,
			}).Info("quest reconciled")
			return nil
		},
	}
}
