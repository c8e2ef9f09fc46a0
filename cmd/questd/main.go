package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stake-plus/questdao/src/config"
	"github.com/stake-plus/questdao/src/logging"
)

const programName = "questd"

type cfgKey struct{}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(cfgKey{}).(*config.Config)
	return cfg
}

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Quest governance, vote tally and reward settlement service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file to load")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(envFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		logging.Setup(cfg.LogLevel, cfg.LogFormat)
		cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
		return nil
	}

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(sweepCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(reconcileCommand())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logrus.WithField("component", programName).WithError(err).Error("exiting")
		os.Exit(1)
	}
}
