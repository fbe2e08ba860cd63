package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dev/bravebird/form-submitter/pkg/config"
	"dev/bravebird/form-submitter/pkg/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// errUnclean makes the process exit non-zero without printing anything more
var errUnclean = errors.New("some targets were not submitted")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "submitter",
		Short:         "Submit one paper to many conference sites, exactly once each",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(viper.New(), cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console"})
				return err
			}
			cfg = loaded
			observability.InitializeLogger(cfg.Logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			observability.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.GetEnv("SUBMITTER_CONFIG", ""), "config file (default is ./submitter.yaml)")

	root.AddCommand(newRunCmd(), newReportCmd(), newRecordsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errUnclean) {
			observability.GetLogger().Error("Command failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		observability.Sync()
		os.Exit(1)
	}
}
