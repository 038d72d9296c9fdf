package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forgeflow/internal/build"
	cfgpkg "github.com/forgeflow/forgeflow/internal/config"
	"github.com/forgeflow/forgeflow/internal/logger"
)

var (
	// cfgFile is the --config flag value.
	cfgFile string
	// quiet is the --quiet flag value.
	quiet bool

	appConfig *cfgpkg.Config
	appLogger logger.Logger
)

func main() {
	cmd := &cobra.Command{
		Use:   build.Slug,
		Short: "DAG-aware batch orchestrator",
		Long:  "Materializes a task graph and drives it to completion, dispatching nodes locally or as child container jobs.",
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/"+build.Slug+"/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress stdout logging")

	cmd.AddCommand(masterCmd())
	cmd.AddCommand(childCmd())
	cmd.AddCommand(versionCmd())

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and builds the shared Logger, called by
// the master subcommand's Run once flags are parsed.
func loadConfig() error {
	cfg, err := cfgpkg.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}
	appConfig = cfg

	opts := []logger.Option{logger.WithFormat("text")}
	if quiet {
		opts = append(opts, logger.WithQuiet())
	}
	appLogger = logger.NewLogger(opts...)
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(build.Version)
		},
	}
}
