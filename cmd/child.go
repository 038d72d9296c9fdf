package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeflow/forgeflow/internal/logger"
)

// childCmd implements the generic half of the child-side runner: load the
// serialized node and, if given, stage the remote config file back to a
// local ./conf/ directory. Reconstructing the node into a runnable task and
// invoking its build belongs to the embedding task framework.
func childCmd() *cobra.Command {
	var taskPklPath string
	var remoteConfigPath string

	cmd := &cobra.Command{
		Use:   "child",
		Short: "Loads one serialized node and stages its configuration (the child-side runner)",
		Run: func(cmd *cobra.Command, args []string) {
			// The child needs no orchestrator configuration, only a logger:
			// everything it acts on arrives via its command line.
			opts := []logger.Option{logger.WithFormat("text")}
			if quiet {
				opts = append(opts, logger.WithQuiet())
			}
			appLogger = logger.NewLogger(opts...)
			cobra.CheckErr(runChild(taskPklPath, remoteConfigPath))
		},
	}
	cmd.Flags().StringVar(&taskPklPath, "task-pkl-path", "", "path to the serialized node written by the master")
	cmd.Flags().StringVar(&remoteConfigPath, "remote-config-path", "", "path to the staged configuration file, if any")
	cobra.CheckErr(cmd.MarkFlagRequired("task-pkl-path"))
	return cmd
}

func runChild(taskPklPath, remoteConfigPath string) error {
	data, err := os.ReadFile(taskPklPath)
	if err != nil {
		return fmt.Errorf("child: read task object %q: %w", taskPklPath, err)
	}
	appLogger.Infof("Loaded task object from %s (%d bytes)", taskPklPath, len(data))

	if remoteConfigPath != "" {
		if err := stageLocalConfig(remoteConfigPath); err != nil {
			return err
		}
	}

	return nil
}

// stageLocalConfig copies the config file the master staged to shared
// storage into this container's local ./conf/ directory, so master and
// child load identical configuration.
func stageLocalConfig(remoteConfigPath string) error {
	data, err := os.ReadFile(remoteConfigPath)
	if err != nil {
		return fmt.Errorf("child: read remote config %q: %w", remoteConfigPath, err)
	}
	if err := os.MkdirAll("conf", 0o755); err != nil {
		return fmt.Errorf("child: create local conf dir: %w", err)
	}
	localPath := filepath.Join("conf", filepath.Base(remoteConfigPath))
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("child: stage local config %q: %w", localPath, err)
	}
	return nil
}
