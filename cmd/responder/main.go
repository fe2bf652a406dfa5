// Command responder runs the incident-response pipeline: it consumes security
// findings from the intake queue, isolates affected resources, delivers
// alerts and keeps an advisory record for every finding.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/zero-day-ai/responder/config"
)

const version = "0.1.0"

var (
	configPath string
	envFile    string
	logLevel   string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "responder",
		Short: "Automated security incident response",
		Long: `responder turns security findings into actions.

Findings from a detection engine or an advisory feed are normalized, triaged
against a severity threshold and then, concurrently:
- the affected resource is isolated (EC2 instance or Kubernetes pod)
- an alert is published (SNS, Kafka, Redis or log)
- an advisory record is kept for compliance tracking`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to responder.yaml (default: search from the working directory)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newAdvisoriesCommand())
	rootCmd.AddCommand(newFindingsCommand())
	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newReleaseCommand())
	rootCmd.AddCommand(newDeadLettersCommand())
	rootCmd.AddCommand(newHealthCommand())
	return rootCmd
}

// loadConfig reads the dotenv file, the config file and RESPONDER_* overrides.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	path := configPath
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		}
	}

	cfg, err := config.LoadViper(config.NewViper(), path)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log = &config.LogConfig{Level: logLevel}
	}
	return cfg, nil
}
