package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/versus/internal/votesim"
	"github.com/okian/versus/pkg/logger"
)

// Default configuration constants.
const (
	defaultVotes       = 10000
	defaultItems       = 50
	defaultVoters      = 200
	defaultWorkers     = 2 // multiplier for runtime.NumCPU()
	defaultTimeout     = 30 * time.Second
	defaultSettle      = 2 * time.Minute
	defaultRunDeadline = 10 * time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &votesim.Config{}
	var logLevel string

	cmd := &cobra.Command{
		Use:   "vote-sim",
		Short: "Drive a versus service with simulated voters and verify the standings",
		Example: `  vote-sim --url http://localhost:9080 --votes 50000 --items 100
  vote-sim --collection demo --voters 10 --seed 42 --output votes.json -v`,
		SilenceUsage: true,
		PreRunE: func(_ *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			if cfg.Verbose {
				logLevel = "debug"
			}
			return logger.SetLevelString(logLevel)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, defaultRunDeadline)
			defer cancel()

			if _, err := votesim.Run(ctx, cfg); err != nil {
				logger.Get().Error(ctx, "simulation failed", logger.Error(err))
				return err
			}
			logger.Get().Info(ctx, "simulation completed successfully")
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "Base URL of the service")
	f.StringVar(&cfg.Collection, "collection", "sim", "Collection to vote in")
	f.IntVar(&cfg.Items, "items", defaultItems, "Number of distinct items")
	f.IntVar(&cfg.Voters, "voters", defaultVoters, "Number of distinct voters")
	f.IntVar(&cfg.Votes, "votes", defaultVotes, "Number of votes to generate and submit")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&cfg.Settle, "settle", defaultSettle, "How long to wait for standings to catch up")
	f.StringVar(&cfg.VoterHeader, "voter-header", "X-Voter-Id", "Header carrying the voter identity")
	f.Float64Var(&cfg.Baseline, "baseline", 400, "Baseline rating used for the conservation check; 0 disables it")
	f.Uint64Var(&cfg.Seed, "seed", 0, "Generator seed; 0 picks a random one")
	f.StringVar(&cfg.OutputFile, "output", "", "Write the generated votes to this JSON file")
	f.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging")
	return cmd
}
