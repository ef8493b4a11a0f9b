package votesim

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/versus/pkg/logger"
)

const (
	directoryPermission = 0750
	settlePollInterval  = 100 * time.Millisecond
)

// Run executes a complete simulation against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := logger.Named("votesim")
	stats := &Stats{StartTime: time.Now()}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	log.Info(ctx, "starting vote simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("collection", cfg.Collection),
		logger.Int("items", cfg.Items),
		logger.Int("voters", cfg.Voters),
		logger.Int("votes", cfg.Votes),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", seed),
	)

	client := NewClient(cfg.BaseURL, cfg.VoterHeader, cfg.Timeout)

	// Step 1: Check service health
	if err := client.Health(ctx); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Generate votes
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	pop := NewPopulation(rng, cfg.Items)
	votes, unique := Generate(rng, cfg, pop)
	stats.Generated, stats.Unique = len(votes), unique

	if cfg.OutputFile != "" {
		if err := saveVotes(cfg.OutputFile, votes); err != nil {
			log.Warn(ctx, "failed to save votes", logger.Error(err))
		}
	}

	// Step 3: Submit votes concurrently
	if err := submit(ctx, cfg, client, votes, stats); err != nil {
		return stats, fmt.Errorf("vote submission failed: %w", err)
	}

	// Step 4: Wait until every accepted vote shows up in the standings
	entries, err := settle(ctx, cfg, client, stats)
	if err != nil {
		return stats, err
	}

	// Step 5: Verify results
	if err := Verify(entries, stats, cfg.Baseline); err != nil {
		return stats, err
	}
	stats.Spearman = Spearman(entries, pop)

	stats.Duration = time.Since(stats.StartTime)
	displayFinalStats(ctx, log, stats)
	if cfg.Verbose {
		displayTop(ctx, log, entries, pop)
	}
	return stats, nil
}

func submit(ctx context.Context, cfg *Config, client *Client, votes []Vote, stats *Stats) error {
	var accepted, duplicate, rejected, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, v := range votes {
		g.Go(func() error {
			outcome, err := client.Submit(gctx, v)
			switch outcome {
			case OutcomeAccepted:
				accepted.Add(1)
			case OutcomeDuplicate:
				duplicate.Add(1)
			case OutcomeRejected:
				rejected.Add(1)
			default:
				failed.Add(1)
			}
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Accepted = int(accepted.Load())
	stats.Duplicate = int(duplicate.Load())
	stats.Rejected = int(rejected.Load())
	stats.Failed = int(failed.Load())
	return err
}

func settle(ctx context.Context, cfg *Config, client *Client, stats *Stats) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Settle)
	defer cancel()

	ticker := time.NewTicker(settlePollInterval)
	defer ticker.Stop()
	for {
		entries, pages, err := client.Standings(ctx, cfg.Collection)
		if err == nil {
			stats.Standings, stats.Pages = len(entries), pages
			if totalWins(entries) >= int64(stats.Accepted) {
				return entries, nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return nil, fmt.Errorf("standings did not settle: %w", err)
			}
			return nil, fmt.Errorf("%w: %d of %d accepted votes applied", ErrNotSettled, totalWins(entries), stats.Accepted)
		case <-ticker.C:
		}
	}
}

func saveVotes(filename string, votes []Vote) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(votes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o600)
}

func displayFinalStats(ctx context.Context, log logger.Logger, stats *Stats) {
	var votesPerSecond float64
	if stats.Duration > 0 {
		votesPerSecond = float64(stats.Generated) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("unique", stats.Unique),
		logger.Int("accepted", stats.Accepted),
		logger.Int("duplicate", stats.Duplicate),
		logger.Int("rejected", stats.Rejected),
		logger.Int("failed", stats.Failed),
		logger.Int("standings", stats.Standings),
		logger.Int("pages", stats.Pages),
		logger.Float64("spearman", stats.Spearman),
		logger.Duration("duration", stats.Duration),
		logger.Float64("votesPerSecond", votesPerSecond),
	)
}

func displayTop(ctx context.Context, log logger.Logger, entries []Entry, pop Population) {
	n := min(10, len(entries))
	for i, e := range entries[:n] {
		log.Info(ctx, "standing",
			logger.Int("rank", i+1),
			logger.String("item", e.ItemID),
			logger.Float64("rating", e.Rating),
			logger.Int64("wins", e.Wins),
			logger.Int64("losses", e.Losses),
			logger.Float64("strength", pop.Strength[e.ItemID]),
		)
	}
}
