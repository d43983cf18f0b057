package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pumpwatch/promatrix/internal/cache"
	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/ingest"
	"github.com/pumpwatch/promatrix/internal/metrics"
	"github.com/pumpwatch/promatrix/internal/persistence/postgres"
	"github.com/pumpwatch/promatrix/internal/pipeline"
	"github.com/pumpwatch/promatrix/internal/runlock"
)

func newDetectCmd() *cobra.Command {
	var evidencePath string
	var noLock bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Run one detection pass",
		Long: `Run a single detection pass: ingest an optional evidence batch, rebuild
track records and repeat-offender scores, detect co-promotion pairs, cluster
networks, and emit alerts. All output lands in one database transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetect(cmd, evidencePath, noLock)
		},
	}

	cmd.Flags().StringVar(&evidencePath, "evidence", "", "Path to a JSON evidence batch (default: re-score stored state)")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "Skip the distributed run lock")
	return cmd
}

func runDetect(cmd *cobra.Command, evidencePath string, noLock bool) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	var lock *runlock.Lock
	if !noLock {
		lock = runlock.New(cfg.Redis.Addr, cfg.Redis.LockKey, cfg.Redis.LockTTL)
		defer lock.Close()
	}

	batch := &ingest.Batch{}
	if evidencePath != "" {
		batch, err = ingest.LoadBatch(evidencePath)
		if err != nil {
			return fmt.Errorf("failed to load evidence batch: %w", err)
		}
		log.Info().Str("path", evidencePath).Int("links", len(batch.Links)).Int("identities", len(batch.Identities)).Msg("evidence batch loaded")
	}

	p := pipeline.New(cfg, store, metrics.NewRegistry(), lock, cache.NewAuto(cfg.Redis.Addr))
	snap, err := p.Run(cmd.Context(), batch)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.Report)
}
