package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pumpwatch/promatrix/internal/cache"
	"github.com/pumpwatch/promatrix/internal/config"
	"github.com/pumpwatch/promatrix/internal/httpapi"
	"github.com/pumpwatch/promatrix/internal/ingest"
	"github.com/pumpwatch/promatrix/internal/metrics"
	"github.com/pumpwatch/promatrix/internal/persistence/postgres"
	"github.com/pumpwatch/promatrix/internal/pipeline"
	"github.com/pumpwatch/promatrix/internal/runlock"
)

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run continuous detection with the monitoring server",
		Long: `Subscribe to the upstream evidence stream, run a detection pass on every
interval, and serve /health, /status, and /metrics over HTTP.`,
		RunE: runMonitor,
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	store, err := postgres.NewStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	lock := runlock.New(cfg.Redis.Addr, cfg.Redis.LockKey, cfg.Redis.LockTTL)
	defer lock.Close()

	reg := metrics.NewRegistry()
	p := pipeline.New(cfg, store, reg, lock, cache.NewAuto(cfg.Redis.Addr))

	server, err := httpapi.NewServer(cfg.HTTP, p, reg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var stream *ingest.Stream
	if cfg.Stream.URL != "" {
		stream = ingest.NewStream(cfg.Stream)
		go func() { errCh <- stream.Run(ctx) }()
	} else {
		log.Warn().Msg("no stream URL configured, running on stored state only")
	}

	ticker := time.NewTicker(cfg.Detection.Interval)
	defer ticker.Stop()

	log.Info().
		Str("addr", server.Address()).
		Dur("interval", cfg.Detection.Interval).
		Msg("monitor started")

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)

		case err := <-errCh:
			if err != nil && ctx.Err() == nil {
				return err
			}

		case <-ticker.C:
			batch := &ingest.Batch{}
			if stream != nil {
				drained, dropped := stream.Drain()
				batch = &drained
				if dropped > 0 {
					log.Warn().Int("dropped", dropped).Msg("stream buffer overflowed between runs")
				}
			}
			if _, err := p.Run(ctx, batch); err != nil {
				if err == runlock.ErrHeld {
					log.Info().Msg("another run holds the lock, skipping this interval")
					continue
				}
				log.Error().Err(err).Msg("detection run failed")
			}
		}
	}
}
