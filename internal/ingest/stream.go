package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/pumpwatch/promatrix/internal/domain"
)

// envelope is one message from the upstream evidence collector.
type envelope struct {
	Type     string                      `json:"type"` // "link" or "identity"
	Link     *LinkRecord                 `json:"link,omitempty"`
	Identity *domain.IdentityObservation `json:"identity,omitempty"`
}

// StreamConfig configures the evidence stream subscriber.
type StreamConfig struct {
	URL            string        `yaml:"url"`
	RatePerSecond  float64       `yaml:"rate_per_second"`  // consumption rate cap
	Burst          int           `yaml:"burst"`            // limiter burst
	MaxReconnect   time.Duration `yaml:"max_reconnect"`    // backoff ceiling
	BufferCapacity int           `yaml:"buffer_capacity"`  // records held between runs
}

// DefaultStreamConfig returns production stream settings.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		RatePerSecond:  200,
		Burst:          400,
		MaxReconnect:   2 * time.Minute,
		BufferCapacity: 50000,
	}
}

// Stream consumes pre-extracted evidence records pushed by the upstream
// collector and buffers them between detection runs.
type Stream struct {
	config  StreamConfig
	limiter *rate.Limiter

	mu      sync.Mutex
	pending Batch
	dropped int
}

// NewStream creates a subscriber for the configured collector endpoint.
func NewStream(config StreamConfig) *Stream {
	if config.RatePerSecond == 0 {
		config.RatePerSecond = DefaultStreamConfig().RatePerSecond
	}
	if config.Burst == 0 {
		config.Burst = DefaultStreamConfig().Burst
	}
	if config.BufferCapacity == 0 {
		config.BufferCapacity = DefaultStreamConfig().BufferCapacity
	}
	return &Stream{
		config:  config,
		limiter: rate.NewLimiter(rate.Limit(config.RatePerSecond), config.Burst),
	}
}

// Run connects and consumes until the context is cancelled, reconnecting
// with exponential backoff on failure.
func (s *Stream) Run(ctx context.Context) error {
	if s.config.URL == "" {
		return fmt.Errorf("evidence stream URL is not configured")
	}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.config.MaxReconnect
	b.MaxElapsedTime = 0 // keep retrying for the life of the process

	operation := func() error {
		if err := s.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			log.Warn().Err(err).Str("url", s.config.URL).Msg("evidence stream disconnected, reconnecting")
			return err
		}
		return nil
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (s *Stream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial evidence stream: %w", err)
	}
	defer conn.Close()

	log.Info().Str("url", s.config.URL).Msg("evidence stream connected")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("evidence stream read failed: %w", err)
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("unparseable evidence message skipped")
			continue
		}
		s.append(env)
	}
}

func (s *Stream) append(env envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending.Links)+len(s.pending.Identities) >= s.config.BufferCapacity {
		s.dropped++
		return
	}
	switch env.Type {
	case "link":
		if env.Link != nil {
			s.pending.Links = append(s.pending.Links, *env.Link)
		}
	case "identity":
		if env.Identity != nil {
			s.pending.Identities = append(s.pending.Identities, *env.Identity)
		}
	default:
		log.Warn().Str("type", env.Type).Msg("unknown evidence message type skipped")
	}
}

// Drain returns everything buffered since the last drain, handing ownership
// to the caller. Dropped counts reset with each drain.
func (s *Stream) Drain() (Batch, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.pending
	dropped := s.dropped
	s.pending = Batch{}
	s.dropped = 0
	return batch, dropped
}
