package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/RankForge/server/internal/metrics"
	"github.com/rs/zerolog"
)

// ExpiryConfig controls the pending-session sweeper.
type ExpiryConfig struct {
	Enabled     bool
	TTL         time.Duration // pending sessions older than this become expired
	RunInterval time.Duration
}

// ExpiryService periodically expires stale pending payment sessions.
type ExpiryService struct {
	store    SessionStore
	config   ExpiryConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewExpiryService creates a new expiry service.
func NewExpiryService(store SessionStore, config ExpiryConfig, metricsCollector *metrics.Metrics, logger zerolog.Logger) *ExpiryService {
	return &ExpiryService{
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  metricsCollector,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background loop.
func (s *ExpiryService) Start() {
	if !s.config.Enabled || s.config.TTL <= 0 || s.config.RunInterval <= 0 {
		s.logger.Info().Msg("sessions.expiry.disabled")
		close(s.doneChan)
		return
	}

	s.logger.Info().
		Dur("ttl", s.config.TTL).
		Dur("run_interval", s.config.RunInterval).
		Msg("sessions.expiry.started")

	go s.run()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *ExpiryService) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.doneChan
	s.logger.Info().Msg("sessions.expiry.stopped")
}

// Close implements io.Closer for the lifecycle manager.
func (s *ExpiryService) Close() error {
	s.Stop()
	return nil
}

func (s *ExpiryService) run() {
	defer close(s.doneChan)

	s.runPass()

	ticker := time.NewTicker(s.config.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass()
		case <-s.stopChan:
			return
		}
	}
}

func (s *ExpiryService) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error().Err(err).Msg("sessions.expiry.failed")
	}
}

// RunNow performs a single expiry pass and returns the number of sessions expired.
func (s *ExpiryService) RunNow(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.TTL)

	count, err := s.store.ExpireStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale sessions: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveSessionExpiry(count)
	}
	if count > 0 {
		s.logger.Info().
			Int64("count", count).
			Time("cutoff", cutoff).
			Msg("sessions.expiry.expired")
	}
	return count, nil
}
