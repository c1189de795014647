// Package update keeps the index in step with the Nominatim database. The
// Service runs update passes on a timer and on demand, the Notifier
// publishes the resulting place changes to Kafka and the Listener consumes
// them on every server instance to drop stale cached responses.
package update

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/internal/nominatim"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/photon-geocoder/pkg/resilience"
)

// Runner executes one update pass.
type Runner interface {
	Update(ctx context.Context) (*nominatim.UpdateResult, error)
}

// ChangePublisher receives the places touched by a finished pass.
type ChangePublisher interface {
	Publish(changes []nominatim.Change)
}

// Invalidator drops cached responses.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Status describes the update service for /nominatim-update/status.
type Status struct {
	Enabled      bool       `json:"enabled"`
	Running      bool       `json:"running"`
	Runs         int64      `json:"runs"`
	LastStart    *time.Time `json:"last_start,omitempty"`
	LastFinish   *time.Time `json:"last_finish,omitempty"`
	LastDuration string     `json:"last_duration,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	Breaker      string     `json:"circuit_breaker"`

	LastResult *nominatim.UpdateResult `json:"last_result,omitempty"`
}

// Service serialises update passes. Only one pass runs at a time and
// triggers arriving while one is running are refused.
type Service struct {
	runner  Runner
	cfg     config.UpdateConfig
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	metrics *metrics.Metrics

	publisher   ChangePublisher
	invalidator Invalidator

	trigger chan struct{}
	running atomic.Bool
	mu      sync.Mutex
	status  Status
	logger  *slog.Logger
}

// NewService creates a Service. m may be nil.
func NewService(runner Runner, cfg config.UpdateConfig, m *metrics.Metrics) *Service {
	s := &Service{
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		trigger: make(chan struct{}, 1),
		logger:  slog.Default().With("component", "update-service"),
		retry: resilience.RetryConfig{
			MaxAttempts:  max(cfg.MaxRetries, 1),
			InitialDelay: 2 * time.Second,
			MaxDelay:     time.Minute,
			Retryable: func(err error) bool {
				return !errors.Is(err, apperrors.ErrUpdateInProgress) &&
					!errors.Is(err, resilience.ErrCircuitOpen)
			},
		},
	}
	s.breaker = resilience.NewCircuitBreaker("nominatim-update", resilience.CircuitBreakerConfig{
		FailureThreshold:    3,
		ResetTimeout:        5 * time.Minute,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, to resilience.State) {
			if m != nil {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		},
	})
	s.status.Enabled = cfg.Enabled
	return s
}

// SetPublisher registers where change events go after each pass.
func (s *Service) SetPublisher(p ChangePublisher) {
	s.publisher = p
}

// SetInvalidator registers the cache to clear after a pass that changed
// something.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Trigger asks the loop started by Run for an immediate pass.
func (s *Service) Trigger() error {
	if !s.cfg.Enabled {
		return apperrors.New(apperrors.ErrUpdatesDisabled, http.StatusServiceUnavailable,
			"Nominatim updates are not enabled.")
	}
	if !s.running.CompareAndSwap(false, true) {
		s.observeRun("busy")
		return apperrors.New(apperrors.ErrUpdateInProgress, http.StatusServiceUnavailable,
			"An update is already in progress.")
	}
	s.trigger <- struct{}{}
	return nil
}

// Status returns a snapshot of the service state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running.Load()
	st.Breaker = s.breaker.GetState().String()
	return st
}

// Run processes triggers, and with a positive interval timed passes,
// until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	var tick <-chan time.Time
	if s.cfg.Enabled && s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	s.logger.Info("update service started", "enabled", s.cfg.Enabled, "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("update service stopped")
			return
		case <-s.trigger:
			s.execute(ctx)
		case <-tick:
			if !s.running.CompareAndSwap(false, true) {
				continue
			}
			s.execute(ctx)
		}
	}
}

// RunOnce performs a single pass in the calling goroutine.
func (s *Service) RunOnce(ctx context.Context) (*nominatim.UpdateResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrUpdateInProgress
	}
	return s.execute(ctx)
}

// execute runs one pass. The caller has set the running flag.
func (s *Service) execute(ctx context.Context) (*nominatim.UpdateResult, error) {
	defer s.running.Store(false)
	start := time.Now()
	s.mu.Lock()
	s.status.LastStart = &start
	s.mu.Unlock()

	// Every attempt may apply part of the queue before failing, and the
	// applied rows are gone from the database queue afterwards.
	res := &nominatim.UpdateResult{}
	err := resilience.Retry(ctx, "nominatim-update", s.retry, func() error {
		return s.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
			r, err := s.runner.Update(ctx)
			mergeResult(res, r)
			return err
		})
	})
	elapsed := time.Since(start)
	finish := time.Now()

	s.mu.Lock()
	s.status.Runs++
	s.status.LastFinish = &finish
	s.status.LastDuration = elapsed.Round(time.Millisecond).String()
	s.status.LastError = ""
	if err != nil {
		s.status.LastError = err.Error()
	}
	s.status.LastResult = res
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UpdateDuration.Observe(elapsed.Seconds())
		s.metrics.DocsIndexedTotal.Add(float64(res.Updated))
		s.metrics.DocsDeletedTotal.Add(float64(res.Deleted))
	}
	if len(res.Changes) > 0 {
		if s.publisher != nil {
			s.publisher.Publish(res.Changes)
		}
		if s.invalidator != nil {
			if err := s.invalidator.Invalidate(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("cache invalidation failed", "error", err)
			}
		}
	}

	if err != nil {
		s.observeRun("error")
		s.logger.Error("update failed",
			"error", err,
			"updated", res.Updated,
			"deleted", res.Deleted,
			"duration", elapsed,
		)
		return res, err
	}
	s.observeRun("ok")
	s.logger.Info("update finished",
		"updated", res.Updated,
		"deleted", res.Deleted,
		"failed", res.Failed,
		"duration", elapsed,
	)
	return res, nil
}

// mergeResult adds the outcome of one attempt to the pass total.
func mergeResult(total, r *nominatim.UpdateResult) {
	if r == nil {
		return
	}
	total.Updated += r.Updated
	total.Deleted += r.Deleted
	total.Skipped += r.Skipped
	total.Failed += r.Failed
	total.Retrying = r.Retrying
	total.Changes = append(total.Changes, r.Changes...)
}

func (s *Service) observeRun(status string) {
	if s.metrics != nil {
		s.metrics.UpdateRunsTotal.WithLabelValues(status).Inc()
	}
}
