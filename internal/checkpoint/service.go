// Package checkpoint provides the scheduler that periodically snapshots
// active work items into the memory store, so interrupted work can be
// reconstructed from its checkpoint timeline.
package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/natefox/mnemo/pkg/types"
)

// WorkItemSource lists the work items a checkpoint cycle snapshots.
type WorkItemSource interface {
	ListActiveWorkItems(ctx context.Context) ([]types.WorkItem, error)
}

// EntrySink persists one checkpoint entry and returns its memory ID. The
// memory engine satisfies this.
type EntrySink interface {
	StoreCheckpoint(ctx context.Context, item types.WorkItem, reason types.CheckpointReason, at time.Time) (string, error)
}

// State is the scheduler's lifecycle state.
type State int

// Scheduler states. The cycle is Stopped → Starting → Running → Stopping →
// Stopped, and the scheduler is re-enterable after a full stop.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds configuration for the checkpoint service.
type Config struct {
	// Interval between periodic cycles (default: 5m).
	Interval time.Duration

	// StopGrace bounds how long Stop waits for the loop to drain, including
	// the final shutdown cycle (default: 10s).
	StopGrace time.Duration

	// WriteTimeout bounds each per-item checkpoint write (default: 30s).
	WriteTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		StopGrace:    10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// Service runs checkpoint cycles: one synchronously at Start, then on a
// timer, plus out-of-band cycles via TriggerImmediate. Checkpoints are
// append-only; every cycle writes fresh entries.
type Service struct {
	source WorkItemSource
	sink   EntrySink
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// cycleMu serializes cycles so a triggered cycle never interleaves with
	// the scheduler loop's.
	cycleMu sync.Mutex
}

// NewService creates a checkpoint service over the given source and sink.
// Zero config fields fall back to defaults.
func NewService(source WorkItemSource, sink EntrySink, config Config, logger zerolog.Logger) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("work item source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("entry sink is required")
	}
	config.applyDefaults()

	return &Service{
		source: source,
		sink:   sink,
		config: config,
		logger: logger.With().Str("component", "checkpoint").Logger(),
	}, nil
}

// State returns the scheduler's current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start runs one synchronous periodic cycle, then launches the scheduler
// loop. It returns an error unless the service is stopped. A failing first
// cycle is logged, not fatal: the tracker may simply not be reachable yet,
// and the timer retries.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("checkpoint service is %s, not stopped", state)
	}
	s.state = StateStarting
	s.mu.Unlock()

	if _, err := s.runCycle(ctx, types.ReasonPeriodic); err != nil {
		s.logger.Error().Err(err).Msg("initial checkpoint cycle failed")
	}

	// The loop outlives the caller's startup context.
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.state = StateRunning
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	s.logger.Info().Dur("interval", s.config.Interval).Msg("checkpoint service started")
	return nil
}

// Stop cancels scheduling, lets the loop write its final shutdown cycle, and
// waits up to the grace period for it to drain. On timeout the service is
// forced to stopped with a warning; an in-flight write keeps its own
// detached deadline and is never interrupted.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("checkpoint service is %s, not running", state)
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()

	select {
	case <-done:
	case <-time.After(s.config.StopGrace):
		s.logger.Warn().
			Dur("grace", s.config.StopGrace).
			Msg("checkpoint loop did not drain within the grace period, forcing stop")
	}

	s.mu.Lock()
	s.state = StateStopped
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	s.logger.Info().Msg("checkpoint service stopped")
	return nil
}

// TriggerImmediate runs one out-of-band cycle and returns the number of
// items checkpointed. It returns an error unless the service is running.
func (s *Service) TriggerImmediate(ctx context.Context, reason types.CheckpointReason) (int, error) {
	s.mu.Lock()
	if s.state != StateRunning {
		state := s.state
		s.mu.Unlock()
		return 0, fmt.Errorf("checkpoint service is %s, not running", state)
	}
	s.mu.Unlock()

	if !types.IsValidCheckpointReason(reason) {
		return 0, fmt.Errorf("unknown checkpoint reason %q", reason)
	}

	return s.runCycle(ctx, reason)
}

// loop runs periodic cycles until the context is cancelled, then writes the
// final shutdown cycle before exiting.
func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The loop context is gone; the shutdown cycle gets its own
			// bounded context so final state is still captured.
			cycleCtx, cancel := context.WithTimeout(context.Background(), s.config.StopGrace)
			if _, err := s.runCycle(cycleCtx, types.ReasonShutdown); err != nil {
				s.logger.Error().Err(err).Msg("shutdown checkpoint cycle failed")
			}
			cancel()
			return
		case <-ticker.C:
			if _, err := s.runCycle(ctx, types.ReasonPeriodic); err != nil {
				s.logger.Error().Err(err).Msg("periodic checkpoint cycle failed")
			}
		}
	}
}

// runCycle snapshots every active work item once. One item's write failure
// is logged and isolated; the cycle reports how many writes succeeded. A
// source failure fails the whole cycle since there is nothing to write.
func (s *Service) runCycle(ctx context.Context, reason types.CheckpointReason) (int, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	items, err := s.source.ListActiveWorkItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active work items: %w", err)
	}
	if len(items) == 0 {
		s.logger.Debug().Str("reason", string(reason)).Msg("no active work items to checkpoint")
		return 0, nil
	}

	// All items in one cycle share one timestamp.
	now := time.Now().UTC()

	succeeded := 0
	for _, item := range items {
		if ctx.Err() != nil {
			s.logger.Debug().Str("reason", string(reason)).Msg("checkpoint cycle cut short, scheduling cancelled")
			break
		}

		// Detached per-item deadline: cancelling the scheduler must not
		// interrupt a write mid-flight.
		writeCtx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
		memoryID, err := s.sink.StoreCheckpoint(writeCtx, item, reason, now)
		cancel()
		if err != nil {
			s.logger.Error().Err(err).
				Str("work_item_id", item.ID).
				Msg("checkpoint write failed")
			continue
		}
		succeeded++

		s.logger.Debug().
			Str("work_item_id", item.ID).
			Str("memory_id", memoryID).
			Msg("checkpoint written")
	}

	s.logger.Info().
		Str("reason", string(reason)).
		Int("items", len(items)).
		Int("written", succeeded).
		Msg("checkpoint cycle complete")
	return succeeded, nil
}
