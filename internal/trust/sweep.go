package trust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crewline/trustcore/internal/metrics"
)

type sweepOutcome int

const (
	sweepSkipped sweepOutcome = iota
	sweepPromoted
	sweepDemoted
)

// RunSweep evaluates every candidate key once: sustained-regression demotion
// first, promotion otherwise. Keys are processed with bounded parallelism,
// one lock and one transaction per key, so a mid-run cancellation loses
// nothing already committed. Per-key failures are counted, not propagated:
// one broken key must not starve the rest of the fleet.
func (e *Engine) RunSweep(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{StartedAt: e.now()}
	t0 := time.Now()

	keys, err := e.store.SweepCandidates(ctx, res.StartedAt, e.opts.SweepMinSignals, e.opts.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list sweep candidates: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepParallelism)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, err := e.sweepKey(gctx, key)

			mu.Lock()
			defer mu.Unlock()
			res.Examined++
			switch {
			case err != nil:
				res.Failed++
				e.logger.Error("sweep evaluation failed",
					zap.String("user_id", key.UserID),
					zap.String("action_type", key.ActionType),
					zap.Error(err),
				)
			case outcome == sweepPromoted:
				res.Promoted++
			case outcome == sweepDemoted:
				res.Demoted++
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = time.Since(t0)
	metrics.SweepDuration.Observe(res.Duration.Seconds())
	metrics.SweepKeysExamined.Add(float64(res.Examined))

	e.logger.Info("sweep completed",
		zap.Int("examined", res.Examined),
		zap.Int("promoted", res.Promoted),
		zap.Int("demoted", res.Demoted),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	if e.audit != nil {
		_ = e.audit.LogSweepCompleted(ctx, res.Examined, res.Promoted, res.Demoted, res.Duration)
	}
	e.publish(Event{
		Type:    EventSweepCompleted,
		Payload: res,
		At:      res.StartedAt,
	})

	return res, nil
}

// sweepKey evaluates one candidate under its key lock.
func (e *Engine) sweepKey(ctx context.Context, key Key) (sweepOutcome, error) {
	unlock := e.locks.Lock(key)
	defer unlock()

	agg, err := e.store.GetAggregate(ctx, key)
	if err != nil {
		if errors.Is(err, ErrAggregateNotFound) {
			return sweepSkipped, nil
		}
		return sweepSkipped, err
	}

	// Candidate selection excluded cooldown keys, but a demotion can land
	// between the listing and this lock. Re-check under the lock.
	now := e.now()
	if agg.CooldownUntil != nil && now.Before(*agg.CooldownUntil) {
		return sweepSkipped, nil
	}

	if demote, reason := ShouldDemoteSustained(agg, e.opts.InitialTier, e.opts.SustainedDemotion); demote {
		if err := e.demoteLocked(ctx, agg, reason, now); err != nil {
			return sweepSkipped, err
		}
		e.markEvaluated(ctx, key, now)
		return sweepDemoted, nil
	}

	d, err := e.evaluateLocked(ctx, agg)
	if err != nil {
		return sweepSkipped, err
	}
	if d.Promoted {
		return sweepPromoted, nil
	}
	return sweepSkipped, nil
}

// Sweeper drives periodic promotion sweeps until stopped.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *zap.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSweeper builds a sweeper running one sweep per interval. A non-positive
// interval defaults to ten minutes.
func NewSweeper(engine *Engine, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep fires one interval after
// start. Calling Start twice is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.engine.RunSweep(ctx); err != nil {
				s.logger.Error("periodic sweep failed", zap.Error(err))
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
}
