package resolution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSweepConcurrency = 4

// SweepResult summarizes one pass of the deadline evaluator.
type SweepResult struct {
	Scanned int
	Expired []string
	Skipped int
	Failed  map[string]error
}

// DeadlineEvaluator moves overdue resolutions from awaiting_signatures to expired.
type DeadlineEvaluator struct {
	repo        Repository
	notifier    NotificationSink
	notifyWait  time.Duration
	concurrency int
	now         func() time.Time
	log         *zap.Logger
}

func NewDeadlineEvaluator(repo Repository, notifier NotificationSink, log *zap.Logger) *DeadlineEvaluator {
	if notifier == nil {
		notifier = nopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &DeadlineEvaluator{
		repo:        repo,
		notifier:    notifier,
		notifyWait:  defaultNotifyTimeout,
		concurrency: defaultSweepConcurrency,
		now:         time.Now,
		log:         log,
	}
}

func (e *DeadlineEvaluator) WithClock(now func() time.Time) *DeadlineEvaluator {
	e.now = now
	return e
}

func (e *DeadlineEvaluator) WithConcurrency(n int) *DeadlineEvaluator {
	if n > 0 {
		e.concurrency = n
	}
	return e
}

func (e *DeadlineEvaluator) WithNotifyTimeout(d time.Duration) *DeadlineEvaluator {
	if d > 0 {
		e.notifyWait = d
	}
	return e
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (e *DeadlineEvaluator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.log.Info("deadline evaluator started", zap.Duration("interval", interval))
	for {
		e.logSweep(e.Sweep(ctx))
		select {
		case <-ctx.Done():
			e.log.Info("deadline evaluator stopped")
			return
		case <-ticker.C:
		}
	}
}

func (e *DeadlineEvaluator) logSweep(res SweepResult) {
	for id, err := range res.Failed {
		e.log.Error("expire resolution failed", zap.String("resolution_id", id), zap.Error(err))
	}
	if len(res.Expired) > 0 || len(res.Failed) > 0 {
		e.log.Info("deadline sweep complete",
			zap.Int("scanned", res.Scanned),
			zap.Int("expired", len(res.Expired)),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", len(res.Failed)),
		)
	}
}

// tierLister is implemented by repositories that can list every tier.
type tierLister interface {
	ListAll(ctx context.Context) []Resolution
}

// Sweep expires every overdue resolution held by any tier of the repository.
func (e *DeadlineEvaluator) Sweep(ctx context.Context) SweepResult {
	now := e.now()
	var all []Resolution
	if l, ok := e.repo.(tierLister); ok {
		all = l.ListAll(ctx)
	} else {
		all = e.repo.List(ctx)
	}

	result := SweepResult{Scanned: len(all), Failed: map[string]error{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, r := range all {
		if !r.Overdue(now) {
			continue
		}
		g.Go(func() error {
			err := e.transition(gctx, r, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Expired = append(result.Expired, r.ID)
			case errors.Is(err, ErrStatusConflict):
				result.Skipped++
			default:
				result.Failed[r.ID] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// Expire transitions a single overdue resolution to expired.
func (e *DeadlineEvaluator) Expire(ctx context.Context, id string) (Resolution, error) {
	res, err := e.repo.Get(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	if !CanTransition(res.Status, StatusExpired) {
		return Resolution{}, ErrInvalidTransition
	}
	now := e.now()
	if !now.After(res.DeadlineAt) {
		return Resolution{}, ErrDeadlineNotReached
	}
	if err := e.transition(ctx, res, now); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return Resolution{}, ErrInvalidTransition
		}
		return Resolution{}, err
	}
	out := res.Clone()
	out.Status = StatusExpired
	out.UpdatedAt = now
	if fresh, err := e.repo.Get(ctx, id); err == nil {
		out = fresh
	}
	return out, nil
}

func (e *DeadlineEvaluator) transition(ctx context.Context, r Resolution, now time.Time) error {
	if err := e.repo.TransitionStatus(ctx, r.ID, StatusAwaitingSignatures, StatusExpired); err != nil {
		return fmt.Errorf("resolution: expire %s: %w", r.ID, err)
	}
	e.log.Info("resolution expired",
		zap.String("resolution_id", r.ID),
		zap.Time("deadline_at", r.DeadlineAt),
		zap.Int("outstanding", len(r.Outstanding())),
	)
	deliver(ctx, e.notifier, e.notifyWait, e.log, Notification{
		Kind:         NotifyExpired,
		ResolutionID: r.ID,
		Message:      fmt.Sprintf("Resolution %s expired with %d of %d signatures", r.ID, r.SignedCount(), len(r.Signatories)),
		Recipients:   recipients(r.Signatories),
		At:           now,
	})
	return nil
}

// deliver sends n under its own timeout and only logs failures.
func deliver(ctx context.Context, sink NotificationSink, timeout time.Duration, log *zap.Logger, n Notification) {
	nctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sink.Notify(nctx, n); err != nil {
		log.Warn("notification failed",
			zap.String("kind", string(n.Kind)),
			zap.String("resolution_id", n.ResolutionID),
			zap.Error(err),
		)
	}
}
