package resolution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend is one storage tier. Implementations return the sentinel errors of
// this package for domain answers and anything else for infrastructure failure.
type Backend interface {
	Name() string
	Create(ctx context.Context, r Resolution) (Resolution, error)
	Get(ctx context.Context, id string) (Resolution, error)
	List(ctx context.Context) ([]Resolution, error)
	UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	TransitionStatus(ctx context.Context, id string, from, to Status) error
}

// Repository is the storage surface seen by the coordinator, evaluator and service.
type Repository interface {
	Create(ctx context.Context, r Resolution) (Resolution, error)
	Get(ctx context.Context, id string) (Resolution, error)
	List(ctx context.Context) []Resolution
	UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	TransitionStatus(ctx context.Context, id string, from, to Status) error
}

const defaultTierTimeout = 3 * time.Second

// FallbackRepository walks an ordered list of backends. Lower tiers serve
// only when higher ones fail or miss; nothing is copied back upward.
type FallbackRepository struct {
	backends []Backend
	timeout  time.Duration
	log      *zap.Logger
}

func NewFallbackRepository(log *zap.Logger, timeout time.Duration, backends ...Backend) *FallbackRepository {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTierTimeout
	}
	return &FallbackRepository{backends: backends, timeout: timeout, log: log}
}

// Backends returns the configured tiers in order.
func (r *FallbackRepository) Backends() []Backend {
	out := make([]Backend, len(r.backends))
	copy(out, r.backends)
	return out
}

// attempt tracks one pass over the chain.
type attempt struct {
	op       string
	answered bool
	failures []error
}

func (a *attempt) fail(b Backend, err error) {
	a.failures = append(a.failures, fmt.Errorf("%s: %w", b.Name(), err))
}

// exhausted builds the terminal error once every tier has been tried.
func (a *attempt) exhausted() error {
	if a.answered {
		return ErrNotFound
	}
	if len(a.failures) == 0 {
		return fmt.Errorf("resolution: %s: no backends configured: %w", a.op, ErrBackendUnavailable)
	}
	return fmt.Errorf("resolution: %s: %w", a.op, errors.Join(append([]error{ErrBackendUnavailable}, a.failures...)...))
}

// run calls fn on each tier until one succeeds or gives an authoritative answer.
func (r *FallbackRepository) run(ctx context.Context, op string, write bool, fn func(context.Context, Backend) error) error {
	at := &attempt{op: op}
	for i, b := range r.backends {
		if err := ctx.Err(); err != nil {
			return err
		}
		tierCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(tierCtx, b)
		cancel()

		switch {
		case err == nil:
			r.served(op, i, b, write)
			return nil
		case authoritative(err):
			r.log.Debug("storage tier answered", zap.String("op", op), zap.String("tier", b.Name()), zap.Error(err))
			return err
		case errors.Is(err, ErrNotFound):
			at.answered = true
			r.log.Debug("storage tier miss", zap.String("op", op), zap.String("tier", b.Name()))
		default:
			at.fail(b, err)
			r.log.Warn("storage tier failed", zap.String("op", op), zap.String("tier", b.Name()), zap.Error(err))
		}
	}
	return at.exhausted()
}

func (r *FallbackRepository) served(op string, idx int, b Backend, write bool) {
	fields := []zap.Field{zap.String("op", op), zap.String("tier", b.Name()), zap.Int("tier_index", idx)}
	if write && idx > 0 {
		r.log.Warn("degraded write served by lower tier", fields...)
		return
	}
	r.log.Debug("storage tier served", fields...)
}

func (r *FallbackRepository) Create(ctx context.Context, res Resolution) (Resolution, error) {
	var out Resolution
	err := r.run(ctx, "create", true, func(ctx context.Context, b Backend) error {
		created, err := b.Create(ctx, res)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		// Create never misses; a NotFound here means no tier accepted the write.
		return Resolution{}, fmt.Errorf("resolution: create: %w", ErrBackendUnavailable)
	}
	return out, err
}

func (r *FallbackRepository) Get(ctx context.Context, id string) (Resolution, error) {
	var out Resolution
	err := r.run(ctx, "get", false, func(ctx context.Context, b Backend) error {
		found, err := b.Get(ctx, id)
		if err != nil {
			return err
		}
		out = found
		return nil
	})
	return out, err
}

// List returns the first non-empty list any tier produces. It never fails.
func (r *FallbackRepository) List(ctx context.Context) []Resolution {
	for i, b := range r.backends {
		if ctx.Err() != nil {
			break
		}
		tierCtx, cancel := context.WithTimeout(ctx, r.timeout)
		items, err := b.List(tierCtx)
		cancel()
		if err != nil {
			r.log.Warn("storage tier failed", zap.String("op", "list"), zap.String("tier", b.Name()), zap.Error(err))
			continue
		}
		if len(items) > 0 {
			r.served("list", i, b, false)
			return items
		}
	}
	return []Resolution{}
}

// ListAll merges the lists of every tier, keeping the copy from the highest
// tier when an id appears more than once. Failed tiers are skipped.
func (r *FallbackRepository) ListAll(ctx context.Context) []Resolution {
	seen := map[string]struct{}{}
	out := []Resolution{}
	for _, b := range r.backends {
		if ctx.Err() != nil {
			break
		}
		tierCtx, cancel := context.WithTimeout(ctx, r.timeout)
		items, err := b.List(tierCtx)
		cancel()
		if err != nil {
			r.log.Warn("storage tier failed", zap.String("op", "list_all"), zap.String("tier", b.Name()), zap.Error(err))
			continue
		}
		for _, item := range items {
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func (r *FallbackRepository) UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error {
	return r.run(ctx, "update_signatory", true, func(ctx context.Context, b Backend) error {
		return b.UpdateSignatory(ctx, resolutionID, signatoryID, signedAt, hash)
	})
}

func (r *FallbackRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	return r.run(ctx, "update_status", true, func(ctx context.Context, b Backend) error {
		return b.UpdateStatus(ctx, id, status)
	})
}

func (r *FallbackRepository) TransitionStatus(ctx context.Context, id string, from, to Status) error {
	return r.run(ctx, "transition_status", true, func(ctx context.Context, b Backend) error {
		return b.TransitionStatus(ctx, id, from, to)
	})
}
