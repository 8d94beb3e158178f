package resolution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ReconcileReport counts what a reconciliation pass copied into the primary tier.
type ReconcileReport struct {
	Copied     int
	Signatures int
	Statuses   int
	Conflicts  int
	Errors     []error
}

// Reconciler folds records written to lower tiers back into the primary.
// The merge is monotonic: signatures are only added, and a status only moves
// forward from awaiting_signatures.
type Reconciler struct {
	primary Backend
	lower   []Backend
	log     *zap.Logger
}

func NewReconciler(log *zap.Logger, backends ...Backend) (*Reconciler, error) {
	if len(backends) < 2 {
		return nil, fmt.Errorf("resolution: reconcile needs at least two backends, got %d", len(backends))
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{primary: backends[0], lower: backends[1:], log: log}, nil
}

func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	for _, tier := range r.lower {
		items, err := tier.List(ctx)
		if err != nil {
			r.log.Warn("reconcile: tier unavailable", zap.String("tier", tier.Name()), zap.Error(err))
			report.Errors = append(report.Errors, fmt.Errorf("%s: list: %w", tier.Name(), err))
			continue
		}
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if err := r.merge(ctx, item, &report); err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("%s: %s: %w", tier.Name(), item.ID, err))
			}
		}
	}
	r.log.Info("reconcile complete",
		zap.String("primary", r.primary.Name()),
		zap.Int("copied", report.Copied),
		zap.Int("signatures", report.Signatures),
		zap.Int("statuses", report.Statuses),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("errors", len(report.Errors)),
	)
	return report, nil
}

func (r *Reconciler) merge(ctx context.Context, item Resolution, report *ReconcileReport) error {
	current, err := r.primary.Get(ctx, item.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		// Copy the record as it was created, then replay its progress.
		seed := item.Clone()
		seed.Status = StatusAwaitingSignatures
		for i := range seed.Signatories {
			seed.Signatories[i].SignedAt = nil
			seed.Signatories[i].SignatureHash = nil
		}
		current, err = r.primary.Create(ctx, seed)
		if err != nil {
			return fmt.Errorf("copy: %w", err)
		}
		report.Copied++
	case err != nil:
		return fmt.Errorf("load primary: %w", err)
	}

	// Signatures are replayed while the primary still accepts them.
	if current.Status == StatusAwaitingSignatures {
		for _, s := range item.Signatories {
			if !s.Signed() || s.SignatureHash == nil {
				continue
			}
			if seat, ok := current.Signatory(s.ID); ok && seat.Signed() {
				continue
			}
			err := r.primary.UpdateSignatory(ctx, item.ID, s.ID, *s.SignedAt, *s.SignatureHash)
			switch {
			case err == nil:
				report.Signatures++
			case errors.Is(err, ErrAlreadySigned), errors.Is(err, ErrUnknownSignatory), errors.Is(err, ErrResolutionNotSignable):
				report.Conflicts++
			default:
				return fmt.Errorf("replay signature %s: %w", s.ID, err)
			}
		}
	}

	if item.Status.Terminal() && current.Status == StatusAwaitingSignatures {
		err := r.primary.TransitionStatus(ctx, item.ID, StatusAwaitingSignatures, item.Status)
		switch {
		case err == nil:
			report.Statuses++
		case errors.Is(err, ErrStatusConflict):
			report.Conflicts++
		default:
			return fmt.Errorf("replay status: %w", err)
		}
	} else if item.Status.Terminal() && current.Status.Terminal() && item.Status != current.Status {
		r.log.Warn("reconcile: terminal status disagreement kept primary",
			zap.String("resolution_id", item.ID),
			zap.String("primary_status", string(current.Status)),
			zap.String("tier_status", string(item.Status)),
		)
		report.Conflicts++
	}
	return nil
}
