package resolution

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultNotifyTimeout = 5 * time.Second

// Policy holds the tunable rules of the lifecycle.
type Policy struct {
	DefaultDeadlineDays  int
	PanelSize            int
	RequireAllSigned     bool
	ReminderUrgentWithin time.Duration
	Locales              []string
	NotifyTimeout        time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultDeadlineDays:  DefaultDeadlineDays,
		ReminderUrgentWithin: 24 * time.Hour,
		Locales:              []string{"en", "ar"},
		NotifyTimeout:        defaultNotifyTimeout,
	}
}

type SignatoryInput struct {
	ID       string
	Name     string
	Email    string
	JobTitle string
}

type CreateParams struct {
	ID               string
	MeetingDate      time.Time
	AgreementDetails string
	DeadlineDays     int
	Signatories      []SignatoryInput
}

type SignParams struct {
	ResolutionID string
	SignatoryID  string
	OTP          string
}

// Reminder reports what a reminder request did.
type Reminder struct {
	ResolutionID string
	Outstanding  []Signatory
	Urgent       bool
	DeadlineAt   time.Time
	SentAt       time.Time
}

// FinalizeResult carries the finalized record and the documents rendered for it.
type FinalizeResult struct {
	Resolution Resolution
	Documents  []DocumentHandle
}

// Service is the caller-facing lifecycle surface.
type Service struct {
	repo        Repository
	coordinator *SignatureCoordinator
	evaluator   *DeadlineEvaluator
	notifier    NotificationSink
	renderer    DocumentRenderer
	policy      Policy
	idGenerator func() string
	now         func() time.Time
	log         *zap.Logger
}

func NewService(repo Repository, notifier NotificationSink, renderer DocumentRenderer, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = nopSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		coordinator: NewSignatureCoordinator(repo, log),
		evaluator:   NewDeadlineEvaluator(repo, notifier, log),
		notifier:    notifier,
		renderer:    renderer,
		policy:      DefaultPolicy(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		log:         log,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// WithClock sets the clock for the service and the components it owns.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.coordinator.WithClock(now)
	s.evaluator.WithClock(now)
	return s
}

func (s *Service) WithPolicy(p Policy) *Service {
	if p.DefaultDeadlineDays <= 0 {
		p.DefaultDeadlineDays = DefaultDeadlineDays
	}
	if p.NotifyTimeout <= 0 {
		p.NotifyTimeout = defaultNotifyTimeout
	}
	s.policy = p
	s.evaluator.WithNotifyTimeout(p.NotifyTimeout)
	return s
}

func (s *Service) WithOTPVerifier(v OTPVerifier) *Service {
	s.coordinator.WithOTPVerifier(v)
	return s
}

func (s *Service) WithTokenGenerator(gen TokenGenerator) *Service {
	s.coordinator.WithTokenGenerator(gen)
	return s
}

// Evaluator exposes the deadline evaluator so callers can run its sweep loop.
func (s *Service) Evaluator() *DeadlineEvaluator {
	return s.evaluator
}

func (s *Service) CreateResolution(ctx context.Context, params CreateParams) (Resolution, error) {
	if params.MeetingDate.IsZero() {
		return Resolution{}, fmt.Errorf("%w: meeting date required", ErrInvalidRequest)
	}
	details := strings.TrimSpace(params.AgreementDetails)
	if details == "" {
		return Resolution{}, fmt.Errorf("%w: agreement details required", ErrInvalidRequest)
	}
	days := params.DeadlineDays
	if days < 0 {
		return Resolution{}, fmt.Errorf("%w: deadline days must not be negative", ErrInvalidRequest)
	}
	if days == 0 {
		days = s.policy.DefaultDeadlineDays
	}
	panel, err := s.buildPanel(params.Signatories)
	if err != nil {
		return Resolution{}, err
	}

	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = s.idGenerator()
	} else if !ValidID(id) {
		return Resolution{}, fmt.Errorf("%w: invalid resolution id %q", ErrInvalidRequest, id)
	} else if existing, err := s.repo.Get(ctx, id); err == nil {
		s.log.Info("resolution already exists", zap.String("resolution_id", id))
		return existing, nil
	}
	now := s.now().UTC()
	res := Resolution{
		ID:               id,
		CreatedAt:        now,
		UpdatedAt:        now,
		MeetingDate:      params.MeetingDate,
		AgreementDetails: details,
		Status:           StatusAwaitingSignatures,
		DeadlineAt:       DeadlineFor(params.MeetingDate, days),
		Signatories:      panel,
		BarcodeData:      id,
	}

	created, err := s.repo.Create(ctx, res)
	if err != nil {
		return Resolution{}, err
	}
	if !created.CreatedAt.Equal(res.CreatedAt) {
		// Lost a concurrent create for the same id; the winner notified.
		s.log.Info("resolution already exists", zap.String("resolution_id", id))
		return created, nil
	}
	s.log.Info("resolution created",
		zap.String("resolution_id", created.ID),
		zap.Time("deadline_at", created.DeadlineAt),
		zap.Int("panel", len(created.Signatories)),
	)

	deliver(ctx, s.notifier, s.policy.NotifyTimeout, s.log, Notification{
		Kind:         NotifySignaturesRequested,
		ResolutionID: created.ID,
		Message:      fmt.Sprintf("Your signature is requested on resolution %s by %s", created.ID, created.DeadlineAt.Format(time.DateOnly)),
		Recipients:   recipients(created.Signatories),
		At:           now,
	})
	return created, nil
}

func (s *Service) buildPanel(inputs []SignatoryInput) ([]Signatory, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one signatory required", ErrInvalidRequest)
	}
	if s.policy.PanelSize > 0 && len(inputs) != s.policy.PanelSize {
		return nil, fmt.Errorf("%w: panel must have %d signatories, got %d", ErrInvalidRequest, s.policy.PanelSize, len(inputs))
	}
	seen := make(map[string]struct{}, len(inputs))
	panel := make([]Signatory, 0, len(inputs))
	for i, in := range inputs {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: signatory %d: name required", ErrInvalidRequest, i)
		}
		email := strings.TrimSpace(in.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, fmt.Errorf("%w: signatory %d: invalid email %q", ErrInvalidRequest, i, email)
			}
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = s.idGenerator()
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate signatory id %q", ErrInvalidRequest, id)
		}
		seen[id] = struct{}{}
		panel = append(panel, Signatory{
			ID:       id,
			Name:     name,
			Email:    email,
			JobTitle: strings.TrimSpace(in.JobTitle),
		})
	}
	return panel, nil
}

func (s *Service) Get(ctx context.Context, id string) (Resolution, error) {
	if strings.TrimSpace(id) == "" {
		return Resolution{}, fmt.Errorf("%w: id required", ErrInvalidRequest)
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) []Resolution {
	return s.repo.List(ctx)
}

func (s *Service) Sign(ctx context.Context, params SignParams) (Resolution, error) {
	return s.coordinator.Sign(ctx, params.ResolutionID, params.SignatoryID, params.OTP)
}

// Finalize closes signature collection. Rendered documents are reported by
// FinalizeWithDocuments.
func (s *Service) Finalize(ctx context.Context, id string) (Resolution, error) {
	out, err := s.FinalizeWithDocuments(ctx, id)
	if err != nil {
		return Resolution{}, err
	}
	return out.Resolution, nil
}

// FinalizeWithDocuments closes signature collection and renders one document
// per configured locale. Render failures are logged and leave gaps in Documents.
func (s *Service) FinalizeWithDocuments(ctx context.Context, id string) (FinalizeResult, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !CanTransition(res.Status, StatusFinalized) {
		return FinalizeResult{}, ErrInvalidTransition
	}
	if s.policy.RequireAllSigned && !res.AllSigned() {
		return FinalizeResult{}, fmt.Errorf("%w: %d of %d signed", ErrSignaturesOutstanding, res.SignedCount(), len(res.Signatories))
	}

	if err := s.repo.TransitionStatus(ctx, id, StatusAwaitingSignatures, StatusFinalized); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return FinalizeResult{}, ErrInvalidTransition
		}
		return FinalizeResult{}, err
	}

	now := s.now().UTC()
	finalized := res.Clone()
	finalized.Status = StatusFinalized
	finalized.UpdatedAt = now
	if fresh, err := s.repo.Get(ctx, id); err == nil {
		finalized = fresh
	} else {
		s.log.Warn("reload after finalize failed", zap.String("resolution_id", id), zap.Error(err))
	}
	s.log.Info("resolution finalized",
		zap.String("resolution_id", id),
		zap.Int("signed", finalized.SignedCount()),
		zap.Int("panel", len(finalized.Signatories)),
	)

	docs := s.render(ctx, finalized)

	deliver(ctx, s.notifier, s.policy.NotifyTimeout, s.log, Notification{
		Kind:         NotifyFinalized,
		ResolutionID: id,
		Message:      fmt.Sprintf("Resolution %s finalized with %d of %d signatures", id, finalized.SignedCount(), len(finalized.Signatories)),
		Recipients:   recipients(finalized.Signatories),
		At:           now,
	})
	return FinalizeResult{Resolution: finalized, Documents: docs}, nil
}

func (s *Service) render(ctx context.Context, r Resolution) []DocumentHandle {
	if s.renderer == nil {
		return nil
	}
	docs := make([]DocumentHandle, 0, len(s.policy.Locales))
	for _, locale := range s.policy.Locales {
		doc, err := s.renderer.Render(ctx, r, locale)
		if err != nil {
			s.log.Warn("render finalized document failed",
				zap.String("resolution_id", r.ID),
				zap.String("locale", locale),
				zap.Error(err),
			)
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// RequestReminder notifies the outstanding signatories. It never changes state.
func (s *Service) RequestReminder(ctx context.Context, id string) (Reminder, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return Reminder{}, err
	}
	if res.Status != StatusAwaitingSignatures {
		return Reminder{}, ErrResolutionNotSignable
	}
	now := s.now().UTC()
	outstanding := res.Outstanding()
	rem := Reminder{
		ResolutionID: id,
		Outstanding:  outstanding,
		Urgent:       res.DeadlineAt.Sub(now) <= s.policy.ReminderUrgentWithin,
		DeadlineAt:   res.DeadlineAt,
		SentAt:       now,
	}
	if len(outstanding) == 0 {
		return rem, nil
	}

	msg := fmt.Sprintf("Reminder: resolution %s awaits your signature by %s", id, res.DeadlineAt.Format(time.DateOnly))
	if rem.Urgent {
		msg = "URGENT " + msg
	}
	deliver(ctx, s.notifier, s.policy.NotifyTimeout, s.log, Notification{
		Kind:         NotifyReminder,
		ResolutionID: id,
		Message:      msg,
		Urgent:       rem.Urgent,
		Recipients:   recipients(outstanding),
		At:           now,
	})
	return rem, nil
}

// Expire transitions an overdue resolution to expired.
func (s *Service) Expire(ctx context.Context, id string) (Resolution, error) {
	return s.evaluator.Expire(ctx, id)
}
