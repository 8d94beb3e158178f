package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"boardportal/resolution"
)

// ErrOffline is returned by every call while the store is marked offline.
var ErrOffline = errors.New("memstore: offline")

// Store is an in-process resolution backend guarded by a single mutex.
type Store struct {
	name    string
	mu      sync.Mutex
	items   map[string]resolution.Resolution
	offline bool
	now     func() time.Time
}

func New(name string) *Store {
	if name == "" {
		name = "memory"
	}
	return &Store{name: name, items: map[string]resolution.Resolution{}, now: time.Now}
}

func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// SetOffline makes every subsequent call fail with ErrOffline until cleared.
func (s *Store) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

func (s *Store) Name() string { return s.name }

func (s *Store) Create(ctx context.Context, r resolution.Resolution) (resolution.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return resolution.Resolution{}, err
	}
	if existing, ok := s.items[r.ID]; ok {
		return existing.Clone(), nil
	}
	s.items[r.ID] = r.Clone()
	return r.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id string) (resolution.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return resolution.Resolution{}, err
	}
	r, ok := s.items[id]
	if !ok {
		return resolution.Resolution{}, resolution.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]resolution.Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]resolution.Resolution, 0, len(s.items))
	for _, r := range s.items {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateSignatory(ctx context.Context, resolutionID, signatoryID string, signedAt time.Time, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, ok := s.items[resolutionID]
	if !ok {
		return resolution.ErrNotFound
	}
	if r.Status != resolution.StatusAwaitingSignatures {
		return resolution.ErrResolutionNotSignable
	}
	for i := range r.Signatories {
		if r.Signatories[i].ID != signatoryID {
			continue
		}
		if r.Signatories[i].Signed() {
			return resolution.ErrAlreadySigned
		}
		at := signedAt
		h := hash
		r.Signatories[i].SignedAt = &at
		r.Signatories[i].SignatureHash = &h
		r.UpdatedAt = s.now().UTC()
		s.items[resolutionID] = r
		return nil
	}
	return resolution.ErrUnknownSignatory
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status resolution.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, ok := s.items[id]
	if !ok {
		return resolution.ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now().UTC()
	s.items[id] = r
	return nil
}

func (s *Store) TransitionStatus(ctx context.Context, id string, from, to resolution.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	r, ok := s.items[id]
	if !ok {
		return resolution.ErrNotFound
	}
	if r.Status != from {
		return resolution.ErrStatusConflict
	}
	r.Status = to
	r.UpdatedAt = s.now().UTC()
	s.items[id] = r
	return nil
}

// check must be called with mu held.
func (s *Store) check(ctx context.Context) error {
	if s.offline {
		return ErrOffline
	}
	return ctx.Err()
}
