package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"boardportal/resolution"
)

// Registry holds the ids created so far so other actors can target them.
type Registry struct {
	mu  sync.Mutex
	ids []string
}

func (r *Registry) Add(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

// Pick returns a random known id, or false if none exist yet.
func (r *Registry) Pick() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ids) == 0 {
		return "", false
	}
	return r.ids[rand.Intn(len(r.ids))], true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// PanelSize is the number of seats every stress resolution carries.
const PanelSize = 3

// tolerated reports errors that are legitimate outcomes under contention and chaos.
func tolerated(err error) bool {
	return errors.Is(err, resolution.ErrAlreadySigned) ||
		errors.Is(err, resolution.ErrResolutionNotSignable) ||
		errors.Is(err, resolution.ErrInvalidTransition) ||
		errors.Is(err, resolution.ErrNotFound) ||
		errors.Is(err, resolution.ErrBackendUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

func pause(min, spread int) {
	time.Sleep(time.Duration(min+rand.Intn(spread)) * time.Millisecond)
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Creator keeps creating resolutions whose deadlines fall between already
// passed and far away, so signers, finalizers and the sweeper collide.
func Creator(ctx context.Context, svc *resolution.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		meeting := time.Now().UTC().Add(-time.Duration(rand.Intn(96)) * time.Hour)
		seats := make([]resolution.SignatoryInput, PanelSize)
		for i := range seats {
			seats[i] = resolution.SignatoryInput{
				ID:    fmt.Sprintf("seat-%d", i),
				Name:  fmt.Sprintf("Director %d", i),
				Email: fmt.Sprintf("director%d@example.com", i),
			}
		}
		res, err := svc.CreateResolution(ctx, resolution.CreateParams{
			MeetingDate:      meeting,
			AgreementDetails: "Stress resolution",
			DeadlineDays:     1 + rand.Intn(3),
			Signatories:      seats,
		})
		if err != nil {
			if !tolerated(err) {
				return fmt.Errorf("creator: %w", err)
			}
		} else {
			reg.Add(res.ID)
		}
		pause(20, 40)
	}
}

// Signer signs random seats on random resolutions.
func Signer(ctx context.Context, svc *resolution.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if id, ok := reg.Pick(); ok {
			_, err := svc.Sign(ctx, resolution.SignParams{
				ResolutionID: id,
				SignatoryID:  fmt.Sprintf("seat-%d", rand.Intn(PanelSize)),
			})
			if err != nil && !tolerated(err) {
				return fmt.Errorf("signer %s: %w", id, err)
			}
		}
		pause(5, 20)
	}
}

// Finalizer finalizes random resolutions.
func Finalizer(ctx context.Context, svc *resolution.Service, reg *Registry, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if id, ok := reg.Pick(); ok {
			if _, err := svc.Finalize(ctx, id); err != nil && !tolerated(err) {
				return fmt.Errorf("finalizer %s: %w", id, err)
			}
		}
		pause(50, 100)
	}
}

// Sweeper runs the deadline sweep back to back.
func Sweeper(ctx context.Context, svc *resolution.Service, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		svc.Evaluator().Sweep(ctx)
		pause(100, 100)
	}
}
