package resolution

import (
	"context"
	"time"
)

// NotificationKind names the events pushed to signatories and observers.
type NotificationKind string

const (
	NotifySignaturesRequested NotificationKind = "signatures_requested"
	NotifyReminder            NotificationKind = "reminder"
	NotifyFinalized           NotificationKind = "finalized"
	NotifyExpired             NotificationKind = "expired"
)

type Notification struct {
	Kind         NotificationKind
	ResolutionID string
	Message      string
	Urgent       bool
	Recipients   []string
	At           time.Time
}

// NotificationSink delivers notifications. Errors are logged by callers and
// never fail the operation that produced the notification.
type NotificationSink interface {
	Notify(ctx context.Context, n Notification) error
}

// DocumentHandle identifies a rendered finalized document.
type DocumentHandle struct {
	Locale   string
	Location string
	Digest   string
}

type DocumentRenderer interface {
	Render(ctx context.Context, r Resolution, locale string) (DocumentHandle, error)
}

// OTPVerifier checks a one-time password presented with a signature.
type OTPVerifier interface {
	Verify(ctx context.Context, resolutionID, signatoryID, otp string) (bool, error)
}

type nopSink struct{}

func (nopSink) Notify(context.Context, Notification) error { return nil }

func recipients(signatories []Signatory) []string {
	out := make([]string, 0, len(signatories))
	for _, s := range signatories {
		if s.Email != "" {
			out = append(out, s.Email)
		}
	}
	return out
}
