package resolution

import "time"

// Status is the lifecycle state of a resolution.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusAwaitingSignatures Status = "awaiting_signatures"
	StatusFinalized          Status = "finalized"
	StatusExpired            Status = "expired"
)

// DefaultDeadlineDays is applied when a caller does not supply a deadline.
const DefaultDeadlineDays = 7

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusAwaitingSignatures, StatusFinalized, StatusExpired:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusExpired
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusAwaitingSignatures
	case StatusAwaitingSignatures:
		return to == StatusFinalized || to == StatusExpired
	default:
		return false
	}
}

// Signatory is one seat on a resolution's signing panel. Identity fields are
// immutable; SignedAt and SignatureHash are set together, exactly once.
type Signatory struct {
	ID            string
	Name          string
	Email         string
	JobTitle      string
	SignedAt      *time.Time
	SignatureHash *string
}

// Signed reports whether the seat has been signed.
func (s Signatory) Signed() bool {
	return s.SignedAt != nil
}

// Resolution is the unit of record. It mirrors the resolutions and
// signatories tables and carries no presentation tags.
type Resolution struct {
	ID               string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	MeetingDate      time.Time
	AgreementDetails string
	Status           Status
	DeadlineAt       time.Time
	Signatories      []Signatory
	BarcodeData      string
}

const maxIDLength = 128

// ValidID reports whether id can name a resolution: up to 128 letters,
// digits, '.', '_' or '-', starting with a letter or digit. Ids travel in URL
// paths, barcodes and document file names.
func ValidID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case i > 0 && (c == '.' || c == '_' || c == '-'):
		default:
			return false
		}
	}
	return true
}

// DeadlineFor computes the signing deadline for a meeting date.
func DeadlineFor(meetingDate time.Time, days int) time.Time {
	return meetingDate.AddDate(0, 0, days)
}

// Signatory returns the seat with the given id.
func (r Resolution) Signatory(id string) (Signatory, bool) {
	for _, s := range r.Signatories {
		if s.ID == id {
			return s, true
		}
	}
	return Signatory{}, false
}

// Outstanding returns the seats that have not signed yet, in panel order.
func (r Resolution) Outstanding() []Signatory {
	out := make([]Signatory, 0, len(r.Signatories))
	for _, s := range r.Signatories {
		if !s.Signed() {
			out = append(out, s)
		}
	}
	return out
}

// SignedCount returns the number of signed seats.
func (r Resolution) SignedCount() int {
	return len(r.Signatories) - len(r.Outstanding())
}

// AllSigned reports whether every seat has signed.
func (r Resolution) AllSigned() bool {
	return len(r.Signatories) > 0 && len(r.Outstanding()) == 0
}

// Overdue reports whether the resolution still awaits signatures past its deadline.
func (r Resolution) Overdue(now time.Time) bool {
	return r.Status == StatusAwaitingSignatures && now.After(r.DeadlineAt)
}

// Clone returns a deep copy so callers cannot alias stored state.
func (r Resolution) Clone() Resolution {
	out := r
	if r.Signatories != nil {
		out.Signatories = make([]Signatory, len(r.Signatories))
		for i, s := range r.Signatories {
			out.Signatories[i] = s.clone()
		}
	}
	return out
}

func (s Signatory) clone() Signatory {
	out := s
	if s.SignedAt != nil {
		at := *s.SignedAt
		out.SignedAt = &at
	}
	if s.SignatureHash != nil {
		h := *s.SignatureHash
		out.SignatureHash = &h
	}
	return out
}
