// Package render produces the finalized resolution documents.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"boardportal/resolution"
)

// ErrUnsupportedLocale is returned for a locale without a label set.
var ErrUnsupportedLocale = errors.New("render: unsupported locale")

// ErrInvalidID is returned for a resolution id that cannot name a file.
var ErrInvalidID = errors.New("render: invalid resolution id")

type labels struct {
	Title       string `json:"title"`
	Meeting     string `json:"meeting_date"`
	Deadline    string `json:"deadline"`
	Agreement   string `json:"agreement"`
	Signatories string `json:"signatories"`
	SignedAt    string `json:"signed_at"`
	Barcode     string `json:"barcode"`
	Direction   string `json:"direction"`
}

var localeLabels = map[string]labels{
	"en": {
		Title:       "Board Resolution",
		Meeting:     "Meeting date",
		Deadline:    "Signing deadline",
		Agreement:   "Resolution",
		Signatories: "Signatories",
		SignedAt:    "Signed at",
		Barcode:     "Reference",
		Direction:   "ltr",
	},
	"ar": {
		Title:       "قرار مجلس الإدارة",
		Meeting:     "تاريخ الاجتماع",
		Deadline:    "الموعد النهائي للتوقيع",
		Agreement:   "نص القرار",
		Signatories: "الموقعون",
		SignedAt:    "تاريخ التوقيع",
		Barcode:     "المرجع",
		Direction:   "rtl",
	},
}

// Locales lists the locales ManifestRenderer can produce.
func Locales() []string { return []string{"en", "ar"} }

type manifest struct {
	Locale       string          `json:"locale"`
	Labels       labels          `json:"labels"`
	ResolutionID string          `json:"resolution_id"`
	Status       string          `json:"status"`
	MeetingDate  string          `json:"meeting_date"`
	DeadlineAt   string          `json:"deadline_at"`
	Agreement    string          `json:"agreement"`
	Barcode      string          `json:"barcode"`
	Signatures   []signatureLine `json:"signatures"`
	RenderedAt   string          `json:"rendered_at"`
}

type signatureLine struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	JobTitle      string `json:"job_title,omitempty"`
	SignedAt      string `json:"signed_at,omitempty"`
	SignatureHash string `json:"signature_hash,omitempty"`
}

// ManifestRenderer writes one JSON manifest per locale into a directory.
// The manifest bytes on disk are exactly the bytes the digest covers.
type ManifestRenderer struct {
	dir string
	now func() time.Time
}

func NewManifestRenderer(dir string) *ManifestRenderer {
	return &ManifestRenderer{dir: dir, now: time.Now}
}

func (m *ManifestRenderer) WithClock(now func() time.Time) *ManifestRenderer {
	m.now = now
	return m
}

func (m *ManifestRenderer) Render(ctx context.Context, r resolution.Resolution, locale string) (resolution.DocumentHandle, error) {
	if err := ctx.Err(); err != nil {
		return resolution.DocumentHandle{}, err
	}
	if !resolution.ValidID(r.ID) || filepath.Base(r.ID) != r.ID {
		return resolution.DocumentHandle{}, fmt.Errorf("%w: %q", ErrInvalidID, r.ID)
	}
	lbl, ok := localeLabels[locale]
	if !ok {
		return resolution.DocumentHandle{}, fmt.Errorf("%w: %q", ErrUnsupportedLocale, locale)
	}

	doc := manifest{
		Locale:       locale,
		Labels:       lbl,
		ResolutionID: r.ID,
		Status:       string(r.Status),
		MeetingDate:  r.MeetingDate.UTC().Format(time.RFC3339),
		DeadlineAt:   r.DeadlineAt.UTC().Format(time.RFC3339),
		Agreement:    r.AgreementDetails,
		Barcode:      r.BarcodeData,
		Signatures:   make([]signatureLine, 0, len(r.Signatories)),
		RenderedAt:   m.now().UTC().Format(time.RFC3339),
	}
	for _, s := range r.Signatories {
		line := signatureLine{ID: s.ID, Name: s.Name, JobTitle: s.JobTitle}
		if s.SignedAt != nil {
			line.SignedAt = s.SignedAt.UTC().Format(time.RFC3339Nano)
		}
		if s.SignatureHash != nil {
			line.SignatureHash = *s.SignatureHash
		}
		doc.Signatures = append(doc.Signatures, line)
	}

	digest, body, err := canonicalSHA256(doc)
	if err != nil {
		return resolution.DocumentHandle{}, fmt.Errorf("render: encode manifest: %w", err)
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return resolution.DocumentHandle{}, fmt.Errorf("render: create dir: %w", err)
	}
	path := filepath.Join(m.dir, fmt.Sprintf("%s.%s.json", r.ID, locale))
	if err := writeFileAtomic(path, body); err != nil {
		return resolution.DocumentHandle{}, err
	}
	return resolution.DocumentHandle{Locale: locale, Location: path, Digest: digest}, nil
}

func canonicalSHA256(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

func writeFileAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return fmt.Errorf("render: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("render: write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("render: close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("render: publish manifest: %w", err)
	}
	return nil
}
