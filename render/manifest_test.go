package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardportal/resolution"
)

func finalized() resolution.Resolution {
	meeting := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	signed := meeting.Add(3 * time.Hour)
	hash := "abc123"
	return resolution.Resolution{
		ID:               "r-1",
		MeetingDate:      meeting,
		AgreementDetails: "Approve the annual budget.",
		Status:           resolution.StatusFinalized,
		DeadlineAt:       resolution.DeadlineFor(meeting, 7),
		BarcodeData:      "r-1",
		Signatories: []resolution.Signatory{
			{ID: "A", Name: "Amal", JobTitle: "Chair", SignedAt: &signed, SignatureHash: &hash},
			{ID: "B", Name: "Bilal"},
		},
	}
}

func TestManifestRenderer_RejectsUnsafeIDs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs", "out")
	r := NewManifestRenderer(dir)

	for _, id := range []string{"../../escaped", "a/b", "..", ""} {
		res := finalized()
		res.ID = id
		res.BarcodeData = id
		_, err := r.Render(context.Background(), res, "en")
		assert.ErrorIs(t, err, ErrInvalidID, "id %q", id)
	}
	_, err := os.Stat(filepath.Join(root, "escaped.en.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestManifestRenderer_WritesDigestedManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "docs")
	now := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	r := NewManifestRenderer(dir).WithClock(func() time.Time { return now })

	for _, locale := range Locales() {
		h, err := r.Render(context.Background(), finalized(), locale)
		require.NoError(t, err)
		assert.Equal(t, locale, h.Locale)
		assert.Equal(t, filepath.Join(dir, "r-1."+locale+".json"), h.Location)

		body, err := os.ReadFile(h.Location)
		require.NoError(t, err)
		sum := sha256.Sum256(body)
		assert.Equal(t, hex.EncodeToString(sum[:]), h.Digest)

		var doc manifest
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "r-1", doc.Barcode)
		assert.Equal(t, "2025-01-08T09:00:00Z", doc.DeadlineAt)
		require.Len(t, doc.Signatures, 2)
		assert.Equal(t, "abc123", doc.Signatures[0].SignatureHash)
		assert.Empty(t, doc.Signatures[1].SignedAt)
	}

	ar, err := os.ReadFile(filepath.Join(dir, "r-1.ar.json"))
	require.NoError(t, err)
	var doc manifest
	require.NoError(t, json.Unmarshal(ar, &doc))
	assert.Equal(t, "rtl", doc.Labels.Direction)
}

func TestManifestRenderer_DeterministicDigest(t *testing.T) {
	now := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	a := NewManifestRenderer(t.TempDir()).WithClock(func() time.Time { return now })
	b := NewManifestRenderer(t.TempDir()).WithClock(func() time.Time { return now })

	ha, err := a.Render(context.Background(), finalized(), "en")
	require.NoError(t, err)
	hb, err := b.Render(context.Background(), finalized(), "en")
	require.NoError(t, err)
	assert.Equal(t, ha.Digest, hb.Digest)
}

func TestManifestRenderer_Rejects(t *testing.T) {
	r := NewManifestRenderer(t.TempDir())
	_, err := r.Render(context.Background(), finalized(), "fr")
	assert.ErrorIs(t, err, ErrUnsupportedLocale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Render(ctx, finalized(), "en")
	assert.ErrorIs(t, err, context.Canceled)
}
