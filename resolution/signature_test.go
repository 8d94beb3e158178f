package resolution_test

import (
	"context"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"boardportal/resolution"
)

func TestSign_StampsSeat(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)

	signed, err := h.svc.Sign(context.Background(), resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	require.NoError(t, err)

	seat, ok := signed.Signatory("A")
	require.True(t, ok)
	require.NotNil(t, seat.SignedAt)
	require.NotNil(t, seat.SignatureHash)
	assert.Equal(t, h.clock.Now().UTC(), *seat.SignedAt)
	raw, err := hex.DecodeString(*seat.SignatureHash)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, _ := signed.Signatory("B")
	assert.False(t, other.Signed())
}

func TestSign_ErrorOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)

	_, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: "missing", SignatoryID: "A"})
	assert.ErrorIs(t, err, resolution.ErrNotFound)

	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "Z"})
	assert.ErrorIs(t, err, resolution.ErrUnknownSignatory)

	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	require.NoError(t, err)
	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	assert.ErrorIs(t, err, resolution.ErrAlreadySigned)

	// Not signable wins over unknown seat once the resolution is closed.
	_, err = h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)
	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "Z"})
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)
}

func TestSign_AlreadySignedKeepsFirstHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)

	first, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	require.NoError(t, err)
	seat, _ := first.Signatory("A")

	h.clock.Set(h.clock.Now().Add(time.Hour))
	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	require.ErrorIs(t, err, resolution.ErrAlreadySigned)

	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	again, _ := got.Signatory("A")
	assert.Equal(t, *seat.SignatureHash, *again.SignatureHash)
	assert.Equal(t, *seat.SignedAt, *again.SignedAt)
}

func TestSign_SameSeatConcurrently(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)

	const attempts = 8
	errs := make([]error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, errs[i] = h.svc.Sign(context.Background(), resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	ok, dup := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, resolution.ErrAlreadySigned):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)
}

func TestSign_DistinctSeatsConcurrently(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)

	var g errgroup.Group
	for _, sid := range []string{"A", "B", "C"} {
		g.Go(func() error {
			_, err := h.svc.Sign(context.Background(), resolution.SignParams{ResolutionID: res.ID, SignatoryID: sid})
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := h.svc.Get(context.Background(), res.ID)
	require.NoError(t, err)
	assert.True(t, got.AllSigned())
}

func TestSign_OTPVerifier(t *testing.T) {
	h := newHarness(t)
	h.svc.WithOTPVerifier(staticOTP{code: "424242"})
	ctx := context.Background()
	res := h.create(t)

	_, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A", OTP: "000000"})
	assert.ErrorIs(t, err, resolution.ErrInvalidOTP)

	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A", OTP: "424242"})
	assert.NoError(t, err)
}

func TestProofTokenGenerator(t *testing.T) {
	at := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	plain := resolution.NewProofTokenGenerator(nil)
	a, err := plain.Generate("r-1", "A", at)
	require.NoError(t, err)
	b, err := plain.Generate("r-1", "A", at)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)

	keyed := resolution.NewProofTokenGenerator(make([]byte, 100))
	c, err := keyed.Generate("r-1", "A", at)
	require.NoError(t, err)
	assert.Len(t, c, 64)
}
