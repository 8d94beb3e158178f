package resolution_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardportal/resolution"
)

func TestService_ExampleScenarioFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.create(t)
	require.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), res.DeadlineAt)
	require.Equal(t, resolution.StatusAwaitingSignatures, res.Status)
	require.Equal(t, res.ID, res.BarcodeData)

	for _, sid := range []string{"A", "B"} {
		signed, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: sid})
		require.NoError(t, err)
		assert.Equal(t, resolution.StatusAwaitingSignatures, signed.Status)
	}

	finalized, err := h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusFinalized, finalized.Status)
	assert.Equal(t, 2, finalized.SignedCount())

	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "C"})
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)

	assert.Equal(t, []string{"en", "ar"}, h.renderer.locales)
	assert.Equal(t,
		[]resolution.NotificationKind{resolution.NotifySignaturesRequested, resolution.NotifyFinalized},
		h.sink.kinds(res.ID),
	)
}

func TestService_ExampleScenarioExpire(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.create(t)
	h.clock.Set(time.Date(2025, 1, 8, 9, 0, 1, 0, time.UTC))

	result := h.svc.Evaluator().Sweep(ctx)
	assert.Equal(t, []string{res.ID}, result.Expired)

	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusExpired, got.Status)

	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)

	_, err = h.svc.Finalize(ctx, res.ID)
	assert.ErrorIs(t, err, resolution.ErrInvalidTransition)
}

func TestService_CreateIsIdempotentOnID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	params := resolution.CreateParams{
		ID:               "res-fixed",
		MeetingDate:      meeting,
		AgreementDetails: "Appoint external auditor.",
		Signatories:      threeSeats(),
	}

	first, err := h.svc.CreateResolution(ctx, params)
	require.NoError(t, err)
	_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: first.ID, SignatoryID: "A"})
	require.NoError(t, err)

	params.AgreementDetails = "A different body"
	second, err := h.svc.CreateResolution(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, "res-fixed", second.ID)
	assert.Equal(t, "Appoint external auditor.", second.AgreementDetails)
	assert.Equal(t, 1, second.SignedCount())
	assert.Len(t, h.repo.List(ctx), 1)
	assert.Equal(t, []resolution.NotificationKind{resolution.NotifySignaturesRequested}, h.sink.kinds("res-fixed"))
}

// lateCreateRepo hides an existing record from Get so Create sees the stored copy.
type lateCreateRepo struct {
	resolution.Repository
}

func (r lateCreateRepo) Get(context.Context, string) (resolution.Resolution, error) {
	return resolution.Resolution{}, resolution.ErrNotFound
}

func TestService_CreateLosingRaceDoesNotRenotify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	params := resolution.CreateParams{
		ID:               "res-race",
		MeetingDate:      meeting,
		AgreementDetails: "Appoint external auditor.",
		Signatories:      threeSeats(),
	}
	_, err := h.svc.CreateResolution(ctx, params)
	require.NoError(t, err)

	h.clock.Set(meeting)
	late := resolution.NewService(lateCreateRepo{h.repo}, h.sink, h.renderer, nil).WithClock(h.clock.Now)
	got, err := late.CreateResolution(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, "res-race", got.ID)
	assert.Len(t, h.sink.kinds("res-race"), 1)
}

func TestService_CreateDefaultsDeadline(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.CreateResolution(context.Background(), resolution.CreateParams{
		MeetingDate:      meeting,
		AgreementDetails: "Adopt the remote meeting policy.",
		Signatories:      threeSeats()[:1],
	})
	require.NoError(t, err)
	assert.Equal(t, meeting.AddDate(0, 0, resolution.DefaultDeadlineDays), res.DeadlineAt)
}

func TestService_CreateValidation(t *testing.T) {
	dup := threeSeats()
	dup[1].ID = "A"
	badEmail := threeSeats()
	badEmail[0].Email = "not-an-email"

	tests := map[string]resolution.CreateParams{
		"missing meeting date": {AgreementDetails: "x", Signatories: threeSeats()},
		"missing details":      {MeetingDate: meeting, Signatories: threeSeats()},
		"negative deadline":    {MeetingDate: meeting, AgreementDetails: "x", DeadlineDays: -1, Signatories: threeSeats()},
		"empty panel":          {MeetingDate: meeting, AgreementDetails: "x"},
		"duplicate seat":       {MeetingDate: meeting, AgreementDetails: "x", Signatories: dup},
		"bad email":            {MeetingDate: meeting, AgreementDetails: "x", Signatories: badEmail},
		"nameless signatory":   {MeetingDate: meeting, AgreementDetails: "x", Signatories: []resolution.SignatoryInput{{ID: "A"}}},
		"path traversal id":    {ID: "../../escaped", MeetingDate: meeting, AgreementDetails: "x", Signatories: threeSeats()},
		"id with slash":        {ID: "board/2025", MeetingDate: meeting, AgreementDetails: "x", Signatories: threeSeats()},
		"dot id":               {ID: "..", MeetingDate: meeting, AgreementDetails: "x", Signatories: threeSeats()},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.svc.CreateResolution(context.Background(), params)
			assert.ErrorIs(t, err, resolution.ErrInvalidRequest)
			assert.Empty(t, h.repo.List(context.Background()))
		})
	}
}

func TestService_PanelSizePolicy(t *testing.T) {
	h := newHarness(t)
	policy := resolution.DefaultPolicy()
	policy.PanelSize = 2
	h.svc.WithPolicy(policy)

	_, err := h.svc.CreateResolution(context.Background(), resolution.CreateParams{
		MeetingDate: meeting, AgreementDetails: "x", Signatories: threeSeats(),
	})
	assert.ErrorIs(t, err, resolution.ErrInvalidRequest)

	_, err = h.svc.CreateResolution(context.Background(), resolution.CreateParams{
		MeetingDate: meeting, AgreementDetails: "x", Signatories: threeSeats()[:2],
	})
	assert.NoError(t, err)
}

func TestService_GeneratesSignatoryIDs(t *testing.T) {
	h := newHarness(t)
	n := 0
	h.svc.WithIDGenerator(func() string {
		n++
		return []string{"seat-1", "seat-2", "res-1"}[n-1]
	})
	res, err := h.svc.CreateResolution(context.Background(), resolution.CreateParams{
		MeetingDate:      meeting,
		AgreementDetails: "x",
		Signatories:      []resolution.SignatoryInput{{Name: "One"}, {Name: "Two"}},
	})
	require.NoError(t, err)

	want := []resolution.Signatory{{ID: "seat-1", Name: "One"}, {ID: "seat-2", Name: "Two"}}
	if diff := cmp.Diff(want, res.Signatories); diff != "" {
		t.Errorf("signatories mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, "res-1", res.BarcodeData)
}

func TestService_FinalizeRequireAllSigned(t *testing.T) {
	h := newHarness(t)
	policy := resolution.DefaultPolicy()
	policy.RequireAllSigned = true
	h.svc.WithPolicy(policy)
	ctx := context.Background()

	res := h.create(t)
	_, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "A"})
	require.NoError(t, err)

	_, err = h.svc.Finalize(ctx, res.ID)
	assert.ErrorIs(t, err, resolution.ErrSignaturesOutstanding)

	for _, sid := range []string{"B", "C"} {
		_, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: sid})
		require.NoError(t, err)
	}
	got, err := h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, got.AllSigned())
}

func TestService_NoAutoFinalizeWhenAllSigned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	var last resolution.Resolution
	for _, sid := range []string{"A", "B", "C"} {
		var err error
		last, err = h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: sid})
		require.NoError(t, err)
	}
	assert.True(t, last.AllSigned())
	assert.Equal(t, resolution.StatusAwaitingSignatures, last.Status)
}

func TestService_FinalizeSurvivesRenderAndNotifyFailures(t *testing.T) {
	h := newHarness(t)
	h.renderer.failFor = "ar"
	h.sink.fail = assert.AnError
	ctx := context.Background()
	res := h.create(t)

	out, err := h.svc.FinalizeWithDocuments(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusFinalized, out.Resolution.Status)
	require.Len(t, out.Documents, 1)
	assert.Equal(t, "en", out.Documents[0].Locale)
}

func TestService_FinalizeTwiceFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	_, err := h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)
	_, err = h.svc.Finalize(ctx, res.ID)
	assert.ErrorIs(t, err, resolution.ErrInvalidTransition)

	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusFinalized, got.Status)
}

func TestService_RequestReminder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	_, err := h.svc.Sign(ctx, resolution.SignParams{ResolutionID: res.ID, SignatoryID: "B"})
	require.NoError(t, err)

	rem, err := h.svc.RequestReminder(ctx, res.ID)
	require.NoError(t, err)
	assert.False(t, rem.Urgent)
	assert.Len(t, rem.Outstanding, 2)
	n := h.sink.last()
	assert.Equal(t, resolution.NotifyReminder, n.Kind)
	assert.Equal(t, []string{"amal@example.com", "carla@example.com"}, n.Recipients)

	h.clock.Set(res.DeadlineAt.Add(-2 * time.Hour))
	rem, err = h.svc.RequestReminder(ctx, res.ID)
	require.NoError(t, err)
	assert.True(t, rem.Urgent)
	assert.True(t, h.sink.last().Urgent)

	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusAwaitingSignatures, got.Status)
}

func TestService_RequestReminderAfterFinalize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	_, err := h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)

	_, err = h.svc.RequestReminder(ctx, res.ID)
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)
}

func TestService_GetUnknown(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, resolution.ErrNotFound)
	_, err = h.svc.Finalize(context.Background(), "missing")
	assert.ErrorIs(t, err, resolution.ErrNotFound)
}
