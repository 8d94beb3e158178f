package resolution_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boardportal/memstore"
	"boardportal/resolution"
)

func TestExpire_BeforeDeadline(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)
	h.clock.Set(res.DeadlineAt)

	_, err := h.svc.Expire(context.Background(), res.ID)
	assert.ErrorIs(t, err, resolution.ErrDeadlineNotReached)
}

func TestExpire_AfterDeadline(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)
	h.clock.Set(res.DeadlineAt.Add(time.Second))

	got, err := h.svc.Expire(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusExpired, got.Status)
	assert.Equal(t, res.DeadlineAt, got.DeadlineAt)

	_, err = h.svc.Expire(context.Background(), res.ID)
	assert.ErrorIs(t, err, resolution.ErrInvalidTransition)
}

func TestExpire_NeverOverwritesFinalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	_, err := h.svc.Finalize(ctx, res.ID)
	require.NoError(t, err)

	h.clock.Set(res.DeadlineAt.Add(time.Hour))
	_, err = h.svc.Expire(ctx, res.ID)
	assert.ErrorIs(t, err, resolution.ErrInvalidTransition)

	result := h.svc.Evaluator().Sweep(ctx)
	assert.Empty(t, result.Expired)
	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusFinalized, got.Status)
}

func TestSweep_OnlyOverdueAwaiting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	overdue := h.create(t)
	later, err := h.svc.CreateResolution(ctx, resolution.CreateParams{
		MeetingDate:      meeting,
		AgreementDetails: "Long deadline.",
		DeadlineDays:     30,
		Signatories:      threeSeats(),
	})
	require.NoError(t, err)

	h.clock.Set(meeting.AddDate(0, 0, 10))
	result := h.svc.Evaluator().Sweep(ctx)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, []string{overdue.ID}, result.Expired)
	assert.Empty(t, result.Failed)

	got, err := h.svc.Get(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusAwaitingSignatures, got.Status)

	again := h.svc.Evaluator().Sweep(ctx)
	assert.Empty(t, again.Expired)
	assert.Equal(t,
		[]resolution.NotificationKind{resolution.NotifySignaturesRequested, resolution.NotifyExpired},
		h.sink.kinds(overdue.ID),
	)
}

func TestSweep_ExpiresRecordsHeldOnlyByLowerTier(t *testing.T) {
	ctx := context.Background()
	clock := newClock(meeting.Add(-24 * time.Hour))
	primary := memstore.New("primary").WithClock(clock.Now)
	local := memstore.New("local").WithClock(clock.Now)
	repo := resolution.NewFallbackRepository(nil, time.Second, primary, local)
	svc := resolution.NewService(repo, &recordingSink{}, &recordingRenderer{}, nil).WithClock(clock.Now)
	params := resolution.CreateParams{
		MeetingDate:      meeting,
		AgreementDetails: "Approve the FY2025 capital budget.",
		DeadlineDays:     7,
		Signatories:      threeSeats(),
	}

	inPrimary, err := svc.CreateResolution(ctx, params)
	require.NoError(t, err)
	primary.SetOffline(true)
	inLocal, err := svc.CreateResolution(ctx, params)
	require.NoError(t, err)
	primary.SetOffline(false)
	_, err = primary.Get(ctx, inLocal.ID)
	require.ErrorIs(t, err, resolution.ErrNotFound)

	clock.Set(meeting.AddDate(0, 0, 30))
	result := svc.Evaluator().Sweep(ctx)
	assert.Equal(t, 2, result.Scanned)
	assert.ElementsMatch(t, []string{inPrimary.ID, inLocal.ID}, result.Expired)
	assert.Empty(t, result.Failed)

	got, err := local.Get(ctx, inLocal.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusExpired, got.Status)

	_, err = svc.Sign(ctx, resolution.SignParams{ResolutionID: inLocal.ID, SignatoryID: "A"})
	assert.ErrorIs(t, err, resolution.ErrResolutionNotSignable)
}

// racingRepo finalizes the resolution just before the evaluator's compare-and-set.
type racingRepo struct {
	resolution.Repository
	once sync.Once
}

func (r *racingRepo) TransitionStatus(ctx context.Context, id string, from, to resolution.Status) error {
	r.once.Do(func() {
		_ = r.Repository.TransitionStatus(ctx, id, resolution.StatusAwaitingSignatures, resolution.StatusFinalized)
	})
	return r.Repository.TransitionStatus(ctx, id, from, to)
}

func TestSweep_LostRaceIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.create(t)
	h.clock.Set(res.DeadlineAt.Add(time.Minute))

	eval := resolution.NewDeadlineEvaluator(&racingRepo{Repository: h.repo}, h.sink, nil).WithClock(h.clock.Now)
	result := eval.Sweep(ctx)
	assert.Empty(t, result.Expired)
	assert.Equal(t, 1, result.Skipped)
	assert.Empty(t, result.Failed)

	got, err := h.svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, resolution.StatusFinalized, got.Status)
	assert.NotContains(t, h.sink.kinds(res.ID), resolution.NotifyExpired)
}

func TestSweep_FinalizeAndExpireRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		res := h.create(t)
		h.clock.Set(res.DeadlineAt.Add(time.Minute))

		var wg sync.WaitGroup
		var finalizeErr error
		var sweep resolution.SweepResult
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, finalizeErr = h.svc.Finalize(ctx, res.ID)
		}()
		go func() {
			defer wg.Done()
			sweep = h.svc.Evaluator().Sweep(ctx)
		}()
		wg.Wait()

		require.Empty(t, sweep.Failed)
		got, err := h.svc.Get(ctx, res.ID)
		require.NoError(t, err)
		require.True(t, got.Status.Terminal())
		if finalizeErr == nil {
			assert.Equal(t, resolution.StatusFinalized, got.Status)
			assert.Empty(t, sweep.Expired)
		} else {
			assert.ErrorIs(t, finalizeErr, resolution.ErrInvalidTransition)
			assert.Equal(t, resolution.StatusExpired, got.Status)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	res := h.create(t)
	h.clock.Set(res.DeadlineAt.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.svc.Evaluator().Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		got, err := h.svc.Get(context.Background(), res.ID)
		return err == nil && got.Status == resolution.StatusExpired
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evaluator did not stop")
	}
}
