package reststore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"boardportal/auth"
	"boardportal/httpx"
	"boardportal/memstore"
	"boardportal/resolution"
)

func sample(id string) resolution.Resolution {
	meeting := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	return resolution.Resolution{
		ID:               id,
		CreatedAt:        meeting.Add(-time.Hour),
		UpdatedAt:        meeting.Add(-time.Hour),
		MeetingDate:      meeting,
		AgreementDetails: "Approve the annual budget.",
		Status:           resolution.StatusAwaitingSignatures,
		DeadlineAt:       resolution.DeadlineFor(meeting, 7),
		Signatories: []resolution.Signatory{
			{ID: "A", Name: "Amal", Email: "amal@example.com", JobTitle: "Chair"},
			{ID: "B", Name: "Bilal"},
		},
		BarcodeData: id,
	}
}

type facade struct {
	store  *memstore.Store
	server *httptest.Server
	tokens *auth.Service
	client *Client
}

func newFacade(t *testing.T, secured bool) *facade {
	t.Helper()
	f := &facade{store: memstore.New("facade")}
	if secured {
		tokens, err := auth.NewService("facade-secret")
		require.NoError(t, err)
		f.tokens = tokens
	}
	f.server = httptest.NewServer(NewHandler(f.store, f.tokens, zap.NewNop()))
	t.Cleanup(f.server.Close)
	f.client = NewClient(ClientOptions{BaseURL: f.server.URL, Timeout: 2 * time.Second, Tokens: f.tokens}, zap.NewNop())
	return f
}

func TestClient_RoundTrip(t *testing.T) {
	f := newFacade(t, true)
	ctx := context.Background()
	assert.Equal(t, "rest", f.client.Name())

	in := sample("r-1")
	created, err := f.client.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in, created)

	got, err := f.client.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	signedAt := time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.client.UpdateSignatory(ctx, "r-1", "A", signedAt, "hash-a"))
	stored, err := f.store.Get(ctx, "r-1")
	require.NoError(t, err)
	seat, _ := stored.Signatory("A")
	require.True(t, seat.Signed())
	assert.True(t, seat.SignedAt.Equal(signedAt))

	require.NoError(t, f.client.TransitionStatus(ctx, "r-1", resolution.StatusAwaitingSignatures, resolution.StatusFinalized))
	require.NoError(t, f.client.UpdateStatus(ctx, "r-1", resolution.StatusFinalized))

	items, err := f.client.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, resolution.StatusFinalized, items[0].Status)
}

func TestClient_MapsErrorCodes(t *testing.T) {
	f := newFacade(t, false)
	ctx := context.Background()
	_, err := f.client.Create(ctx, sample("r-1"))
	require.NoError(t, err)
	now := time.Now()

	_, err = f.client.Get(ctx, "missing")
	assert.ErrorIs(t, err, resolution.ErrNotFound)
	assert.ErrorIs(t, f.client.UpdateSignatory(ctx, "r-1", "Z", now, "h"), resolution.ErrUnknownSignatory)
	require.NoError(t, f.client.UpdateSignatory(ctx, "r-1", "A", now, "h"))
	assert.ErrorIs(t, f.client.UpdateSignatory(ctx, "r-1", "A", now, "h2"), resolution.ErrAlreadySigned)

	require.NoError(t, f.client.TransitionStatus(ctx, "r-1", resolution.StatusAwaitingSignatures, resolution.StatusExpired))
	assert.ErrorIs(t, f.client.TransitionStatus(ctx, "r-1", resolution.StatusAwaitingSignatures, resolution.StatusFinalized), resolution.ErrStatusConflict)
	assert.ErrorIs(t, f.client.UpdateSignatory(ctx, "r-1", "B", now, "h"), resolution.ErrResolutionNotSignable)
	assert.ErrorIs(t, f.client.UpdateStatus(ctx, "missing", resolution.StatusExpired), resolution.ErrNotFound)
}

func TestClient_BackendFailureIsNotAnAnswer(t *testing.T) {
	f := newFacade(t, false)
	f.store.SetOffline(true)

	_, err := f.client.Get(context.Background(), "r-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, resolution.ErrNotFound)
	assert.Contains(t, err.Error(), "status 500")
}

func TestClient_UnreachableFacade(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(ClientOptions{BaseURL: url, Timeout: time.Second}, nil)
	_, err := client.Get(context.Background(), "r-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, resolution.ErrNotFound)
}

func TestHandler_RequiresToken(t *testing.T) {
	f := newFacade(t, true)

	resp, err := http.Get(f.server.URL + "/v1/resolutions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var body httpx.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body.Error.Code)
}

func TestHandler_ReadScopeCannotWrite(t *testing.T) {
	f := newFacade(t, true)
	token, err := f.tokens.IssueToken("auditor", auth.ScopeRead)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/v1/resolutions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := json.Marshal(FromResolution(sample("r-1")))
	require.NoError(t, err)
	req, err = http.NewRequest(http.MethodPost, f.server.URL+"/v1/resolutions", strings.NewReader(string(payload)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandler_RejectsBadBodies(t *testing.T) {
	f := newFacade(t, false)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"create without id", http.MethodPost, "/v1/resolutions", `{"status":"awaiting_signatures"}`},
		{"create bad status", http.MethodPost, "/v1/resolutions", `{"id":"x","status":"archived"}`},
		{"create barcode mismatch", http.MethodPost, "/v1/resolutions", `{"id":"x","barcode_data":"y","status":"awaiting_signatures"}`},
		{"create unsafe id", http.MethodPost, "/v1/resolutions", `{"id":"../x","barcode_data":"../x","status":"awaiting_signatures"}`},
		{"sign without hash", http.MethodPut, "/v1/resolutions/x/signatories/A/signature", `{"signed_at":"2025-01-01T00:00:00Z"}`},
		{"unknown status", http.MethodPut, "/v1/resolutions/x/status", `{"status":"archived"}`},
		{"unknown field", http.MethodPost, "/v1/resolutions/x/status/transition", `{"from":"draft","to":"finalized","force":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, f.server.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}
