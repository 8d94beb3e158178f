// Package httpapi serves the public resolution lifecycle API.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"boardportal/export"
	"boardportal/httpx"
	"boardportal/resolution"
)

// Lifecycle is the subset of resolution.Service the API drives.
type Lifecycle interface {
	CreateResolution(ctx context.Context, params resolution.CreateParams) (resolution.Resolution, error)
	Get(ctx context.Context, id string) (resolution.Resolution, error)
	List(ctx context.Context) []resolution.Resolution
	Sign(ctx context.Context, params resolution.SignParams) (resolution.Resolution, error)
	FinalizeWithDocuments(ctx context.Context, id string) (resolution.FinalizeResult, error)
	RequestReminder(ctx context.Context, id string) (resolution.Reminder, error)
	Expire(ctx context.Context, id string) (resolution.Resolution, error)
}

type Server struct {
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewServer(lifecycle Lifecycle, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{lifecycle: lifecycle, logger: logger}
}

// Routes builds the chi router for the public API.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api/resolutions", func(api chi.Router) {
		api.Post("/", s.handleCreate)
		api.Get("/", s.handleList)
		api.Get("/export.xlsx", s.handleExport)
		api.Get("/{id}", s.handleGet)
		api.Post("/{id}/signatures", s.handleSign)
		api.Post("/{id}/finalize", s.handleFinalize)
		api.Post("/{id}/reminders", s.handleReminder)
		api.Post("/{id}/expire", s.handleExpire)
	})
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	meeting, err := parseDate(req.MeetingDate)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	params := resolution.CreateParams{
		ID:               req.ID,
		MeetingDate:      meeting,
		AgreementDetails: req.AgreementDetails,
		DeadlineDays:     req.DeadlineDays,
	}
	for _, sig := range req.Signatories {
		params.Signatories = append(params.Signatories, resolution.SignatoryInput{
			ID:       sig.ID,
			Name:     sig.Name,
			Email:    sig.Email,
			JobTitle: sig.JobTitle,
		})
	}

	res, err := s.lifecycle.CreateResolution(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResolutionResponse(res))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items := s.lifecycle.List(r.Context())
	out := listResponse{Items: make([]resolutionResponse, 0, len(items)), Total: len(items)}
	for _, res := range items {
		out.Items = append(out.Items, toResolutionResponse(res))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResolutionResponse(res))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	res, err := s.lifecycle.Sign(r.Context(), resolution.SignParams{
		ResolutionID: chi.URLParam(r, "id"),
		SignatoryID:  req.SignatoryID,
		OTP:          req.OTP,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResolutionResponse(res))
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	out, err := s.lifecycle.FinalizeWithDocuments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := finalizeResponse{
		Resolution: toResolutionResponse(out.Resolution),
		Documents:  make([]documentResponse, 0, len(out.Documents)),
	}
	for _, doc := range out.Documents {
		resp.Documents = append(resp.Documents, documentResponse{Locale: doc.Locale, Location: doc.Location, Digest: doc.Digest})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := s.lifecycle.RequestReminder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := reminderResponse{
		ResolutionID: rem.ResolutionID,
		Outstanding:  make([]string, 0, len(rem.Outstanding)),
		Urgent:       rem.Urgent,
		DeadlineAt:   rem.DeadlineAt.UTC().Format(time.RFC3339),
		SentAt:       rem.SentAt.UTC().Format(time.RFC3339),
	}
	for _, sig := range rem.Outstanding {
		resp.Outstanding = append(resp.Outstanding, sig.ID)
	}
	httpx.WriteJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	res, err := s.lifecycle.Expire(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResolutionResponse(res))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := export.WriteWorkbook(&buf, s.lifecycle.List(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="resolutions.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// writeError maps lifecycle errors onto status codes and wire codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, resolution.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, resolution.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, resolution.ErrAlreadySigned):
		status, code = http.StatusConflict, "already_signed"
	case errors.Is(err, resolution.ErrResolutionNotSignable):
		status, code = http.StatusConflict, "not_signable"
	case errors.Is(err, resolution.ErrUnknownSignatory):
		status, code = http.StatusUnprocessableEntity, "unknown_signatory"
	case errors.Is(err, resolution.ErrInvalidOTP):
		status, code = http.StatusUnauthorized, "invalid_otp"
	case errors.Is(err, resolution.ErrSignaturesOutstanding):
		status, code = http.StatusConflict, "signatures_outstanding"
	case errors.Is(err, resolution.ErrInvalidTransition):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.Is(err, resolution.ErrDeadlineNotReached):
		status, code = http.StatusConflict, "deadline_not_reached"
	case errors.Is(err, resolution.ErrBackendUnavailable):
		status, code = http.StatusServiceUnavailable, "backend_unavailable"
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	httpx.WriteError(w, status, code, message)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// parseDate accepts a calendar date or an RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("meeting_date is required")
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("meeting_date %q must be YYYY-MM-DD or RFC 3339", raw)
	}
	return t.UTC(), nil
}
