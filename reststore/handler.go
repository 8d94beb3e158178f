package reststore

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"boardportal/auth"
	"boardportal/httpx"
	"boardportal/resolution"
)

// NewHandler exposes backend over the facade wire protocol. When tokens is
// non-nil every route requires a bearer token; writes also need the write
// scope.
func NewHandler(backend resolution.Backend, tokens *auth.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/v1/resolutions", func(api chi.Router) {
		if tokens != nil {
			api.Use(requireToken(tokens))
		}
		api.Get("/", h.list)
		api.Get("/{id}", h.get)
		api.Group(func(w chi.Router) {
			if tokens != nil {
				w.Use(requireScope(auth.ScopeWrite))
			}
			w.Post("/", h.create)
			w.Put("/{id}/signatories/{sid}/signature", h.sign)
			w.Put("/{id}/status", h.setStatus)
			w.Post("/{id}/status/transition", h.transition)
		})
	})
	return r
}

type handler struct {
	backend resolution.Backend
	logger  *zap.Logger
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	var in ResolutionDTO
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if !resolution.ValidID(in.ID) || !resolution.Status(in.Status).Valid() {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, "a valid id and status are required")
		return
	}
	if in.BarcodeData != in.ID {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, "barcode_data must equal id")
		return
	}
	out, err := h.backend.Create(r.Context(), in.ToResolution())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, FromResolution(out))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.backend.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := listResponse{Items: make([]ResolutionDTO, 0, len(items))}
	for _, res := range items {
		out.Items = append(out.Items, FromResolution(res))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	res, err := h.backend.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, FromResolution(res))
}

func (h *handler) sign(w http.ResponseWriter, r *http.Request) {
	var in signatureRequest
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if in.SignedAt.IsZero() || in.SignatureHash == "" {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, "signed_at and signature_hash are required")
		return
	}
	err := h.backend.UpdateSignatory(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "sid"), in.SignedAt.UTC(), in.SignatureHash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setStatus(w http.ResponseWriter, r *http.Request) {
	var in statusRequest
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if !resolution.Status(in.Status).Valid() {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, "unknown status")
		return
	}
	if err := h.backend.UpdateStatus(r.Context(), chi.URLParam(r, "id"), resolution.Status(in.Status)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) transition(w http.ResponseWriter, r *http.Request) {
	var in transitionRequest
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	from, to := resolution.Status(in.From), resolution.Status(in.To)
	if !from.Valid() || !to.Valid() {
		httpx.WriteError(w, http.StatusBadRequest, codeBadRequest, "unknown status")
		return
	}
	if err := h.backend.TransitionStatus(r.Context(), chi.URLParam(r, "id"), from, to); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("facade backend failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpx.WriteError(w, status, code, "internal error")
		return
	}
	httpx.WriteError(w, status, code, err.Error())
}

func requireToken(tokens *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, codeUnauthorized, "bearer token required")
				return
			}
			principal, err := tokens.VerifyToken(raw)
			if err != nil {
				httpx.WriteError(w, http.StatusUnauthorized, codeUnauthorized, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
		})
	}
}

func requireScope(scope auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principalFrom(r.Context())
			if !ok || !p.Allows(scope) {
				httpx.WriteError(w, http.StatusForbidden, "forbidden", "missing scope "+string(scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
