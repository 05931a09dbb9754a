package engine

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/castellan-dir/castellan/internal/platform/httpx"
	"github.com/castellan-dir/castellan/internal/shared"
)

// Handler exposes the view operations over HTTP. All routes require an
// authenticated principal in the request context.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers the view routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/config", h.config)
	r.Route("/views/{view}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/self", h.selfRead)
		r.Patch("/self", h.selfUpdate)
		r.Get("/{key}", h.details)
		r.Patch("/{key}", h.update)
		r.Delete("/{key}", h.remove)
	})
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, map[string]any{"views": h.engine.ClientConfig(p)})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	entries, err := h.engine.List(r.Context(), p, chi.URLParam(r, "view"))
	if err != nil {
		h.fail(w, "list entries", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) details(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	entry, err := h.engine.Details(r.Context(), p, chi.URLParam(r, "view"), chi.URLParam(r, "key"))
	if err != nil {
		h.fail(w, "entry details", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) selfRead(w http.ResponseWriter, r *http.Request) {
	if !h.isAuthView(w, r) {
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	entry, err := h.engine.SelfRead(r.Context(), p)
	if err != nil {
		h.fail(w, "self read", err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	key, generated, err := h.engine.Create(r.Context(), p, chi.URLParam(r, "view"), payload)
	if err != nil {
		h.fail(w, "create entry", err)
		return
	}
	body := map[string]any{"key": key}
	if len(generated) > 0 {
		body["generated"] = generated
	}
	httpx.JSON(w, http.StatusCreated, body)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.engine.Update(r.Context(), p, chi.URLParam(r, "view"), chi.URLParam(r, "key"), payload); err != nil {
		h.fail(w, "update entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) selfUpdate(w http.ResponseWriter, r *http.Request) {
	if !h.isAuthView(w, r) {
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.engine.SelfUpdate(r.Context(), p, payload); err != nil {
		h.fail(w, "self update", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if err := h.engine.Delete(r.Context(), p, chi.URLParam(r, "view"), chi.URLParam(r, "key")); err != nil {
		h.fail(w, "delete entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isAuthView restricts the self routes to the view entries authenticate
// against.
func (h *Handler) isAuthView(w http.ResponseWriter, r *http.Request) bool {
	if chi.URLParam(r, "view") != h.engine.AuthViewKey() {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no self projection for this view")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !isExpected(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

// isExpected reports whether the error belongs to the domain taxonomy and
// needs no server-side error log.
func isExpected(err error) bool {
	for _, sentinel := range []error{
		shared.ErrValidation, shared.ErrPermission, shared.ErrNotFound,
		shared.ErrConflict, shared.ErrAuthentication, shared.ErrTokenExpired,
		shared.ErrChallengeFailed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
