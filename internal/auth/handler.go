package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/castellan-dir/castellan/internal/engine"
	"github.com/castellan-dir/castellan/internal/platform/httpx"
	"github.com/castellan-dir/castellan/internal/shared"
)

// Handler exposes the authentication endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountPublicRoutes registers the endpoints reachable without a token. The
// credential endpoints carry a tighter rate limit than the global one.
func (h *Handler) MountPublicRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		r.Post("/auth/login", h.login)
		r.Post("/auth/mail-login", h.mailLogin)
		r.Post("/register", h.register)
	})
	r.Get("/anti-spam", h.antiSpam)
	r.Get("/register-config", h.registerConfig)
}

// MountAuthedRoutes registers the endpoints requiring a principal.
func (h *Handler) MountAuthedRoutes(r chi.Router) {
	r.Get("/auth/me", h.me)
	r.Post("/auth/refresh", h.refresh)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "username and password are required")
		return
	}
	token, p, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, "login", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"token": token, "me": p.Attrs})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.RespondError(w, shared.ErrAuthentication)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"me": p.Attrs})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	p := shared.PrincipalFromContext(r.Context())
	token, err := h.service.Refresh(p)
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"token": token, "me": p.Attrs})
}

type mailLoginRequest struct {
	Mail string `json:"mail" validate:"required,email"`
}

func (h *Handler) mailLogin(w http.ResponseWriter, r *http.Request) {
	var req mailLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "a valid mail address is required")
		return
	}
	if err := h.service.MailLogin(r.Context(), req.Mail); err != nil {
		h.fail(w, "mail login", err)
		return
	}
	// Identical response for known and unknown addresses.
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) antiSpam(w http.ResponseWriter, r *http.Request) {
	question, token, ok := h.service.Challenge()
	if !ok {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no registration challenge configured")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"question": question, "token": token})
}

func (h *Handler) registerConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.service.RegisterConfig()
	if cfg == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "registration disabled")
		return
	}
	httpx.JSON(w, http.StatusOK, cfg)
}

type registerRequest struct {
	Token   string         `json:"token"`
	Answer  string         `json:"answer"`
	Payload engine.Payload `json:"payload"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	key, err := h.service.Register(r.Context(), req.Token, req.Answer, req.Payload)
	if err != nil {
		h.fail(w, "register", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	expected := false
	for _, sentinel := range []error{
		shared.ErrValidation, shared.ErrAuthentication, shared.ErrTokenExpired,
		shared.ErrChallengeFailed, shared.ErrNotFound, shared.ErrConflict,
		shared.ErrPermission,
	} {
		if errors.Is(err, sentinel) {
			expected = true
			break
		}
	}
	if !expected {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
