package identity

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/prorab-app/prorab/internal/platform/httpx"
	"github.com/prorab-app/prorab/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

// handleCSRF hands the client its per-session CSRF token. Clients fetch it
// once before the first mutating call.
func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"token": token})
}

type loginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

type actorResponse struct {
	ID       int64  `json:"id"`
	Login    string `json:"login"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Elevated bool   `json:"elevated"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "login and password are required")
		return
	}

	actor, err := h.service.Authenticate(r.Context(), req.Login, req.Password)
	if err != nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid login or password")
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	sess.SetActor(actor.ID)
	if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("commit session", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, actor, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Error("register session", slog.Any("error", err))
	}

	httpx.JSON(w, http.StatusOK, actorResponse{
		ID:       actor.ID,
		Login:    actor.Login,
		Name:     actor.Name,
		Role:     string(actor.Role),
		Elevated: actor.Elevated,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	actorID := sess.Actor()
	h.sessionManager.Destroy(sess)
	if err := h.sessionManager.Commit(r.Context(), w, sess); err != nil {
		h.logger.Error("destroy session", slog.Any("error", err))
	}
	if err := h.service.RemoveSession(r.Context(), sess.ID, actorID); err != nil {
		h.logger.Error("remove session", slog.Any("error", err))
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	actor, err := h.service.Lookup(r.Context(), sess.Actor())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, actorResponse{
		ID:       actor.ID,
		Login:    actor.Login,
		Name:     actor.Name,
		Role:     string(actor.Role),
		Elevated: actor.Elevated,
	})
}
