package capability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/platform/httpx"
	"github.com/prorab-app/prorab/internal/shared"
)

// ActorResolver resolves the session's actor ID into a full Actor.
type ActorResolver interface {
	Lookup(ctx context.Context, id int64) (*identity.Actor, error)
}

// Handler serves the capability endpoints consumed by the browser core.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	engine    *Engine
	actors    ActorResolver
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, engine *Engine, actors ActorResolver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		engine:    engine,
		actors:    actors,
		validator: validator.New(),
	}
}

// MountRoutes registers capability routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/capabilities", h.listForSurface)
	r.Get("/capabilities/all", h.listAll)
	r.Get("/surfaces", h.listSurfaces)
	r.Post("/grants", h.grant)
	r.Delete("/grants", h.revoke)
}

func (h *Handler) listForSurface(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	surface := Surface(r.URL.Query().Get("surface"))
	if surface == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "surface query parameter is required")
		return
	}
	caps, err := h.service.ListForSurface(r.Context(), actor, surface)
	if err != nil {
		h.logger.Error("list capabilities", slog.String("surface", string(surface)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	if caps == nil {
		caps = []Capability{}
	}
	httpx.JSON(w, http.StatusOK, caps)
}

func (h *Handler) listAll(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	all, err := h.service.ListAll(r.Context(), actor)
	if err != nil {
		h.logger.Error("list all capabilities", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, all)
}

func (h *Handler) listSurfaces(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	access, err := h.service.AccessibleSurfaces(r.Context(), actor)
	if err != nil {
		h.logger.Error("list surfaces", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

type grantRequest struct {
	Role       string `json:"role" validate:"required"`
	Surface    string `json:"surface" validate:"required"`
	Capability string `json:"capability" validate:"required"`
}

func (h *Handler) grant(w http.ResponseWriter, r *http.Request) {
	actor, req, ok := h.grantInput(w, r)
	if !ok {
		return
	}
	if err := h.service.Grant(r.Context(), actor, req.Role, Surface(req.Surface), req.Capability); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "granted"})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	actor, req, ok := h.grantInput(w, r)
	if !ok {
		return
	}
	if err := h.service.Revoke(r.Context(), actor, req.Role, Surface(req.Surface), req.Capability); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) grantInput(w http.ResponseWriter, r *http.Request) (identity.Actor, grantRequest, bool) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return identity.Actor{}, grantRequest{}, false
	}
	if !h.engine.CanPerform(r.Context(), actor, SurfaceAccessControl, KeyManageAccess) {
		httpx.RespondError(w, shared.ErrPermissionDenied)
		return identity.Actor{}, grantRequest{}, false
	}
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return identity.Actor{}, grantRequest{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "role, surface and capability are required")
		return identity.Actor{}, grantRequest{}, false
	}
	return actor, req, true
}

func (h *Handler) currentActor(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || !sess.Authenticated() {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return identity.Actor{}, false
	}
	actor, err := h.actors.Lookup(r.Context(), sess.Actor())
	if err != nil {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return identity.Actor{}, false
	}
	return *actor, true
}
