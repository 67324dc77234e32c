package request

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/prorab-app/prorab/internal/capability"
	"github.com/prorab-app/prorab/internal/confirm"
	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/platform/httpx"
	"github.com/prorab-app/prorab/internal/shared"
)

// Handler serves the material-request endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	confirms  *confirm.Manager
	actors    capability.ActorResolver
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, confirms *confirm.Manager, actors capability.ActorResolver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		confirms:  confirms,
		actors:    actors,
		validator: validator.New(),
	}
}

// MountRoutes registers request routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Get("/journal", h.journal)
			r.Post("/submit", h.transition(ActionSubmit))
			r.Post("/approve", h.transition(ActionApprove))
			r.Post("/reject", h.transition(ActionReject))
			r.Post("/mark-paid", h.transition(ActionMarkPaid))
			r.Post("/mark-delivered", h.transition(ActionMarkDelivered))
			r.Post("/delete", h.beginDelete)
		})
	})
	r.Route("/confirmations/{token}", func(r chi.Router) {
		r.Post("/accept", h.acceptConfirmation)
		r.Post("/cancel", h.cancelConfirmation)
	})
}

type itemPayload struct {
	Name         string  `json:"name" validate:"required"`
	Unit         string  `json:"unit"`
	QtyRequested float64 `json:"quantity_requested" validate:"gt=0"`
}

type createPayload struct {
	ProjectID      int64         `json:"project_id" validate:"required"`
	Items          []itemPayload `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey string        `json:"idempotency_key"`
}

type itemActualPayload struct {
	ItemID    uuid.UUID `json:"item_id" validate:"required"`
	QtyActual float64   `json:"quantity_actual" validate:"gte=0"`
}

type transitionPayload struct {
	ExpectedStage string              `json:"expected_stage"`
	Comment       string              `json:"comment"`
	Reason        string              `json:"reason"`
	Items         []itemActualPayload `json:"items" validate:"dive"`
}

type requestResponse struct {
	ID           uuid.UUID      `json:"id"`
	Number       string         `json:"number"`
	ProjectID    int64          `json:"project_id"`
	AuthorID     int64          `json:"author_id"`
	Stage        Stage          `json:"stage"`
	ApproverRole string         `json:"approver_role,omitempty"`
	Items        []itemResponse `json:"items"`
}

type itemResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Unit         string    `json:"unit"`
	QtyRequested float64   `json:"quantity_requested"`
	QtyActual    *float64  `json:"quantity_actual,omitempty"`
}

func toResponse(req MaterialRequest) requestResponse {
	resp := requestResponse{
		ID:           req.ID,
		Number:       req.Number,
		ProjectID:    req.ProjectID,
		AuthorID:     req.AuthorID,
		Stage:        req.Stage,
		ApproverRole: string(req.ApproverRole),
		Items:        make([]itemResponse, 0, len(req.Items)),
	}
	for _, item := range req.Items {
		resp.Items = append(resp.Items, itemResponse{
			ID:           item.ID,
			Name:         item.Name,
			Unit:         item.Unit,
			QtyRequested: item.QtyRequested,
			QtyActual:    item.QtyActual,
		})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "project and at least one valid item are required")
		return
	}
	input := CreateInput{ProjectID: payload.ProjectID, IdempotencyKey: payload.IdempotencyKey}
	for _, item := range payload.Items {
		input.Items = append(input.Items, ItemInput{Name: item.Name, Unit: item.Unit, QtyRequested: item.QtyRequested})
	}
	req, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(req))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	projectID, _ := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	requests, pagination, err := h.service.List(r.Context(), actor, projectID, page, perPage)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	items := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		items = append(items, toResponse(req))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"requests": items, "pagination": pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(req))
}

func (h *Handler) journal(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.Journal(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) transition(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.currentActor(w, r)
		if !ok {
			return
		}
		id, ok := h.requestID(w, r)
		if !ok {
			return
		}
		var payload transitionPayload
		if err := httpx.DecodeJSON(r, &payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
			return
		}
		if err := h.validator.Struct(payload); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delivered quantities must be non-negative")
			return
		}
		input := TransitionInput{
			RequestID:     id,
			Action:        action,
			ExpectedStage: Stage(payload.ExpectedStage),
			Comment:       payload.Comment,
			Reason:        payload.Reason,
		}
		for _, item := range payload.Items {
			input.Items = append(input.Items, ItemActualInput{ItemID: item.ItemID, QtyActual: item.QtyActual})
		}
		req, err := h.service.Transition(r.Context(), actor, input)
		if err != nil {
			h.respondServiceError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toResponse(req))
	}
}

type confirmationResponse struct {
	Token  uuid.UUID `json:"token"`
	Step   int       `json:"step"`
	Prompt string    `json:"prompt,omitempty"`
	Status string    `json:"status"`
}

// beginDelete opens the three-step confirmation session for deleting a
// request. The deletion itself only runs inside the protocol's confirmed
// callback; there is no endpoint that deletes directly.
func (h *Handler) beginDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	id, ok := h.requestID(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	sess := h.confirms.Begin(actor.ID, req.Number, "material request", func(ctx context.Context) error {
		return h.service.Delete(ctx, actor, id)
	})
	httpx.JSON(w, http.StatusOK, confirmationResponse{
		Token:  sess.Token,
		Step:   int(sess.Step()),
		Prompt: sess.Prompt(),
		Status: "pending",
	})
}

func (h *Handler) acceptConfirmation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid confirmation token")
		return
	}
	sess, err := h.confirms.Accept(r.Context(), token, actor.ID)
	if err != nil {
		if errors.Is(err, confirm.ErrSessionNotFound) || errors.Is(err, confirm.ErrSessionFinished) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "confirmation session not found")
			return
		}
		// The confirmed callback failed; the confirmation itself is spent.
		h.respondServiceError(w, err)
		return
	}
	resp := confirmationResponse{Token: sess.Token, Step: int(sess.Step()), Status: "pending"}
	if sess.Step() == confirm.StepConfirmed {
		resp.Status = "confirmed"
	} else {
		resp.Prompt = sess.Prompt()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelConfirmation(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentActor(w, r)
	if !ok {
		return
	}
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid confirmation token")
		return
	}
	if err := h.confirms.Cancel(token, actor.ID); err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "confirmation session not found")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// respondServiceError maps workflow rejections and shared errors to HTTP.
// Every rejection kind is handled explicitly; permission denials stay
// opaque so the response does not reveal which actions exist.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var rej *Rejection
	if errors.As(err, &rej) {
		switch rej.Kind {
		case KindValidationError:
			httpx.JSON(w, http.StatusBadRequest, map[string]string{"kind": string(rej.Kind), "detail": rej.Message})
		case KindPermissionDenied:
			httpx.RespondError(w, shared.ErrPermissionDenied)
		case KindInvalidTransition, KindStaleState:
			httpx.JSON(w, http.StatusConflict, map[string]string{"kind": string(rej.Kind), "detail": rej.Message})
		default:
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		}
		return
	}
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		httpx.Problem(w, http.StatusConflict, "Duplicate", "request was already submitted")
		return
	}
	httpx.RespondError(w, err)
}

func (h *Handler) requestID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid request id")
		return uuid.Nil, false
	}
	return id, true
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
