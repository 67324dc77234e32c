package request

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prorab-app/prorab/internal/capability"
	"github.com/prorab-app/prorab/internal/identity"
	"github.com/prorab-app/prorab/internal/shared"
)

// PermissionGate decides whether an actor may perform a capability. Satisfied
// by *capability.Engine; tests plug in a fake.
type PermissionGate interface {
	CanPerform(ctx context.Context, actor identity.Actor, surface capability.Surface, key string) bool
}

// TransitionRecorder receives transition outcomes for metrics.
type TransitionRecorder interface {
	RequestTransition(action, outcome string)
}

// Service orchestrates the material-request lifecycle. Transitions follow
// optimistic UI, pessimistic commit: the caller supplies the stage it
// observed, the service re-reads the stored stage and refuses to commit over
// newer state.
type Service struct {
	repo        RepositoryPort
	gate        PermissionGate
	notifier    Notifier
	audit       *shared.AuditLogger
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	metrics     TransitionRecorder
	locks       *shared.KeyedMutex
}

// NewService constructs the request service.
func NewService(repo RepositoryPort, gate PermissionGate, notifier Notifier, audit *shared.AuditLogger, idem *shared.IdempotencyStore, logger *slog.Logger, metrics TransitionRecorder) *Service {
	return &Service{
		repo:        repo,
		gate:        gate,
		notifier:    notifier,
		audit:       audit,
		idempotency: idem,
		logger:      logger,
		metrics:     metrics,
		locks:       shared.NewKeyedMutex(),
	}
}

// ItemInput describes one material line on creation.
type ItemInput struct {
	Name         string
	Unit         string
	QtyRequested float64
}

// CreateInput describes the creation payload.
type CreateInput struct {
	ProjectID      int64
	Items          []ItemInput
	IdempotencyKey string
}

// ItemActualInput carries a delivered quantity for one item.
type ItemActualInput struct {
	ItemID    uuid.UUID
	QtyActual float64
}

// TransitionInput describes a requested lifecycle transition.
type TransitionInput struct {
	RequestID     uuid.UUID
	Action        Action
	ExpectedStage Stage
	Comment       string
	Reason        string
	Items         []ItemActualInput
}

// Create opens a new material request in DRAFT.
func (s *Service) Create(ctx context.Context, actor identity.Actor, input CreateInput) (MaterialRequest, error) {
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capability.KeyCreate) {
		return MaterialRequest{}, reject(KindPermissionDenied, "create is not available")
	}
	if len(input.Items) == 0 {
		return MaterialRequest{}, reject(KindValidationError, "at least one item is required")
	}
	for _, item := range input.Items {
		if strings.TrimSpace(item.Name) == "" || item.QtyRequested <= 0 {
			return MaterialRequest{}, reject(KindValidationError, "every item needs a name and a positive quantity")
		}
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "material_requests"); err != nil {
			return MaterialRequest{}, err
		}
	}

	req := MaterialRequest{
		ID:        uuid.New(),
		Number:    generateNumber("MR"),
		ProjectID: input.ProjectID,
		AuthorID:  actor.ID,
		Stage:     StageDraft,
	}
	for i, item := range input.Items {
		req.Items = append(req.Items, RequestItem{
			ID:           uuid.New(),
			RequestID:    req.ID,
			Name:         strings.TrimSpace(item.Name),
			Unit:         item.Unit,
			QtyRequested: item.QtyRequested,
			Position:     i,
		})
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, req); err != nil {
			return err
		}
		return tx.AddJournal(ctx, JournalEntry{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    JournalCreate,
			FromStage: StageDraft,
			ToStage:   StageDraft,
		})
	})
	if err != nil {
		return MaterialRequest{}, err
	}
	s.recordAudit(ctx, actor.ID, "MR_CREATE", req.ID, map[string]any{"number": req.Number})
	return req, nil
}

// Transition applies one lifecycle action to the request. Rejections are
// returned as *Rejection through the error value; callers branch on Kind and
// must not ignore any of them.
func (s *Service) Transition(ctx context.Context, actor identity.Actor, input TransitionInput) (MaterialRequest, error) {
	capKey := CapabilityFor(input.Action)
	if capKey == "" {
		return s.refuse(input.Action, reject(KindInvalidTransition, "unknown action %q", input.Action))
	}
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capKey) {
		return s.refuse(input.Action, reject(KindPermissionDenied, "%s is not available", input.Action))
	}

	// Commits for one request are serialized; transitions on different
	// requests proceed independently.
	lockKey := input.RequestID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	req, err := s.repo.Get(ctx, input.RequestID)
	if err != nil {
		return MaterialRequest{}, err
	}

	// Pessimistic commit: the stored stage wins over whatever the caller
	// had rendered.
	if input.ExpectedStage != "" && input.ExpectedStage != req.Stage {
		return s.refuse(input.Action, reject(KindStaleState, "request moved to %s, refresh and retry", req.Stage))
	}

	next, err := Plan(req.Stage, input.Action)
	if err != nil {
		return s.refuse(input.Action, err)
	}
	if !actor.Bypasses() && !RoleAllowed(req.Stage, input.Action, actor.Role) {
		return s.refuse(input.Action, reject(KindPermissionDenied, "stage %s expects role %s", req.Stage, approverByStage[req.Stage]))
	}

	note := input.Comment
	var reconcile []ItemActualInput
	switch input.Action {
	case ActionReject:
		if strings.TrimSpace(input.Reason) == "" {
			return s.refuse(input.Action, reject(KindValidationError, "rejection reason is required"))
		}
		note = input.Reason
	case ActionMarkDelivered:
		reconcile, next, err = s.planDelivery(req, input.Items)
		if err != nil {
			return s.refuse(input.Action, err)
		}
	}

	from := req.Stage
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, item := range reconcile {
			if err := tx.SetItemActual(ctx, req.ID, item.ItemID, item.QtyActual); err != nil {
				return err
			}
		}
		if next != from {
			if err := tx.UpdateStage(ctx, req.ID, next, approverByStage[next]); err != nil {
				return err
			}
		}
		return tx.AddJournal(ctx, JournalEntry{
			RequestID: req.ID,
			ActorID:   actor.ID,
			Action:    journalActionFor(input.Action),
			FromStage: from,
			ToStage:   next,
			Note:      note,
		})
	})
	if err != nil {
		return MaterialRequest{}, err
	}

	updated, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return MaterialRequest{}, err
	}
	s.record(input.Action, "committed")
	s.notifyStageChange(ctx, actor, updated, input.Action, from, updated.Stage, note)
	s.recordAudit(ctx, actor.ID, "MR_"+strings.ToUpper(string(input.Action)), req.ID, map[string]any{
		"from": string(from), "to": string(updated.Stage),
	})
	return updated, nil
}

// Delete removes a draft or rejected request. Callers must complete the
// destructive-action confirmation protocol before reaching this method.
func (s *Service) Delete(ctx context.Context, actor identity.Actor, id uuid.UUID) error {
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capability.KeyDelete) {
		return reject(KindPermissionDenied, "delete is not available")
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Stage != StageDraft && req.Stage != StageRejected {
		return reject(KindInvalidTransition, "only draft or rejected requests can be deleted, stage is %s", req.Stage)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor.ID, "MR_DELETE", id, map[string]any{"number": req.Number})
	return nil
}

// Get returns one request with items.
func (s *Service) Get(ctx context.Context, actor identity.Actor, id uuid.UUID) (MaterialRequest, error) {
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capability.KeyView) {
		return MaterialRequest{}, reject(KindPermissionDenied, "view is not available")
	}
	return s.repo.Get(ctx, id)
}

// List returns a project's requests.
func (s *Service) List(ctx context.Context, actor identity.Actor, projectID int64, page, perPage int) ([]MaterialRequest, shared.Pagination, error) {
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capability.KeyView) {
		return nil, shared.Pagination{}, reject(KindPermissionDenied, "view is not available")
	}
	return s.repo.List(ctx, projectID, page, perPage)
}

// Journal returns a request's approval history.
func (s *Service) Journal(ctx context.Context, actor identity.Actor, id uuid.UUID) ([]JournalEntry, error) {
	if !s.gate.CanPerform(ctx, actor, capability.SurfaceMaterialRequests, capability.KeyView) {
		return nil, reject(KindPermissionDenied, "view is not available")
	}
	return s.repo.Journal(ctx, id)
}

// planDelivery validates delivered quantities and decides whether the
// payload completes the request. Validation happens before any persistence:
// a single negative quantity fails the whole call.
func (s *Service) planDelivery(req MaterialRequest, items []ItemActualInput) ([]ItemActualInput, Stage, error) {
	if len(items) == 0 {
		return nil, "", reject(KindValidationError, "at least one delivered quantity is required")
	}
	known := make(map[uuid.UUID]bool, len(req.Items))
	for _, item := range req.Items {
		known[item.ID] = false
	}
	for _, item := range items {
		if item.QtyActual < 0 {
			return nil, "", reject(KindValidationError, "delivered quantity cannot be negative")
		}
		seen, ok := known[item.ItemID]
		if !ok {
			return nil, "", reject(KindValidationError, "item %s does not belong to this request", item.ItemID)
		}
		if seen {
			return nil, "", reject(KindValidationError, "item %s supplied twice", item.ItemID)
		}
		known[item.ItemID] = true
	}
	// Partial reconciliation: record the supplied actuals but stay in
	// DELIVERY until one payload covers every item.
	for _, covered := range known {
		if !covered {
			return items, StageDelivery, nil
		}
	}
	return items, StageCompleted, nil
}

func (s *Service) refuse(action Action, err error) (MaterialRequest, error) {
	s.record(action, "rejected")
	return MaterialRequest{}, err
}

func (s *Service) record(action Action, outcome string) {
	if s.metrics != nil {
		s.metrics.RequestTransition(string(action), outcome)
	}
}

func (s *Service) notifyStageChange(ctx context.Context, actor identity.Actor, req MaterialRequest, action Action, from, to Stage, note string) {
	if s.notifier == nil || from == to {
		return
	}
	evt := StageChangedEvent{
		RequestID: req.ID,
		Number:    req.Number,
		ProjectID: req.ProjectID,
		AuthorID:  req.AuthorID,
		ActorID:   actor.ID,
		Action:    action,
		FromStage: from,
		ToStage:   to,
		Note:      note,
	}
	if err := s.notifier.StageChanged(ctx, evt); err != nil {
		s.logger.Error("enqueue stage notification", slog.String("request", req.ID.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "material_request",
		EntityID: id.String(),
		Meta:     meta,
	}); err != nil {
		s.logger.Error("record audit", slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
