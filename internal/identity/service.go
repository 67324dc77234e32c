package identity

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/prorab-app/prorab/internal/shared"
)

// AuthListener receives authentication lifecycle events. The capability
// refresh scheduler subscribes to drop cached permission data when the
// authenticated actor changes.
type AuthListener interface {
	OnLogin(actorID int64)
	OnLogout(actorID int64)
}

// Service wraps authentication business rules.
type Service struct {
	repo      Repository
	audit     *shared.AuditLogger
	listeners []AuthListener
}

// NewService constructs a new Service.
func NewService(repo Repository, audit *shared.AuditLogger) *Service {
	return &Service{repo: repo, audit: audit}
}

// Subscribe registers an AuthListener. Not safe for concurrent use with
// Authenticate; call during wiring only.
func (s *Service) Subscribe(l AuthListener) {
	if l != nil {
		s.listeners = append(s.listeners, l)
	}
}

// Authenticate validates login/password credentials.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Actor, error) {
	actor, err := s.repo.FindByLogin(ctx, login)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !actor.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(actor.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return actor, nil
}

// Lookup resolves an actor by ID for downstream permission checks.
func (s *Service) Lookup(ctx context.Context, id int64) (*Actor, error) {
	return s.repo.FindByID(ctx, id)
}

// RegisterSession persists the session metadata and announces the login.
func (s *Service) RegisterSession(ctx context.Context, id string, actor *Actor, expiresAt time.Time, ip, ua string) error {
	if err := s.repo.RegisterSession(ctx, id, actor.ID, expiresAt, ip, ua); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actor.ID, Action: "LOGIN", Entity: "session", EntityID: id})
	}
	for _, l := range s.listeners {
		l.OnLogin(actor.ID)
	}
	return nil
}

// RemoveSession deletes a session record and announces the logout.
func (s *Service) RemoveSession(ctx context.Context, id string, actorID int64) error {
	if err := s.repo.RemoveSession(ctx, id); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: "LOGOUT", Entity: "session", EntityID: id})
	}
	for _, l := range s.listeners {
		l.OnLogout(actorID)
	}
	return nil
}
