package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Service records internal security audit information. Callers treat it as
// best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogWebhookRejection records a rejected provider callback. The reason stays
// internal; the HTTP response never discloses which check failed.
func (s *Service) LogWebhookRejection(ctx context.Context, ip, providerCallID, reason string) error {
	return s.Append(ctx, Event{
		Type:           EventTypeWebhookRejected,
		IPAddress:      ip,
		ProviderCallID: providerCallID,
		Message:        reason,
	})
}

// LogOperatorHangup records an operator-initiated call termination.
func (s *Service) LogOperatorHangup(ctx context.Context, workspaceID, userID, attemptID string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeOperatorHangup,
		ActorUserID: userID,
		AttemptID:   attemptID,
		Message:     "operator hangup requested",
	})
}

// LogSession records a dialer session lifecycle change.
func (s *Service) LogSession(ctx context.Context, t EventType, workspaceID, userID, sessionID string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        t,
		ActorUserID: userID,
		SessionID:   sessionID,
	})
}
