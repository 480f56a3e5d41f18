package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records who did what to which call.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantUUID == "" || e.Action == "" {
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

// Actor identifies the caller of an action.
type Actor struct {
	UserUUID string
	Role     string
	IP       string
}

// Record appends an event for action on callID. metadata may be nil.
func (s *Service) Record(ctx context.Context, tenantUUID string, actor Actor, action, callID string, metadata map[string]any) error {
	e := Event{
		TenantUUID:    tenantUUID,
		Action:        action,
		ActorUserUUID: actor.UserUUID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		CallID:        callID,
	}
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("audit: encode metadata: %w", err)
		}
		e.Metadata = string(b)
	}
	return s.Append(ctx, e)
}
