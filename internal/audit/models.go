package audit

import "time"

// Event is an immutable, append-only record of one call-control action.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_uuid is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block call control on audit failures.
//
// Storage (Postgres): table call_control_audit, INSERT-only.
type Event struct {
	ID         string `json:"id" db:"id"`
	TenantUUID string `json:"tenant_uuid" db:"tenant_uuid"`

	// Action names the operation, e.g. "hangup" or "mute_start".
	Action string `json:"action" db:"action"`

	ActorUserUUID string `json:"actor_user_uuid,omitempty" db:"actor_user_uuid"`
	ActorRole     string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress     string `json:"ip_address,omitempty" db:"ip_address"`

	// CallID is empty for operations that create calls or list them.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
