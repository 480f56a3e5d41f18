package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends to call_control_audit:
//
//	id text primary key, tenant_uuid text, action text, actor_user_uuid text,
//	actor_role text, ip_address text, call_id text, metadata jsonb, created_at timestamptz
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_control_audit
	(id, tenant_uuid, action, actor_user_uuid, actor_role, ip_address, call_id, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, '')::jsonb, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantUUID,
		e.Action,
		e.ActorUserUUID,
		e.ActorRole,
		e.IPAddress,
		e.CallID,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
