package directory

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: PostgresStore assumes the following tables exist:
// - users (uuid, tenant_uuid, mobile_phone_number)
// - lines (id, tenant_uuid, protocol, name, context)
// - user_lines (user_uuid, line_id, main_line)
//
// uuid columns are stored as text. The store is opened through the pgx
// stdlib driver (see pkg/utils.OpenPostgres).

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) User(ctx context.Context, tenantUUID, userUUID string) (User, error) {
	const q = `
SELECT uuid, tenant_uuid, COALESCE(mobile_phone_number, '')
FROM users
WHERE uuid = $1 AND ($2 = '' OR tenant_uuid = $2)
`
	if userUUID == "" {
		return User{}, ErrUserNotFound
	}
	var u User
	if err := s.db.QueryRowContext(ctx, q, userUUID, tenantUUID).Scan(
		&u.UUID,
		&u.TenantUUID,
		&u.MobilePhoneNumber,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) MainLine(ctx context.Context, tenantUUID, userUUID string) (Line, error) {
	const q = `
SELECT l.id, l.tenant_uuid, l.protocol, l.name, l.context
FROM user_lines ul
JOIN lines l ON l.id = ul.line_id
WHERE ul.user_uuid = $1 AND ul.main_line AND ($2 = '' OR l.tenant_uuid = $2)
LIMIT 1
`
	l, err := scanLine(s.db.QueryRowContext(ctx, q, userUUID, tenantUUID))
	if errors.Is(err, ErrLineNotFound) {
		return Line{}, ErrNoMainLine
	}
	return l, err
}

func (s *PostgresStore) Line(ctx context.Context, tenantUUID, userUUID string, lineID int) (Line, error) {
	const q = `
SELECT l.id, l.tenant_uuid, l.protocol, l.name, l.context
FROM user_lines ul
JOIN lines l ON l.id = ul.line_id
WHERE ul.user_uuid = $1 AND l.id = $3 AND ($2 = '' OR l.tenant_uuid = $2)
`
	return scanLine(s.db.QueryRowContext(ctx, q, userUUID, tenantUUID, lineID))
}

func scanLine(row *sql.Row) (Line, error) {
	var l Line
	if err := row.Scan(
		&l.ID,
		&l.TenantUUID,
		&l.Protocol,
		&l.Name,
		&l.Context,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Line{}, ErrLineNotFound
		}
		return Line{}, err
	}
	return l, nil
}
