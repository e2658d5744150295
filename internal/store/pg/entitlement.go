package pg

import (
	"context"
	"database/sql"
	"errors"

	"authoria.org/internal/auth"
)

// Grant inserts a direct grant. A duplicate key is a no-op success; a missing
// user, permission, tenant or application maps to ErrNotFound.
func (s *Store) Grant(ctx context.Context, grant auth.DirectGrant) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (user_id, permission_id, tenant_id, application_id, granted_at, granted_by_user_id, notes)
		values ($1, $2, $3, $4, coalesce($5, now()), $6, $7)
		on conflict (user_id, permission_id, tenant_id, application_id) do nothing
	`, grant.UserID, grant.PermissionID, grant.TenantID, grant.ApplicationID,
		nullIfZeroTime(grant.GrantedAt), grant.GrantedByUserID, grant.Notes)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// Revoke deletes a direct grant. Zero rows affected is a no-op success.
func (s *Store) Revoke(ctx context.Context, userID, permissionID, tenantID, applicationID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		delete from user_permissions
		where user_id = $1 and permission_id = $2 and tenant_id = $3 and application_id = $4
	`, userID, permissionID, tenantID, applicationID)
	return err
}

func (s *Store) GrantsForScope(ctx context.Context, userID, tenantID, applicationID string) ([]auth.DirectGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select up.user_id, up.permission_id, up.tenant_id, up.application_id,
		       p.key, up.granted_at, up.granted_by_user_id, up.notes
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.user_id = $1 and up.tenant_id = $2 and up.application_id = $3
		  and up.tenant_id <> '' and up.application_id <> ''
		order by p.key
	`, userID, tenantID, applicationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]auth.DirectGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select up.user_id, up.permission_id, up.tenant_id, up.application_id,
		       p.key, up.granted_at, up.granted_by_user_id, up.notes
		from user_permissions up
		join permissions p on p.id = up.permission_id
		where up.user_id = $1
		order by up.tenant_id, up.application_id, p.key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func scanGrants(rows *sql.Rows) ([]auth.DirectGrant, error) {
	var grants []auth.DirectGrant
	for rows.Next() {
		var (
			g         auth.DirectGrant
			grantedBy sql.NullString
			notes     sql.NullString
		)
		if err := rows.Scan(&g.UserID, &g.PermissionID, &g.TenantID, &g.ApplicationID,
			&g.PermissionKey, &g.GrantedAt, &grantedBy, &notes); err != nil {
			return nil, err
		}
		if grantedBy.Valid {
			g.GrantedByUserID = &grantedBy.String
		}
		if notes.Valid {
			g.Notes = &notes.String
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}
