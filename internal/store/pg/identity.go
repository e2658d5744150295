package pg

import (
	"context"
	"database/sql"
	"errors"

	"authoria.org/internal/auth"
	"authoria.org/internal/ids"
)

func (s *Store) FindUser(ctx context.Context, userID string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	var user auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from users
		where id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errors.New("database connection unavailable")
	}
	var user auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, status, created_at, updated_at
		from users
		where lower(email) = lower($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

func (s *Store) FindTenant(ctx context.Context, tenantID string) (auth.Tenant, error) {
	if s.db == nil {
		return auth.Tenant{}, errors.New("database connection unavailable")
	}
	var (
		tenant auth.Tenant
		ttl    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, token_ttl_minutes, created_at, updated_at
		from tenants
		where id = $1
	`, tenantID).Scan(&tenant.ID, &tenant.Name, &ttl, &tenant.CreatedAt, &tenant.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Tenant{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Tenant{}, err
	}
	if ttl.Valid {
		minutes := int(ttl.Int64)
		tenant.TokenTTLMinutes = &minutes
	}
	return tenant, nil
}

func (s *Store) FindPermission(ctx context.Context, permissionID string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errors.New("database connection unavailable")
	}
	var (
		perm auth.Permission
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, key, description, created_at
		from permissions
		where id = $1
	`, permissionID).Scan(&perm.ID, &perm.Key, &desc, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Permission{}, err
	}
	if desc.Valid {
		perm.Description = desc.String
	}
	return perm, nil
}

// EnsurePermissions inserts any missing permission keys, leaving existing
// rows untouched.
func (s *Store) EnsurePermissions(ctx context.Context, perms []auth.Permission) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, key, description)
			values ($1, $2, $3)
			on conflict (key) do nothing
		`, id, p.Key, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.description, r.parent_role_id, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role   auth.Role
			desc   sql.NullString
			parent sql.NullString
		)
		if err := rows.Scan(&role.ID, &role.Name, &desc, &parent, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			role.Description = desc.String
		}
		if parent.Valid {
			role.ParentRoleID = &parent.String
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) RoleGrantsForUser(ctx context.Context, userID string) ([]auth.RoleGrant, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, p.id, p.key
		from user_roles ur
		join roles r on r.id = ur.role_id
		join role_permissions rp on rp.role_id = ur.role_id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1
		order by r.name, p.key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []auth.RoleGrant
	for rows.Next() {
		var g auth.RoleGrant
		if err := rows.Scan(&g.RoleID, &g.RoleName, &g.PermissionID, &g.PermissionKey); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return grants, nil
}

// ReplaceUserRoles swaps the user's role assignment in one transaction so a
// concurrent resolve never observes two roles.
func (s *Store) ReplaceUserRoles(ctx context.Context, userID, roleID string) (auth.UserRole, error) {
	if s.db == nil {
		return auth.UserRole{}, errors.New("database connection unavailable")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return auth.UserRole{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return auth.UserRole{}, err
	}

	var assignment auth.UserRole
	err = tx.QueryRowContext(ctx, `
		insert into user_roles (user_id, role_id)
		values ($1, $2)
		returning user_id, role_id, created_at
	`, userID, roleID).Scan(&assignment.UserID, &assignment.RoleID, &assignment.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.UserRole{}, auth.ErrNotFound
		}
		return auth.UserRole{}, err
	}

	if err := tx.Commit(); err != nil {
		return auth.UserRole{}, err
	}
	return assignment, nil
}

func (s *Store) ActiveApplications(ctx context.Context, userID string) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("database connection unavailable")
	}
	rows, err := s.db.QueryContext(ctx, `
		select application_id
		from user_applications
		where user_id = $1 and is_active
		order by updated_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		apps = append(apps, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apps, nil
}
