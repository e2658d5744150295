package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"authoria.org/internal/audit"
)

// auditSearchClause matches the escaped search term against the text columns.
// $1 carries the term with ilike wildcards already escaped; see escapeLike.
const auditSearchClause = `($1 = '' or action ilike '%'||$1||'%' escape '\'
	or coalesce(resource_type,'') ilike '%'||$1||'%' escape '\'
	or coalesce(method,'') ilike '%'||$1||'%' escape '\'
	or coalesce(path,'') ilike '%'||$1||'%' escape '\'
	or coalesce(ip_address,'') ilike '%'||$1||'%' escape '\')`

// escapeLike neutralises ilike wildcards in a user-supplied search term.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// auditSortColumns whitelists sortable columns; anything else falls back to
// occurred_at.
var auditSortColumns = map[string]string{
	"occurred_at": "occurred_at",
	"action":      "action",
	"status_code": "status_code",
	"path":        "path",
	"method":      "method",
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (
			id, tenant_id, application_id, actor_user_id, actor_type,
			action, resource_type, resource_id, method, path,
			ip_address, user_agent, status_code, duration_ms, details, occurred_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, entry.ID, entry.TenantID, entry.ApplicationID, entry.ActorUserID, entry.ActorType,
		entry.Action, nullIfEmpty(entry.ResourceType), entry.ResourceID,
		nullIfEmpty(entry.Method), nullIfEmpty(entry.Path),
		nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent),
		entry.StatusCode, entry.DurationMs, entry.Details, entry.OccurredAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			// Keep the row even when the actor or tenant has since been
			// removed; retry without the references.
			_, err = s.db.ExecContext(ctx, `
				insert into audit_log (
					id, actor_type, action, resource_type, resource_id, method, path,
					ip_address, user_agent, status_code, duration_ms, details, occurred_at
				)
				values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			`, entry.ID, entry.ActorType, entry.Action, nullIfEmpty(entry.ResourceType), entry.ResourceID,
				nullIfEmpty(entry.Method), nullIfEmpty(entry.Path),
				nullIfEmpty(entry.IPAddress), nullIfEmpty(entry.UserAgent),
				entry.StatusCode, entry.DurationMs, entry.Details, entry.OccurredAt)
		}
	}
	return err
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, int, error) {
	if s.db == nil {
		return nil, 0, errors.New("database connection unavailable")
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 50
	}

	sortCol, ok := auditSortColumns[filter.SortBy]
	if !ok {
		sortCol = "occurred_at"
		filter.SortDesc = true
	}
	dir := "asc"
	if filter.SortDesc {
		dir = "desc"
	}

	query := `
		select id, tenant_id, application_id, actor_user_id, actor_type,
		       action, coalesce(resource_type,''), resource_id,
		       coalesce(method,''), coalesce(path,''),
		       coalesce(ip_address,''), coalesce(user_agent,''),
		       status_code, duration_ms, details, occurred_at,
		       count(*) over() as total
		from audit_log
		where ` + auditSearchClause +
		fmt.Sprintf(" order by %s %s, id %s limit $2 offset $3", sortCol, dir, dir)

	search := escapeLike(filter.Search)
	offset := (filter.Page - 1) * filter.PageSize
	rows, err := s.db.QueryContext(ctx, query, search, filter.PageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		entries []audit.Entry
		total   int
	)
	for rows.Next() {
		var (
			e        audit.Entry
			tenant   sql.NullString
			app      sql.NullString
			actor    sql.NullString
			resource sql.NullString
			status   sql.NullInt64
			duration sql.NullInt64
			details  sql.NullString
		)
		if err := rows.Scan(&e.ID, &tenant, &app, &actor, &e.ActorType,
			&e.Action, &e.ResourceType, &resource,
			&e.Method, &e.Path, &e.IPAddress, &e.UserAgent,
			&status, &duration, &details, &e.OccurredAt, &total); err != nil {
			return nil, 0, err
		}
		if tenant.Valid {
			e.TenantID = &tenant.String
		}
		if app.Valid {
			e.ApplicationID = &app.String
		}
		if actor.Valid {
			e.ActorUserID = &actor.String
		}
		if resource.Valid {
			e.ResourceID = &resource.String
		}
		if status.Valid {
			code := int(status.Int64)
			e.StatusCode = &code
		}
		if duration.Valid {
			ms := duration.Int64
			e.DurationMs = &ms
		}
		if details.Valid {
			e.Details = &details.String
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	// A page past the last row returns no rows, so the window count never
	// materialises; count separately in that case.
	if len(entries) == 0 {
		if err := s.db.QueryRowContext(ctx,
			`select count(*) from audit_log where `+auditSearchClause, search).Scan(&total); err != nil {
			return nil, 0, err
		}
	}
	return entries, total, nil
}
