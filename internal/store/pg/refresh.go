package pg

import (
	"context"
	"database/sql"
	"errors"

	"authoria.org/internal/auth"
)

func (s *Store) Create(ctx context.Context, tok *auth.RefreshToken) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, device, ip, expires_at, created_at, revoked)
		values ($1, $2, $3, $4, $5, $6, $7, false)
	`, tok.ID, tok.UserID, tok.TokenHash, nullIfEmpty(tok.Device), nullIfEmpty(tok.IP), tok.ExpiresAt, tok.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) FindByHash(ctx context.Context, hash string) (auth.RefreshToken, error) {
	if s.db == nil {
		return auth.RefreshToken{}, errors.New("database connection unavailable")
	}
	var (
		tok    auth.RefreshToken
		device sql.NullString
		ip     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, device, ip, expires_at, created_at, revoked
		from refresh_tokens
		where token_hash = $1
	`, hash).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &device, &ip, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.RefreshToken{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.RefreshToken{}, err
	}
	if device.Valid {
		tok.Device = device.String
	}
	if ip.Valid {
		tok.IP = ip.String
	}
	return tok, nil
}

func (s *Store) MarkRevoked(ctx context.Context, id string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	res, err := s.db.ExecContext(ctx, `update refresh_tokens set revoked = true where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) MarkRevokedByUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked = true
		where user_id = $1 and not revoked
	`, userID)
	return err
}
