package pg

import (
	"context"
	"database/sql"
	"errors"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/token"
)

var _ token.Store = (*Store)(nil)

// CreateGrant inserts a new token grant row.
func (s *Store) CreateGrant(ctx context.Context, grant *token.TokenGrant) error {
	_, err := s.db.ExecContext(ctx, `
		insert into access.token_grant
			(id, client_id, subject_id, subject_type, lineage_id,
			 access_token_hash, refresh_token_hash, scope_name, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		grant.ID, grant.ClientID, grant.SubjectID, string(grant.SubjectType), grant.LineageID,
		grant.AccessTokenHash, grant.RefreshTokenHash, nullString(grant.ScopeName),
		grant.IssuedAt, grant.ExpiresAt,
	)
	return err
}

// FindGrant returns a grant by ID.
func (s *Store) FindGrant(ctx context.Context, grantID string) (token.TokenGrant, error) {
	var (
		grant       token.TokenGrant
		subjectType string
		scope       sql.NullString
		revokedAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, client_id, subject_id, subject_type, lineage_id,
		       access_token_hash, refresh_token_hash, scope_name,
		       issued_at, expires_at, revoked_at
		from access.token_grant
		where id = $1
	`, grantID).Scan(
		&grant.ID, &grant.ClientID, &grant.SubjectID, &subjectType, &grant.LineageID,
		&grant.AccessTokenHash, &grant.RefreshTokenHash, &scope,
		&grant.IssuedAt, &grant.ExpiresAt, &revokedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return token.TokenGrant{}, access.ErrNotFound
	}
	if err != nil {
		return token.TokenGrant{}, err
	}
	grant.SubjectType = access.SubjectType(subjectType)
	if scope.Valid {
		grant.ScopeName = scope.String
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		grant.RevokedAt = &t
	}
	return grant, nil
}

// RotateGrant revokes the predecessor and inserts the successor in one
// transaction. The revoke is conditional on the predecessor still being
// active, so two concurrent rotations of the same token cannot both
// succeed; the loser gets ErrGrantRevoked and nothing is inserted.
func (s *Store) RotateGrant(ctx context.Context, predecessorID string, successor *token.TokenGrant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update access.token_grant set revoked_at = now()
		where id = $1 and revoked_at is null
	`, predecessorID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return token.ErrGrantRevoked
	}

	_, err = tx.ExecContext(ctx, `
		insert into access.token_grant
			(id, client_id, subject_id, subject_type, lineage_id,
			 access_token_hash, refresh_token_hash, scope_name, issued_at, expires_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		successor.ID, successor.ClientID, successor.SubjectID, string(successor.SubjectType), successor.LineageID,
		successor.AccessTokenHash, successor.RefreshTokenHash, nullString(successor.ScopeName),
		successor.IssuedAt, successor.ExpiresAt,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeGrant marks a grant revoked. Unknown and already-revoked grants
// are a no-op success, which makes revocation idempotent.
func (s *Store) RevokeGrant(ctx context.Context, grantID string) error {
	_, err := s.db.ExecContext(ctx, `
		update access.token_grant set revoked_at = now()
		where id = $1 and revoked_at is null
	`, grantID)
	return err
}

// RevokeLineage revokes every active grant in a rotation chain.
func (s *Store) RevokeLineage(ctx context.Context, lineageID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update access.token_grant set revoked_at = now()
		where lineage_id = $1 and revoked_at is null
	`, lineageID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
