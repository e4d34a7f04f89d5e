package token

import (
	"context"
	"errors"

	"gatehouse.org/internal/access"
)

// ErrGrantRevoked is returned by Rotate when the conditional revoke
// finds the predecessor already revoked. The engine treats a lost
// rotation race as a replay signal.
var ErrGrantRevoked = errors.New("token: grant already revoked")

// Store describes the persistence operations the grant engine needs.
type Store interface {
	// FindClient returns the client row or access.ErrNotFound.
	FindClient(ctx context.Context, clientID string) (access.Client, error)
	// FindPersonByUsername returns the person row or access.ErrNotFound.
	FindPersonByUsername(ctx context.Context, username string) (access.Person, error)
	// ScopeExists reports whether the named scope is in the catalog.
	ScopeExists(ctx context.Context, scopeName string) (bool, error)

	// CreateGrant inserts a new grant row.
	CreateGrant(ctx context.Context, grant *TokenGrant) error
	// FindGrant returns a grant by ID or access.ErrNotFound.
	FindGrant(ctx context.Context, grantID string) (TokenGrant, error)
	// RotateGrant atomically revokes the predecessor and inserts the
	// successor in one transaction. The revoke is conditional on the
	// predecessor still being non-revoked; a lost race returns
	// ErrGrantRevoked and inserts nothing.
	RotateGrant(ctx context.Context, predecessorID string, successor *TokenGrant) error
	// RevokeGrant marks a grant revoked. Revoking a revoked or unknown
	// grant is a no-op success.
	RevokeGrant(ctx context.Context, grantID string) error
	// RevokeLineage revokes every non-revoked grant in a rotation chain
	// and returns how many rows it touched.
	RevokeLineage(ctx context.Context, lineageID string) (int64, error)
}
