package token

import (
	"time"

	"gatehouse.org/internal/access"
)

const (
	GrantTypePassword = "password"
	GrantTypeRefresh  = "refresh_token"
)

// TokenGrant is the persisted record of an issued access/refresh token
// pair. Grants are mutated only by rotation or revocation and never
// hard-deleted, so the table doubles as an audit trail. LineageID ties a
// rotation chain together: every successor carries the lineage of the
// first grant, which lets a replayed refresh token take down the whole
// chain defensively.
type TokenGrant struct {
	ID               string             `json:"id"`
	ClientID         string             `json:"client_id"`
	SubjectID        string             `json:"subject_id"`
	SubjectType      access.SubjectType `json:"subject_type"`
	LineageID        string             `json:"lineage_id"`
	AccessTokenHash  string             `json:"-"`
	RefreshTokenHash string             `json:"-"`
	ScopeName        string             `json:"scope_name,omitempty"`
	IssuedAt         time.Time          `json:"issued_at"`
	ExpiresAt        time.Time          `json:"expires_at"`
	RevokedAt        *time.Time         `json:"revoked_at,omitempty"`
}

// Revoked reports whether the grant has been terminally revoked.
func (g TokenGrant) Revoked() bool {
	return g.RevokedAt != nil
}

// Expired reports whether the grant's refresh lifetime has passed.
func (g TokenGrant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Request carries the credentials for either grant type behind the
// single Issue entry point.
type Request struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Scope        string
	RefreshToken string
}

// Pair is the plaintext token pair returned to the caller exactly once.
// Neither token is stored or retrievable afterward.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	GrantID      string `json:"-"`
}
