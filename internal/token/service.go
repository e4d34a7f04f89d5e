package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	refreshSecretBytes = 32
)

// ErrThrottled indicates the per-client login throttle rejected the
// attempt before any credential was checked.
var ErrThrottled = errors.New("token: too many authentication attempts")

// decoyHash is a valid bcrypt hash compared against on unknown-client
// and unknown-subject paths, so a lookup miss costs as much as a
// mismatched credential and timing does not leak which one it was.
const decoyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Claims are the signed access-token claims. The grant ID rides in the
// registered ID claim so revocation can be checked against the store.
type Claims struct {
	SubjectType string `json:"sub_type"`
	ClientID    string `json:"cid"`
	Scope       string `json:"scope,omitempty"`
	TokenType   string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service authenticates client+subject pairs and mints, rotates, and
// revokes token grants. All collaborators are injected; the service
// holds no ambient state and no background goroutines.
type Service struct {
	store  Store
	now    func() time.Time
	issuer string
	secret []byte

	accessTTL  time.Duration
	refreshTTL time.Duration

	loginRate  rate.Limit
	loginBurst int
	limiterMu  sync.Mutex
	limiters   map[string]*rate.Limiter

	audit func(ctx context.Context, event string, fields map[string]any)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithIssuer sets the iss claim on access tokens.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLoginRate configures the per-client token-bucket throttle applied
// to password grants. A zero rate disables throttling.
func WithLoginRate(perSecond float64, burst int) ServiceOption {
	return func(s *Service) error {
		if perSecond < 0 || burst < 0 {
			return errors.New("token: login rate and burst must be non-negative")
		}
		s.loginRate = rate.Limit(perSecond)
		s.loginBurst = burst
		return nil
	}
}

// WithAuditSink overrides where grant lifecycle events are recorded.
func WithAuditSink(fn func(ctx context.Context, event string, fields map[string]any)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.audit = fn
		}
		return nil
	}
}

// NewService constructs the grant engine. The signing secret is required
// because every access token is signed, even though its hash is also
// persisted for revocation checks.
func NewService(store Store, signingSecret []byte, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("token: store is required")
	}
	if len(signingSecret) == 0 {
		return nil, errors.New("token: signing secret is required")
	}
	svc := &Service{
		store:      store,
		now:        time.Now,
		secret:     signingSecret,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		limiters:   make(map[string]*rate.Limiter),
		audit:      func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Issue is the single entry point for both supported grant types.
func (s *Service) Issue(ctx context.Context, req Request) (Pair, error) {
	switch req.GrantType {
	case GrantTypePassword:
		return s.passwordGrant(ctx, req)
	case GrantTypeRefresh:
		return s.refreshGrant(ctx, req)
	default:
		return Pair{}, fmt.Errorf("%w: unsupported grant type %q", access.ErrInvalidGrant, req.GrantType)
	}
}

// passwordGrant verifies the client secret and the subject's password
// and mints a fresh grant. Every credential failure collapses into the
// same generic ErrAuthentication and never writes a grant row.
func (s *Service) passwordGrant(ctx context.Context, req Request) (Pair, error) {
	clientID := strings.TrimSpace(req.ClientID)
	username := strings.TrimSpace(strings.ToLower(req.Username))
	if clientID == "" || req.ClientSecret == "" || username == "" || req.Password == "" {
		obs.TokenGrantFailed(GrantTypePassword, "missing_credentials")
		return Pair{}, access.ErrAuthentication
	}
	if !s.allowAttempt(clientID) {
		obs.TokenGrantFailed(GrantTypePassword, "throttled")
		return Pair{}, ErrThrottled
	}

	client, err := s.store.FindClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			_ = access.VerifySecret(decoyHash, req.ClientSecret)
			obs.TokenGrantFailed(GrantTypePassword, "bad_client")
			return Pair{}, access.ErrAuthentication
		}
		return Pair{}, err
	}
	if err := access.VerifySecret(client.SecretHash, req.ClientSecret); err != nil {
		obs.TokenGrantFailed(GrantTypePassword, "bad_client")
		return Pair{}, access.ErrAuthentication
	}

	person, err := s.store.FindPersonByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			_ = access.VerifySecret(decoyHash, req.Password)
			obs.TokenGrantFailed(GrantTypePassword, "bad_subject")
			return Pair{}, access.ErrAuthentication
		}
		return Pair{}, err
	}
	if err := access.VerifySecret(person.PasswordHash, req.Password); err != nil {
		obs.TokenGrantFailed(GrantTypePassword, "bad_subject")
		return Pair{}, access.ErrAuthentication
	}

	scope := strings.TrimSpace(req.Scope)
	if scope != "" {
		exists, err := s.store.ScopeExists(ctx, scope)
		if err != nil {
			return Pair{}, err
		}
		if !exists {
			obs.TokenGrantFailed(GrantTypePassword, "bad_scope")
			return Pair{}, fmt.Errorf("%w: unknown scope %q", access.ErrInvalidGrant, scope)
		}
	}

	pair, grant, err := s.mint(client.ID, person.ID, access.SubjectPerson, scope, "")
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return Pair{}, err
	}
	obs.TokenGrantIssued(GrantTypePassword)
	s.audit(ctx, "token.grant.issued", map[string]any{
		"grant_id":   grant.ID,
		"client_id":  grant.ClientID,
		"subject_id": grant.SubjectID,
		"grant_type": GrantTypePassword,
		"scope":      scope,
	})
	return pair, nil
}

// refreshGrant rotates a refresh token. Exactly one of two concurrent
// attempts can win the conditional revoke; the loser is treated as a
// possible token theft and takes the whole lineage down with it.
func (s *Service) refreshGrant(ctx context.Context, req Request) (Pair, error) {
	grantID, secret, err := splitRefreshToken(req.RefreshToken)
	if err != nil {
		obs.TokenGrantFailed(GrantTypeRefresh, "malformed")
		return Pair{}, access.ErrInvalidGrant
	}

	grant, err := s.store.FindGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			obs.TokenGrantFailed(GrantTypeRefresh, "unknown")
			return Pair{}, access.ErrInvalidGrant
		}
		return Pair{}, err
	}
	if grant.Revoked() {
		// Replay of an already-rotated token: revoke the whole chain.
		s.revokeLineage(ctx, grant.LineageID, "replay")
		obs.TokenGrantFailed(GrantTypeRefresh, "replayed")
		return Pair{}, access.ErrInvalidGrant
	}
	if grant.Expired(s.now()) {
		obs.TokenGrantFailed(GrantTypeRefresh, "expired")
		return Pair{}, access.ErrInvalidGrant
	}
	if !compareTokenHash(grant.RefreshTokenHash, secret) {
		// Correct grant ID with a forged secret: defensively revoke.
		s.revokeLineage(ctx, grant.LineageID, "forged_secret")
		obs.TokenGrantFailed(GrantTypeRefresh, "bad_secret")
		return Pair{}, access.ErrInvalidGrant
	}

	pair, successor, err := s.mint(grant.ClientID, grant.SubjectID, grant.SubjectType, grant.ScopeName, grant.LineageID)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.RotateGrant(ctx, grant.ID, successor); err != nil {
		if errors.Is(err, ErrGrantRevoked) {
			// Lost a concurrent rotation race.
			s.revokeLineage(ctx, grant.LineageID, "rotation_race")
			obs.TokenGrantFailed(GrantTypeRefresh, "rotation_race")
			return Pair{}, access.ErrInvalidGrant
		}
		return Pair{}, err
	}
	obs.TokenGrantIssued(GrantTypeRefresh)
	s.audit(ctx, "token.grant.rotated", map[string]any{
		"grant_id":    successor.ID,
		"predecessor": grant.ID,
		"lineage_id":  successor.LineageID,
		"subject_id":  successor.SubjectID,
	})
	return pair, nil
}

// Revoke idempotently marks a grant revoked. Revoking an already-revoked
// or unknown grant is a no-op success.
func (s *Service) Revoke(ctx context.Context, grantID string) error {
	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return &access.ValidationError{Field: "grant_id", Message: "grant ID is required"}
	}
	if err := s.store.RevokeGrant(ctx, grantID); err != nil {
		return err
	}
	obs.TokenGrantRevoked()
	s.audit(ctx, "token.grant.revoked", map[string]any{"grant_id": grantID})
	return nil
}

// VerifyAccessToken checks the token signature and claims, then checks
// the persisted grant so that revocation is effective even before the
// token expires. On success it returns the principal for BindSubject.
func (s *Service) VerifyAccessToken(ctx context.Context, tokenString string) (access.Principal, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return access.Principal{}, access.ErrInvalidGrant
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, access.ErrInvalidGrant
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return access.Principal{}, access.ErrInvalidGrant
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != "access" {
		return access.Principal{}, access.ErrInvalidGrant
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return access.Principal{}, access.ErrInvalidGrant
	}

	grant, err := s.store.FindGrant(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			return access.Principal{}, access.ErrInvalidGrant
		}
		return access.Principal{}, err
	}
	if grant.Revoked() {
		return access.Principal{}, access.ErrInvalidGrant
	}
	if !compareHashHex(grant.AccessTokenHash, hashToken(tokenString)) {
		return access.Principal{}, access.ErrInvalidGrant
	}

	return access.Principal{
		SubjectID:   claims.Subject,
		SubjectType: access.SubjectType(claims.SubjectType),
		ScopeName:   claims.Scope,
	}, nil
}

// BindContext verifies the bearer token attached to the context and
// returns a child context carrying the authenticated principal, ready
// for BindSubject and the audit log. A context without a token is an
// authentication failure, not an anonymous principal.
func (s *Service) BindContext(ctx context.Context) (context.Context, error) {
	raw, ok := access.TokenFromContext(ctx)
	if !ok {
		return ctx, access.ErrAuthentication
	}
	principal, err := s.VerifyAccessToken(ctx, raw)
	if err != nil {
		return ctx, err
	}
	return access.ContextWithPrincipal(ctx, principal), nil
}

func (s *Service) mint(clientID, subjectID string, subjectType access.SubjectType, scope, lineageID string) (Pair, *TokenGrant, error) {
	now := s.now().UTC()
	grantID := ids.New()
	if lineageID == "" {
		lineageID = grantID
	}

	accessExp := now.Add(s.accessTTL)
	claims := Claims{
		SubjectType: string(subjectType),
		ClientID:    clientID,
		Scope:       scope,
		TokenType:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
			ID:        grantID,
		},
	}
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Pair{}, nil, fmt.Errorf("sign access token: %w", err)
	}

	secretBytes := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return Pair{}, nil, err
	}
	refreshSecret := base64.RawURLEncoding.EncodeToString(secretBytes)
	refreshToken := grantID + "." + refreshSecret

	grant := &TokenGrant{
		ID:               grantID,
		ClientID:         clientID,
		SubjectID:        subjectID,
		SubjectType:      subjectType,
		LineageID:        lineageID,
		AccessTokenHash:  hashToken(accessToken),
		RefreshTokenHash: hashToken(refreshSecret),
		ScopeName:        scope,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.refreshTTL),
	}
	pair := Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
		Scope:        scope,
		GrantID:      grantID,
	}
	return pair, grant, nil
}

func (s *Service) revokeLineage(ctx context.Context, lineageID, reason string) {
	revoked, err := s.store.RevokeLineage(ctx, lineageID)
	if err != nil {
		obs.LogEvent("token.lineage.revoke_failed", map[string]any{
			"lineage_id": lineageID,
			"error":      err.Error(),
		})
		return
	}
	if revoked > 0 {
		obs.TokenGrantRevoked()
	}
	s.audit(ctx, "token.lineage.revoked", map[string]any{
		"lineage_id": lineageID,
		"reason":     reason,
		"revoked":    revoked,
	})
}

// allowAttempt applies the per-client token bucket. Stale buckets are
// pruned inline so the engine needs no background timer.
func (s *Service) allowAttempt(clientID string) bool {
	if s.loginRate == 0 {
		return true
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	if len(s.limiters) > 1024 {
		s.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := s.limiters[clientID]
	if !ok {
		lim = rate.NewLimiter(s.loginRate, s.loginBurst)
		s.limiters[clientID] = lim
	}
	return lim.Allow()
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func hashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func compareTokenHash(expectedHash, secret string) bool {
	return compareHashHex(expectedHash, hashToken(secret))
}

func compareHashHex(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
