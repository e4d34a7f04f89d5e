package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/access"
)

type memStore struct {
	clients map[string]access.Client
	persons map[string]access.Person
	scopes  map[string]bool
	grants  map[string]*TokenGrant
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	clientHash, err := access.HashSecret("client-secret", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash client secret: %v", err)
	}
	passwordHash, err := access.HashSecret("Sturdy-Passw0rd!", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &memStore{
		clients: map[string]access.Client{
			"web": {ID: "web", SecretHash: clientHash, Label: "Web"},
		},
		persons: map[string]access.Person{
			"ada@example.com": {ID: "person-1", Username: "ada@example.com", PasswordHash: passwordHash},
		},
		scopes: map[string]bool{"read_only": true},
		grants: make(map[string]*TokenGrant),
	}
}

func (m *memStore) FindClient(_ context.Context, clientID string) (access.Client, error) {
	c, ok := m.clients[clientID]
	if !ok {
		return access.Client{}, access.ErrNotFound
	}
	return c, nil
}

func (m *memStore) FindPersonByUsername(_ context.Context, username string) (access.Person, error) {
	p, ok := m.persons[username]
	if !ok {
		return access.Person{}, access.ErrNotFound
	}
	return p, nil
}

func (m *memStore) ScopeExists(_ context.Context, scopeName string) (bool, error) {
	return m.scopes[scopeName], nil
}

func (m *memStore) CreateGrant(_ context.Context, grant *TokenGrant) error {
	cp := *grant
	m.grants[grant.ID] = &cp
	return nil
}

func (m *memStore) FindGrant(_ context.Context, grantID string) (TokenGrant, error) {
	g, ok := m.grants[grantID]
	if !ok {
		return TokenGrant{}, access.ErrNotFound
	}
	return *g, nil
}

func (m *memStore) RotateGrant(_ context.Context, predecessorID string, successor *TokenGrant) error {
	pred, ok := m.grants[predecessorID]
	if !ok || pred.RevokedAt != nil {
		return ErrGrantRevoked
	}
	now := time.Now().UTC()
	pred.RevokedAt = &now
	cp := *successor
	m.grants[successor.ID] = &cp
	return nil
}

func (m *memStore) RevokeGrant(_ context.Context, grantID string) error {
	g, ok := m.grants[grantID]
	if !ok || g.RevokedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	g.RevokedAt = &now
	return nil
}

func (m *memStore) RevokeLineage(_ context.Context, lineageID string) (int64, error) {
	var n int64
	now := time.Now().UTC()
	for _, g := range m.grants {
		if g.LineageID == lineageID && g.RevokedAt == nil {
			g.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (m *memStore) activeGrants() int {
	n := 0
	for _, g := range m.grants {
		if g.RevokedAt == nil {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, store Store, opts ...ServiceOption) *Service {
	t.Helper()
	svc, err := NewService(store, []byte("0123456789abcdef0123456789abcdef"), opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func passwordRequest() Request {
	return Request{
		GrantType:    GrantTypePassword,
		ClientID:     "web",
		ClientSecret: "client-secret",
		Username:     "Ada@Example.com",
		Password:     "Sturdy-Passw0rd!",
	}
}

func TestPasswordGrantIssuesPair(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store, WithIssuer("gatehouse-test"))

	pair, err := svc.Issue(context.Background(), passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type: %s", pair.TokenType)
	}
	if pair.ExpiresIn <= 0 {
		t.Fatalf("unexpected expires_in: %d", pair.ExpiresIn)
	}
	if len(store.grants) != 1 {
		t.Fatalf("expected one grant row, got %d", len(store.grants))
	}

	grant := store.grants[pair.GrantID]
	if grant == nil {
		t.Fatal("grant not persisted under its ID")
	}
	if grant.LineageID != grant.ID {
		t.Fatalf("first grant must start its own lineage: %s vs %s", grant.LineageID, grant.ID)
	}
	if grant.AccessTokenHash == pair.AccessToken || grant.RefreshTokenHash == pair.RefreshToken {
		t.Fatal("plaintext token persisted")
	}

	principal, err := svc.VerifyAccessToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if principal.SubjectID != "person-1" || principal.SubjectType != access.SubjectPerson {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestPasswordGrantScope(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)

	req := passwordRequest()
	req.Scope = "read_only"
	pair, err := svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	principal, err := svc.VerifyAccessToken(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if principal.ScopeName != "read_only" {
		t.Fatalf("scope not carried on principal: %+v", principal)
	}

	req.Scope = "nonexistent"
	if _, err := svc.Issue(context.Background(), req); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant for unknown scope, got %v", err)
	}
}

func TestPasswordGrantCredentialFailuresAreGeneric(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)

	cases := map[string]Request{
		"unknown client": func() Request { r := passwordRequest(); r.ClientID = "nope"; return r }(),
		"bad secret":     func() Request { r := passwordRequest(); r.ClientSecret = "wrong"; return r }(),
		"unknown user":   func() Request { r := passwordRequest(); r.Username = "nobody@example.com"; return r }(),
		"bad password":   func() Request { r := passwordRequest(); r.Password = "wrong"; return r }(),
		"missing fields": {GrantType: GrantTypePassword},
	}
	for name, req := range cases {
		_, err := svc.Issue(context.Background(), req)
		if !errors.Is(err, access.ErrAuthentication) {
			t.Fatalf("%s: expected ErrAuthentication, got %v", name, err)
		}
		if err.Error() != access.ErrAuthentication.Error() {
			t.Fatalf("%s: error must not leak which credential failed: %v", name, err)
		}
	}
	if len(store.grants) != 0 {
		t.Fatalf("failed attempts must not write grants, found %d", len(store.grants))
	}
}

func TestUnsupportedGrantType(t *testing.T) {
	svc := newTestService(t, newMemStore(t))
	_, err := svc.Issue(context.Background(), Request{GrantType: "client_credentials"})
	if !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
}

func TestPasswordGrantThrottle(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store, WithLoginRate(0.001, 1))

	if _, err := svc.Issue(context.Background(), passwordRequest()); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	_, err := svc.Issue(context.Background(), passwordRequest())
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	second, err := svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: first.RefreshToken})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	firstGrant := store.grants[first.GrantID]
	secondGrant := store.grants[second.GrantID]
	if firstGrant.RevokedAt == nil {
		t.Fatal("predecessor not revoked")
	}
	if secondGrant.LineageID != firstGrant.LineageID {
		t.Fatal("successor must inherit the lineage")
	}

	// The predecessor's access token dies with its grant.
	if _, err := svc.VerifyAccessToken(ctx, first.AccessToken); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected rotated-out access token to fail, got %v", err)
	}
	if _, err := svc.VerifyAccessToken(ctx, second.AccessToken); err != nil {
		t.Fatalf("successor access token should verify: %v", err)
	}
}

func TestRefreshReplayRevokesLineage(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	first, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: first.RefreshToken}); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	// Replaying the consumed token is treated as theft: the entire
	// lineage goes down, including the freshly minted successor.
	_, err = svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: first.RefreshToken})
	if !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant on replay, got %v", err)
	}
	if store.activeGrants() != 0 {
		t.Fatalf("expected whole lineage revoked, %d grants still active", store.activeGrants())
	}
}

func TestRefreshForgedSecretRevokesLineage(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	forged := pair.GrantID + ".forged-secret"
	_, err = svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: forged})
	if !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if store.activeGrants() != 0 {
		t.Fatal("forged secret with a valid grant ID must revoke the lineage")
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	svc := newTestService(t, newMemStore(t))
	for _, raw := range []string{"", "noseparator", ".leading", "trailing.", "a.b.c"} {
		_, err := svc.Issue(context.Background(), Request{GrantType: GrantTypeRefresh, RefreshToken: raw})
		if !errors.Is(err, access.ErrInvalidGrant) {
			t.Fatalf("%q: expected ErrInvalidGrant, got %v", raw, err)
		}
	}
}

func TestRefreshExpired(t *testing.T) {
	store := newMemStore(t)
	now := time.Now().UTC()
	clock := &now
	svc := newTestService(t, store, WithClock(func() time.Time { return *clock }))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	later := now.Add(15 * 24 * time.Hour)
	clock = &later
	_, err = svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: pair.RefreshToken})
	if !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant for expired grant, got %v", err)
	}
	// Expiry is not a theft signal; the grant stays as-is.
	if store.grants[pair.GrantID].RevokedAt != nil {
		t.Fatal("expired grant should not be revoked defensively")
	}
}

type racingStore struct {
	*memStore
}

func (r *racingStore) RotateGrant(context.Context, string, *TokenGrant) error {
	return ErrGrantRevoked
}

func TestRefreshRotationRaceLoser(t *testing.T) {
	inner := newMemStore(t)
	svc := newTestService(t, &racingStore{memStore: inner})
	ctx := context.Background()

	pair, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = svc.Issue(ctx, Request{GrantType: GrantTypeRefresh, RefreshToken: pair.RefreshToken})
	if !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("race loser must get ErrInvalidGrant, got %v", err)
	}
	if inner.activeGrants() != 0 {
		t.Fatal("race loss must revoke the lineage")
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)
	ctx := context.Background()

	pair, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.Revoke(ctx, pair.GrantID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, pair.GrantID); err != nil {
		t.Fatalf("second Revoke must be a no-op success: %v", err)
	}
	if err := svc.Revoke(ctx, "no-such-grant"); err != nil {
		t.Fatalf("revoking an unknown grant must be a no-op success: %v", err)
	}

	if _, err := svc.VerifyAccessToken(ctx, pair.AccessToken); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("revoked grant's access token must fail verification, got %v", err)
	}

	if err := svc.Revoke(ctx, "  "); err == nil {
		t.Fatal("blank grant ID must be a validation error")
	}
}

func TestVerifyAccessTokenRejectsExpiredAndTampered(t *testing.T) {
	store := newMemStore(t)
	now := time.Now().UTC()
	clock := &now
	svc := newTestService(t, store, WithClock(func() time.Time { return *clock }))
	ctx := context.Background()

	pair, err := svc.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	later := now.Add(time.Hour)
	clock = &later
	if _, err := svc.VerifyAccessToken(ctx, pair.AccessToken); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected expiry rejection, got %v", err)
	}

	clock = &now
	tampered := pair.AccessToken[:len(pair.AccessToken)-2] + "xx"
	if _, err := svc.VerifyAccessToken(ctx, tampered); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected signature rejection, got %v", err)
	}

	other := newTestService(t, store, WithClock(func() time.Time { return *clock }))
	othersecret, err := NewService(store, []byte("another-secret-another-secret-xx"), WithClock(func() time.Time { return *clock }))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := othersecret.VerifyAccessToken(ctx, pair.AccessToken); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected wrong-key rejection, got %v", err)
	}
	if _, err := other.VerifyAccessToken(ctx, pair.AccessToken); err != nil {
		t.Fatalf("same-key service should verify: %v", err)
	}
}

func TestVerifyAccessTokenIssuerMismatch(t *testing.T) {
	store := newMemStore(t)
	issuing := newTestService(t, store, WithIssuer("issuer-a"))
	verifying := newTestService(t, store, WithIssuer("issuer-b"))
	ctx := context.Background()

	pair, err := issuing.Issue(ctx, passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifying.VerifyAccessToken(ctx, pair.AccessToken); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected issuer rejection, got %v", err)
	}
}

func TestUsernameNormalization(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)

	req := passwordRequest()
	req.Username = "  ADA@EXAMPLE.COM  "
	if _, err := svc.Issue(context.Background(), req); err != nil {
		t.Fatalf("expected case-insensitive username match: %v", err)
	}
}

func TestSplitRefreshToken(t *testing.T) {
	id, secret, err := splitRefreshToken(" grant-1.s3cret ")
	if err != nil || id != "grant-1" || secret != "s3cret" {
		t.Fatalf("unexpected split: %q %q %v", id, secret, err)
	}
}

func TestDecoyHashIsWellFormed(t *testing.T) {
	// The decoy has to be a parseable bcrypt hash at a realistic cost,
	// otherwise the compare on the not-found paths returns immediately
	// and the lookup miss is visible in response timing again.
	cost, err := bcrypt.Cost([]byte(decoyHash))
	if err != nil {
		t.Fatalf("decoy hash does not parse: %v", err)
	}
	if cost < bcrypt.DefaultCost {
		t.Fatalf("decoy cost %d below default %d", cost, bcrypt.DefaultCost)
	}
}

func TestBindContextCarriesPrincipal(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)

	pair, err := svc.Issue(context.Background(), passwordRequest())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ctx := access.ContextWithToken(context.Background(), pair.AccessToken)
	bound, err := svc.BindContext(ctx)
	if err != nil {
		t.Fatalf("BindContext: %v", err)
	}
	principal, ok := access.PrincipalFromContext(bound)
	if !ok {
		t.Fatal("bound context carries no principal")
	}
	if principal.SubjectID != "person-1" || principal.SubjectType != access.SubjectPerson {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestBindContextRejectsMissingAndBadTokens(t *testing.T) {
	store := newMemStore(t)
	svc := newTestService(t, store)

	if _, err := svc.BindContext(context.Background()); !errors.Is(err, access.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication without a token, got %v", err)
	}

	ctx := access.ContextWithToken(context.Background(), "not.a.token")
	if _, err := svc.BindContext(ctx); !errors.Is(err, access.ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant for a garbage token, got %v", err)
	}
}
