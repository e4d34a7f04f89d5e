package access

import "context"

// SubjectType distinguishes the two kinds of subjects that can hold
// roles and authenticate.
type SubjectType string

const (
	SubjectPerson SubjectType = "person"
	SubjectClient SubjectType = "client"
)

// Principal identifies an authenticated caller as constructed by the
// transport layer. An empty SubjectID is an anonymous principal.
// ScopeName is set only for token-bound principals whose grant carried
// a scope; session-bound principals are never scope-narrowed.
type Principal struct {
	SubjectID   string
	SubjectType SubjectType
	ScopeName   string
}

// Anonymous reports whether the principal carries no subject identity.
func (p Principal) Anonymous() bool {
	return p.SubjectID == ""
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
