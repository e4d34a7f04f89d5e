package access

import (
	"context"
	"errors"
	"fmt"
)

// Store describes the persistence reads the gate engine needs. Every
// BindSubject call goes back to the store so that a role or permission
// change is visible on the very next check.
type Store interface {
	RolesForSubject(ctx context.Context, subjectType SubjectType, subjectID string) ([]Role, error)
	PermissionsForRole(ctx context.Context, roleName string) ([]string, error)
	ScopePermissions(ctx context.Context, scopeName string) ([]string, error)
}

// Service resolves principals into gates.
type Service struct {
	store    Store
	registry *Registry
}

// NewService constructs the gate engine over its store and the
// capability registry populated at startup.
func NewService(store Store, registry *Registry) (*Service, error) {
	if store == nil {
		return nil, errors.New("access: store is required")
	}
	if registry == nil {
		return nil, errors.New("access: registry is required")
	}
	return &Service{store: store, registry: registry}, nil
}

// Registry returns the capability registry the service was built with.
func (s *Service) Registry() *Registry {
	return s.registry
}

// BindSubject resolves the principal's current role bindings into a
// gate. Resolution is never memoized across calls. Anonymous principals
// resolve to the empty permission set and deny everything.
func (s *Service) BindSubject(ctx context.Context, principal Principal) (*Gate, error) {
	if principal.Anonymous() {
		return NewGate("", false, s.registry, nil, nil), nil
	}

	subjectType := principal.SubjectType
	if subjectType == "" {
		subjectType = SubjectPerson
	}

	roles, err := s.store.RolesForSubject(ctx, subjectType, principal.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles for %s %s: %w", subjectType, principal.SubjectID, err)
	}

	var (
		admin bool
		seen  = make(map[string]struct{})
		perms []string
	)
	for _, role := range roles {
		if role.IsAdministrative {
			admin = true
		}
		names, err := s.store.PermissionsForRole(ctx, role.Name)
		if err != nil {
			return nil, fmt.Errorf("resolve permissions for role %s: %w", role.Name, err)
		}
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			perms = append(perms, name)
		}
	}

	var narrowed []string
	if principal.ScopeName != "" {
		narrowed, err = s.store.ScopePermissions(ctx, principal.ScopeName)
		if err != nil {
			return nil, fmt.Errorf("resolve scope %s: %w", principal.ScopeName, err)
		}
		if narrowed == nil {
			narrowed = []string{}
		}
	}

	return NewGate(principal.SubjectID, admin, s.registry, perms, narrowed), nil
}
