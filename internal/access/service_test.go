package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	roles     map[string][]Role
	rolePerms map[string][]string
	scopes    map[string][]string

	bindCalls int
}

func (f *fakeStore) RolesForSubject(_ context.Context, subjectType SubjectType, subjectID string) ([]Role, error) {
	f.bindCalls++
	return f.roles[string(subjectType)+":"+subjectID], nil
}

func (f *fakeStore) PermissionsForRole(_ context.Context, roleName string) ([]string, error) {
	return f.rolePerms[roleName], nil
}

func (f *fakeStore) ScopePermissions(_ context.Context, scopeName string) ([]string, error) {
	perms, ok := f.scopes[scopeName]
	if !ok {
		return nil, ErrNotFound
	}
	return perms, nil
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		roles: map[string][]Role{
			"person:p1": {{Name: "customer"}},
			"person:p2": {{Name: "customer"}, {Name: "support"}},
			"person:p3": {{Name: "administrator", IsAdministrative: true}},
			"client:c1": {{Name: "customer"}},
		},
		rolePerms: map[string][]string{
			"customer": {"can get own account", "can update own account"},
			"support":  {"can get any account", "can get own account"},
		},
		scopes: map[string][]string{
			"read_only": {"can get own account", "can get any account"},
			"empty":     {},
		},
	}
}

func TestBindSubjectUnionsRolePermissions(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{SubjectID: "p2", SubjectType: SubjectPerson})
	require.NoError(t, err)

	assert.True(t, g.Can("get", "account", "anyone"))
	assert.True(t, g.Can("update", "account", "p2"))
	assert.False(t, g.Can("update", "account", "anyone"))
}

func TestBindSubjectDefaultsToPerson(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{SubjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, g.Can("get", "account", "p1"))
}

func TestBindSubjectAdministrator(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{SubjectID: "p3", SubjectType: SubjectPerson})
	require.NoError(t, err)
	assert.True(t, g.Can("remove", "person", "anyone"))
}

func TestBindSubjectAnonymous(t *testing.T) {
	store := newFakeStore()
	svc, err := NewService(store, testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{})
	require.NoError(t, err)
	assert.False(t, g.Can("get", "account", ""))
	// Anonymous binds never touch the store.
	assert.Zero(t, store.bindCalls)
}

func TestBindSubjectScopeNarrowed(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{
		SubjectID:   "p1",
		SubjectType: SubjectPerson,
		ScopeName:   "read_only",
	})
	require.NoError(t, err)
	assert.True(t, g.Can("get", "account", "p1"))
	assert.False(t, g.Can("update", "account", "p1"))
}

func TestBindSubjectEmptyScopeDeniesAll(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	g, err := svc.BindSubject(context.Background(), Principal{
		SubjectID:   "p3",
		SubjectType: SubjectPerson,
		ScopeName:   "empty",
	})
	require.NoError(t, err)
	assert.False(t, g.Can("get", "account", "p3"))
	assert.False(t, g.Can("remove", "account", "anyone"))
}

func TestBindSubjectUnknownScope(t *testing.T) {
	svc, err := NewService(newFakeStore(), testRegistry())
	require.NoError(t, err)

	_, err = svc.BindSubject(context.Background(), Principal{
		SubjectID:   "p1",
		SubjectType: SubjectPerson,
		ScopeName:   "missing",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBindSubjectSeesFreshAssignments(t *testing.T) {
	store := newFakeStore()
	svc, err := NewService(store, testRegistry())
	require.NoError(t, err)

	principal := Principal{SubjectID: "p1", SubjectType: SubjectPerson}
	g, err := svc.BindSubject(context.Background(), principal)
	require.NoError(t, err)
	assert.False(t, g.Can("get", "account", "anyone"))

	// Grant a new role between binds; the change is visible on the next
	// bind, never through the old gate.
	store.roles["person:p1"] = append(store.roles["person:p1"], Role{Name: "support"})

	assert.False(t, g.Can("get", "account", "anyone"))

	fresh, err := svc.BindSubject(context.Background(), principal)
	require.NoError(t, err)
	assert.True(t, fresh.Can("get", "account", "anyone"))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, testRegistry())
	assert.Error(t, err)
	_, err = NewService(newFakeStore(), nil)
	assert.Error(t, err)
}
