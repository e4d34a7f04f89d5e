package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"gatehouse.org/internal/access"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestRolesForSubjectPerson(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery("join access.person_role b").
		WithArgs("person-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "label", "is_administrative", "created_at", "updated_at"}).
			AddRow("administrator", "Administrator", true, now, now).
			AddRow("customer", "Customer", false, now, now))

	roles, err := store.RolesForSubject(context.Background(), access.SubjectPerson, "person-1")
	if err != nil {
		t.Fatalf("RolesForSubject: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if !roles[0].IsAdministrative || roles[0].Name != "administrator" {
		t.Fatalf("unexpected first role: %+v", roles[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRolesForSubjectClientUsesClientBinding(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery("join access.client_role b").
		WithArgs("client-1").
		WillReturnRows(sqlmock.NewRows([]string{"name", "label", "is_administrative", "created_at", "updated_at"}).
			AddRow("customer", "Customer", false, now, now))

	roles, err := store.RolesForSubject(context.Background(), access.SubjectClient, "client-1")
	if err != nil {
		t.Fatalf("RolesForSubject: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "customer" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
}

func TestRolesForSubjectUnknownType(t *testing.T) {
	store, _ := newMock(t)
	if _, err := store.RolesForSubject(context.Background(), "service", "x"); err == nil {
		t.Fatal("expected error for unsupported subject type")
	}
}

func TestPermissionsForRole(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select permission_name from access.role_permission").
		WithArgs("customer").
		WillReturnRows(sqlmock.NewRows([]string{"permission_name"}).
			AddRow("can get own account").
			AddRow("can update own account"))

	names, err := store.PermissionsForRole(context.Background(), "customer")
	if err != nil {
		t.Fatalf("PermissionsForRole: %v", err)
	}
	if len(names) != 2 || names[0] != "can get own account" {
		t.Fatalf("unexpected permissions: %v", names)
	}
}

func TestScopePermissionsUnknownScope(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select name from access.scope").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := store.ScopePermissions(context.Background(), "missing")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScopePermissionsEmptyScopeIsNonNil(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select name from access.scope").
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("empty"))
	mock.ExpectQuery("select permission_name from access.scope_permission").
		WithArgs("empty").
		WillReturnRows(sqlmock.NewRows([]string{"permission_name"}))

	names, err := store.ScopePermissions(context.Background(), "empty")
	if err != nil {
		t.Fatalf("ScopePermissions: %v", err)
	}
	if names == nil {
		t.Fatal("empty scope must narrow to an empty set, not nil")
	}
	if len(names) != 0 {
		t.Fatalf("unexpected permissions: %v", names)
	}
}

func TestScopeExists(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select name from access.scope").
		WithArgs("read_only").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("read_only"))
	ok, err := store.ScopeExists(context.Background(), "read_only")
	if err != nil || !ok {
		t.Fatalf("expected scope to exist: ok=%v err=%v", ok, err)
	}

	mock.ExpectQuery("select name from access.scope").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	ok, err = store.ScopeExists(context.Background(), "missing")
	if err != nil || ok {
		t.Fatalf("expected scope to be absent: ok=%v err=%v", ok, err)
	}
}

func TestFindClientNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("from access.client").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindClient(context.Background(), "ghost")
	if !errors.Is(err, access.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindPersonByUsername(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()

	mock.ExpectQuery("from access.person").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "username", "email", "full_name", "password_hash", "is_email_verified", "created_at", "updated_at",
		}).AddRow("person-1", "ada@example.com", "ada@example.com", "Ada Lovelace", "$2a$hash", true, now, now))

	person, err := store.FindPersonByUsername(context.Background(), "ada@example.com")
	if err != nil {
		t.Fatalf("FindPersonByUsername: %v", err)
	}
	if person.ID != "person-1" || person.PasswordHash != "$2a$hash" {
		t.Fatalf("unexpected person: %+v", person)
	}
}
