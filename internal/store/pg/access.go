package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gatehouse.org/internal/access"
)

var _ access.Store = (*Store)(nil)

// RolesForSubject reads the subject's current role bindings. The gate
// engine calls this on every bind so role changes are visible on the
// next check.
func (s *Store) RolesForSubject(ctx context.Context, subjectType access.SubjectType, subjectID string) ([]access.Role, error) {
	var query string
	switch subjectType {
	case access.SubjectPerson:
		query = `
			select r.name, r.label, r.is_administrative, r.created_at, r.updated_at
			from access.role r
			join access.person_role b on b.role_name = r.name
			where b.person_id = $1
			order by r.name
		`
	case access.SubjectClient:
		query = `
			select r.name, r.label, r.is_administrative, r.created_at, r.updated_at
			from access.role r
			join access.client_role b on b.role_name = r.name
			where b.client_id = $1
			order by r.name
		`
	default:
		return nil, fmt.Errorf("unsupported subject type %q", subjectType)
	}

	rows, err := s.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []access.Role
	for rows.Next() {
		var role access.Role
		if err := rows.Scan(&role.Name, &role.Label, &role.IsAdministrative, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// PermissionsForRole returns the permission names attached to one role.
func (s *Store) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission_name from access.role_permission
		where role_name = $1
		order by permission_name
	`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ScopePermissions returns the permission names attached to a scope.
// An unknown scope is ErrNotFound; a known scope with no permissions is
// an empty, non-nil set so narrowing still applies.
func (s *Store) ScopePermissions(ctx context.Context, scopeName string) ([]string, error) {
	var exists string
	err := s.db.QueryRowContext(ctx, `select name from access.scope where name = $1`, scopeName).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, access.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select permission_name from access.scope_permission
		where scope_name = $1
		order by permission_name
	`, scopeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ScopeExists reports whether the named scope is in the catalog.
func (s *Store) ScopeExists(ctx context.Context, scopeName string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `select name from access.scope where name = $1`, scopeName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindClient returns a client row by ID for credential verification.
func (s *Store) FindClient(ctx context.Context, clientID string) (access.Client, error) {
	var client access.Client
	err := s.db.QueryRowContext(ctx, `
		select id, secret_hash, label, is_confidential, redirect_urls, created_at, updated_at
		from access.client
		where id = $1
	`, clientID).Scan(
		&client.ID, &client.SecretHash, &client.Label, &client.IsConfidential,
		&client.RedirectURLs, &client.CreatedAt, &client.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Client{}, access.ErrNotFound
	}
	if err != nil {
		return access.Client{}, err
	}
	return client, nil
}

// FindPersonByUsername returns a person row for password verification.
func (s *Store) FindPersonByUsername(ctx context.Context, username string) (access.Person, error) {
	var person access.Person
	err := s.db.QueryRowContext(ctx, `
		select id, username, email, full_name, password_hash, is_email_verified, created_at, updated_at
		from access.person
		where username = $1
	`, username).Scan(
		&person.ID, &person.Username, &person.Email, &person.FullName,
		&person.PasswordHash, &person.IsEmailVerified, &person.CreatedAt, &person.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return access.Person{}, access.ErrNotFound
	}
	if err != nil {
		return access.Person{}, err
	}
	return person, nil
}
