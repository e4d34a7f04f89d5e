// Package catalog declares every concrete entity of the access layer as
// a resource descriptor and wires the composed flows that span more
// than one entity. Adding an entity or an action variant here is a
// declaration, not new logic.
package catalog

import (
	"database/sql"
	"unicode"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/resource"
)

// passwordComplexity requires a mix of character classes on top of the
// minimum length check.
func passwordComplexity(label string, value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}
	if lower && upper && digit && special {
		return ""
	}
	return label + " must include upper and lower case letters, a number and a special character"
}

// Catalog bundles the resource surfaces for every entity plus the
// shared handles the composed flows need.
type Catalog struct {
	db       *sql.DB
	registry *access.Registry

	Permission      *resource.Resource
	Role            *resource.Resource
	RolePermission  *resource.Resource
	Scope           *resource.Resource
	ScopePermission *resource.Resource
	Person          *resource.Resource
	PersonRole      *resource.Resource
	Client          *resource.Resource
	ClientRole      *resource.Resource
	Account         *resource.Resource
	TokenGrant      *resource.Resource
}

// New builds every entity resource against the shared database handle
// and registers their capabilities into the registry.
func New(db *sql.DB, registry *access.Registry) (*Catalog, error) {
	c := &Catalog{db: db, registry: registry}

	build := func(dst **resource.Resource, desc resource.Descriptor) error {
		r, err := resource.New(db, desc, registry)
		if err != nil {
			return err
		}
		*dst = r
		return nil
	}

	for _, item := range []struct {
		dst  **resource.Resource
		desc resource.Descriptor
	}{
		{&c.Permission, permissionDescriptor()},
		{&c.Role, roleDescriptor()},
		{&c.RolePermission, rolePermissionDescriptor()},
		{&c.Scope, scopeDescriptor()},
		{&c.ScopePermission, scopePermissionDescriptor()},
		{&c.Person, personDescriptor()},
		{&c.PersonRole, personRoleDescriptor()},
		{&c.Client, clientDescriptor()},
		{&c.ClientRole, clientRoleDescriptor()},
		{&c.Account, accountDescriptor()},
		{&c.TokenGrant, tokenGrantDescriptor()},
	} {
		if err := build(item.dst, item.desc); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DB exposes the shared handle for composed, caller-owned transactions.
func (c *Catalog) DB() *sql.DB { return c.db }

func catalogTimestamps(table string) []resource.Column {
	return []resource.Column{
		{Table: table, Name: "created_at"},
		{Table: table, Name: "updated_at"},
	}
}

func adminCRUD() []resource.AuthorizerSpec {
	return []resource.AuthorizerSpec{
		{Action: "create"},
		{Action: "update"},
		{Action: "remove"},
		{Action: "list"},
		{Action: "get"},
	}
}

func permissionDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "permission",
		Key:    []string{"name"},
		Columns: append([]resource.Column{
			{Table: "permission", Name: "name"},
			{Table: "permission", Name: "label"},
		}, catalogTimestamps("permission")...),
		CreateColumns:    []string{"name", "label"},
		UpdateColumns:    []string{"label"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{"name", "label"},
		Rules: []resource.Rule{
			{Field: "name", Label: "Permission name", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
			{Field: "label", Label: "Label", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
		},
		Authorizers:  adminCRUD(),
		DefaultOrder: "permission.name",
	}
}

func roleDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "role",
		Key:    []string{"name"},
		Columns: append([]resource.Column{
			{Table: "role", Name: "name"},
			{Table: "role", Name: "label"},
			{Table: "role", Name: "is_administrative"},
		}, catalogTimestamps("role")...),
		CreateColumns:    []string{"name", "label", "is_administrative"},
		UpdateColumns:    []string{"label", "is_administrative"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{"name", "label"},
		Rules: []resource.Rule{
			{Field: "name", Label: "Role name", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
			{Field: "label", Label: "Label", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
		},
		Authorizers:  adminCRUD(),
		DefaultOrder: "role.name",
	}
}

func rolePermissionDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "role_permission",
		Key:    []string{"role_name", "permission_name"},
		Columns: []resource.Column{
			{Table: "role_permission", Name: "role_name"},
			{Table: "role_permission", Name: "permission_name"},
			{Table: "role_permission", Name: "created_at"},
		},
		CreateColumns: []string{"role_name", "permission_name"},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "create"},
			{Action: "remove"},
			{Action: "list"},
		},
		DefaultOrder: "role_permission.role_name",
	}
}

func scopeDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "scope",
		Key:    []string{"name"},
		Columns: append([]resource.Column{
			{Table: "scope", Name: "name"},
			{Table: "scope", Name: "label"},
		}, catalogTimestamps("scope")...),
		CreateColumns:    []string{"name", "label"},
		UpdateColumns:    []string{"label"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{"name", "label"},
		Rules: []resource.Rule{
			{Field: "name", Label: "Scope name", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
			{Field: "label", Label: "Label", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
		},
		Authorizers:  adminCRUD(),
		DefaultOrder: "scope.name",
	}
}

func scopePermissionDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "scope_permission",
		Key:    []string{"scope_name", "permission_name"},
		Columns: []resource.Column{
			{Table: "scope_permission", Name: "scope_name"},
			{Table: "scope_permission", Name: "permission_name"},
			{Table: "scope_permission", Name: "created_at"},
		},
		CreateColumns: []string{"scope_name", "permission_name"},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "create"},
			{Action: "remove"},
			{Action: "list"},
		},
		DefaultOrder: "scope_permission.scope_name",
	}
}

func personDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "person",
		Key:    []string{"id"},
		Columns: append([]resource.Column{
			{Table: "person", Name: "id"},
			{Table: "person", Name: "username"},
			{Table: "person", Name: "email"},
			{Table: "person", Name: "full_name"},
			{Table: "person", Name: "is_email_verified"},
		}, catalogTimestamps("person")...),
		CreateColumns:    []string{"id", "username", "email", "full_name", "password_hash", "is_email_verified"},
		UpdateColumns:    []string{"email", "full_name", "is_email_verified", "password_hash"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{"email", "full_name"},
		Rules: []resource.Rule{
			{Field: "email", Label: "Email", Checks: []resource.Check{resource.NotEmpty, resource.IsString, resource.Email}},
			{Field: "full_name", Label: "Full name", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
		},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "get", Scoped: true, OwnershipArg: "id"},
			{Action: "update", Scoped: true, OwnershipArg: "id"},
			{Action: "remove", Scoped: true, OwnershipArg: "id"},
			{Action: "list"},
		},
		DefaultOrder: "person.username",
	}
}

func personRoleDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "person_role",
		Key:    []string{"person_id", "role_name"},
		Columns: []resource.Column{
			{Table: "person_role", Name: "person_id"},
			{Table: "person_role", Name: "role_name"},
			{Table: "person_role", Name: "created_at"},
		},
		CreateColumns: []string{"person_id", "role_name"},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "create"},
			{Action: "remove"},
			{Action: "list"},
		},
		DefaultOrder: "person_role.person_id",
	}
}

func clientDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "client",
		Key:    []string{"id"},
		Columns: append([]resource.Column{
			{Table: "client", Name: "id"},
			{Table: "client", Name: "label"},
			{Table: "client", Name: "is_confidential"},
			{Table: "client", Name: "redirect_urls"},
		}, catalogTimestamps("client")...),
		CreateColumns:    []string{"id", "secret_hash", "label", "is_confidential", "redirect_urls"},
		UpdateColumns:    []string{"label", "is_confidential", "redirect_urls", "secret_hash"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{"label"},
		Rules: []resource.Rule{
			{Field: "label", Label: "Label", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
		},
		Authorizers:  adminCRUD(),
		DefaultOrder: "client.label",
	}
}

func clientRoleDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "client_role",
		Key:    []string{"client_id", "role_name"},
		Columns: []resource.Column{
			{Table: "client_role", Name: "client_id"},
			{Table: "client_role", Name: "role_name"},
			{Table: "client_role", Name: "created_at"},
		},
		CreateColumns: []string{"client_id", "role_name"},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "create"},
			{Action: "remove"},
			{Action: "list"},
		},
		DefaultOrder: "client_role.client_id",
	}
}

func accountDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "account",
		Entity: "account",
		Key:    []string{"person_id"},
		Columns: []resource.Column{
			{Table: "account", Name: "person_id"},
			{Table: "account", Name: "service_level"},
			{Table: "person", Name: "username"},
			{Table: "person", Name: "email"},
			{Table: "person", Name: "full_name"},
			{Table: "person", Name: "is_email_verified"},
			{Table: "service", Name: "label", Alias: "service_label"},
			{Table: "service", Name: "description", Alias: "service_description"},
			{Table: "account", Name: "created_at"},
			{Table: "account", Name: "updated_at"},
		},
		Joins: []resource.Join{
			// Cross-schema joins have to be raw, but they work.
			{Kind: "raw", Fragment: "left join access.person as person on person.id = account.person_id"},
			{Kind: "left", Table: "account.service as service", On: "service.level = account.service_level"},
		},
		CreateColumns:    []string{"person_id", "service_level"},
		UpdateColumns:    []string{"service_level"},
		TouchUpdated:     true,
		ValidateOnCreate: []string{},
		Rules: []resource.Rule{
			{Field: "email", Label: "Email", Checks: []resource.Check{resource.NotEmpty, resource.IsString, resource.Email}},
			{Field: "full_name", Label: "Full name", Checks: []resource.Check{resource.NotEmpty, resource.IsString}},
			{Field: "password", Label: "Password", Checks: []resource.Check{
				resource.NotEmpty,
				resource.IsString,
				resource.MinLength(8),
				passwordComplexity,
			}},
		},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "get", Scoped: true, OwnershipArg: "person_id"},
			{Action: "update", Scoped: true, OwnershipArg: "person_id"},
			{Action: "remove", Scoped: true, OwnershipArg: "person_id"},
			{Action: "list"},
		},
		DefaultOrder: "account.person_id",
	}
}

func tokenGrantDescriptor() resource.Descriptor {
	return resource.Descriptor{
		Schema: "access",
		Entity: "token_grant",
		Key:    []string{"id"},
		Columns: []resource.Column{
			{Table: "token_grant", Name: "id"},
			{Table: "token_grant", Name: "client_id"},
			{Table: "token_grant", Name: "subject_id"},
			{Table: "token_grant", Name: "subject_type"},
			{Table: "token_grant", Name: "lineage_id"},
			{Table: "token_grant", Name: "scope_name"},
			{Table: "token_grant", Name: "issued_at"},
			{Table: "token_grant", Name: "expires_at"},
			{Table: "token_grant", Name: "revoked_at"},
		},
		Authorizers: []resource.AuthorizerSpec{
			{Action: "get", Scoped: true, OwnershipArg: "subject_id"},
			{Action: "list"},
		},
		DefaultOrder: "token_grant.issued_at",
	}
}
