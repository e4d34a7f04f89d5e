package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gatehouse.org/internal/access"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/resource"
)

// DefaultPersonRole is granted to every person created through account
// onboarding.
const DefaultPersonRole = "customer"

type binding struct {
	table    string
	leftCol  string
	rightCol string
}

var (
	rolePermissionBinding  = binding{table: "access.role_permission", leftCol: "role_name", rightCol: "permission_name"}
	scopePermissionBinding = binding{table: "access.scope_permission", leftCol: "scope_name", rightCol: "permission_name"}
	personRoleBinding      = binding{table: "access.person_role", leftCol: "person_id", rightCol: "role_name"}
	clientRoleBinding      = binding{table: "access.client_role", leftCol: "client_id", rightCol: "role_name"}
)

func (c *Catalog) mergeBindings(ctx context.Context, b binding, left string, rights []string) error {
	return resource.RunInTx(ctx, c.db, func(tx *sql.Tx) error {
		query := fmt.Sprintf(
			"insert into %s (%s, %s) values ($1, $2) on conflict do nothing",
			b.table, b.leftCol, b.rightCol,
		)
		for _, right := range rights {
			if _, err := tx.ExecContext(ctx, query, left, right); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Catalog) removeBindings(ctx context.Context, b binding, left string, rights []string) error {
	return resource.RunInTx(ctx, c.db, func(tx *sql.Tx) error {
		query := fmt.Sprintf(
			"delete from %s where %s = $1 and %s = $2",
			b.table, b.leftCol, b.rightCol,
		)
		for _, right := range rights {
			if _, err := tx.ExecContext(ctx, query, left, right); err != nil {
				return err
			}
		}
		return nil
	})
}

// MergeRolePermissions grants permissions to a role, skipping any the
// role already holds. The whole batch is one transaction.
func (c *Catalog) MergeRolePermissions(ctx context.Context, g *access.Gate, roleName string, permissions []string) error {
	if !c.RolePermission.Can("create", g, nil) {
		return access.ErrAuthorization
	}
	return c.mergeBindings(ctx, rolePermissionBinding, roleName, permissions)
}

// RemoveRolePermissions revokes permissions from a role. Absent
// bindings are skipped rather than reported.
func (c *Catalog) RemoveRolePermissions(ctx context.Context, g *access.Gate, roleName string, permissions []string) error {
	if !c.RolePermission.Can("remove", g, nil) {
		return access.ErrAuthorization
	}
	return c.removeBindings(ctx, rolePermissionBinding, roleName, permissions)
}

// MergeScopePermissions adds permissions to a scope's intersection set.
func (c *Catalog) MergeScopePermissions(ctx context.Context, g *access.Gate, scopeName string, permissions []string) error {
	if !c.ScopePermission.Can("create", g, nil) {
		return access.ErrAuthorization
	}
	return c.mergeBindings(ctx, scopePermissionBinding, scopeName, permissions)
}

// RemoveScopePermissions removes permissions from a scope.
func (c *Catalog) RemoveScopePermissions(ctx context.Context, g *access.Gate, scopeName string, permissions []string) error {
	if !c.ScopePermission.Can("remove", g, nil) {
		return access.ErrAuthorization
	}
	return c.removeBindings(ctx, scopePermissionBinding, scopeName, permissions)
}

// MergePersonRoles binds roles to a person; the change is visible at
// the subject's next bind.
func (c *Catalog) MergePersonRoles(ctx context.Context, g *access.Gate, personID string, roles []string) error {
	if !c.PersonRole.Can("create", g, nil) {
		return access.ErrAuthorization
	}
	return c.mergeBindings(ctx, personRoleBinding, personID, roles)
}

// RemovePersonRoles unbinds roles from a person.
func (c *Catalog) RemovePersonRoles(ctx context.Context, g *access.Gate, personID string, roles []string) error {
	if !c.PersonRole.Can("remove", g, nil) {
		return access.ErrAuthorization
	}
	return c.removeBindings(ctx, personRoleBinding, personID, roles)
}

// MergeClientRoles binds roles to a client.
func (c *Catalog) MergeClientRoles(ctx context.Context, g *access.Gate, clientID string, roles []string) error {
	if !c.ClientRole.Can("create", g, nil) {
		return access.ErrAuthorization
	}
	return c.mergeBindings(ctx, clientRoleBinding, clientID, roles)
}

// RemoveClientRoles unbinds roles from a client.
func (c *Catalog) RemoveClientRoles(ctx context.Context, g *access.Gate, clientID string, roles []string) error {
	if !c.ClientRole.Can("remove", g, nil) {
		return access.ErrAuthorization
	}
	return c.removeBindings(ctx, clientRoleBinding, clientID, roles)
}

// CreateAccountArgs carries everything account onboarding needs.
type CreateAccountArgs struct {
	Email        string
	FullName     string
	Password     string
	ServiceLevel string
	BcryptCost   int
}

// CreateAccount onboards a person: the person record, the default role
// binding, and the account row are created in one transaction, so a
// failure at any step leaves nothing behind. Onboarding is open, no
// gate is required.
func (c *Catalog) CreateAccount(ctx context.Context, args CreateAccountArgs) (resource.Row, error) {
	if err := c.Account.Validate(resource.Args{
		"email":     args.Email,
		"full_name": args.FullName,
		"password":  args.Password,
	}, "email", "full_name", "password"); err != nil {
		return nil, err
	}

	hash, err := access.HashSecret(args.Password, args.BcryptCost)
	if err != nil {
		return nil, err
	}
	personID := ids.New()
	// The grant engine looks subjects up by lowercased username, so the
	// stored identity has to match that form.
	username := strings.ToLower(strings.TrimSpace(args.Email))

	var row resource.Row
	err = resource.RunInTx(ctx, c.db, func(tx *sql.Tx) error {
		if _, err := c.Person.WithTx(tx).Create(ctx, nil, resource.Args{
			"id":                personID,
			"username":          username,
			"email":             args.Email,
			"full_name":         args.FullName,
			"password_hash":     hash,
			"is_email_verified": false,
		}); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"insert into access.person_role (person_id, role_name) values ($1, $2)",
			personID, DefaultPersonRole,
		); err != nil {
			return err
		}

		created := resource.Args{"person_id": personID}
		if args.ServiceLevel != "" {
			created["service_level"] = args.ServiceLevel
		}
		row, err = c.Account.WithTx(tx).Create(ctx, nil, created)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CreateClientArgs carries client provisioning inputs. ID is generated
// when empty; Secret is hashed before it touches storage.
type CreateClientArgs struct {
	ID             string
	Secret         string
	Label          string
	IsConfidential bool
	RedirectURLs   string
	BcryptCost     int
}

// CreateClient provisions an API client with a hashed secret.
func (c *Catalog) CreateClient(ctx context.Context, g *access.Gate, args CreateClientArgs) (resource.Row, error) {
	if !c.Client.Can("create", g, nil) {
		return nil, access.ErrAuthorization
	}
	id := args.ID
	if id == "" {
		id = uuid.NewString()
	}
	hash, err := access.HashSecret(args.Secret, args.BcryptCost)
	if err != nil {
		return nil, err
	}
	return c.Client.Create(ctx, g, resource.Args{
		"id":              id,
		"secret_hash":     hash,
		"label":           args.Label,
		"is_confidential": args.IsConfidential,
		"redirect_urls":   args.RedirectURLs,
	})
}
