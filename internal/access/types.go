package access

import "time"

// Permission is an immutable catalog entry naming a single capability.
type Permission struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role groups permissions. A role with IsAdministrative set grants
// universal bypass on every capability check.
type Role struct {
	Name             string    `json:"name"`
	Label            string    `json:"label"`
	IsAdministrative bool      `json:"is_administrative"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	RoleName       string    `json:"role_name"`
	PermissionName string    `json:"permission_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Scope is a named, reusable subset of permissions used to narrow a
// token's delegated rights below the subject's full privilege set.
type Scope struct {
	Name      string    `json:"name"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScopePermission links a scope to a permission.
type ScopePermission struct {
	ScopeName      string    `json:"scope_name"`
	PermissionName string    `json:"permission_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Person is a human subject that can hold roles and authenticate.
type Person struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	FullName        string    `json:"full_name"`
	PasswordHash    string    `json:"-"`
	IsEmailVerified bool      `json:"is_email_verified"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Client is an API consumer, including the system's own first-party
// consumer. Confidential clients authenticate with a secret.
type Client struct {
	ID             string    `json:"id"`
	SecretHash     string    `json:"-"`
	Label          string    `json:"label"`
	IsConfidential bool      `json:"is_confidential"`
	RedirectURLs   string    `json:"redirect_urls"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// PersonRole binds a human subject to a role.
type PersonRole struct {
	PersonID  string    `json:"person_id"`
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientRole binds an API-client subject to a role.
type ClientRole struct {
	ClientID  string    `json:"client_id"`
	RoleName  string    `json:"role_name"`
	CreatedAt time.Time `json:"created_at"`
}
