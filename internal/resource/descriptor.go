package resource

// Args carries named operation inputs keyed by column name.
type Args map[string]any

// Row is a fetched record keyed by output column name (alias when one
// was declared).
type Row map[string]any

// Column projects a table-qualified column, optionally under an alias.
// Cross-schema columns work like any other as long as the joined table
// is declared in Joins.
type Column struct {
	Table string
	Name  string
	Alias string
}

func (c Column) expr() string {
	e := c.Table + "." + c.Name
	if c.Alias != "" {
		e += " as " + c.Alias
	}
	return e
}

func (c Column) output() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Join declares a joined table. Kind is "inner", "left", or "raw"; raw
// joins carry the whole SQL fragment in Fragment and are how
// cross-schema joins are expressed.
type Join struct {
	Kind     string
	Table    string
	On       string
	Fragment string
}

// AuthorizerSpec declares one generated authorizer: the builder derives
// a capability check for the action against the descriptor's entity.
// Scoped specs evaluate the own/any pair using the ownership argument;
// unscoped specs require the "any" variant outright.
type AuthorizerSpec struct {
	Action       string
	Scoped       bool
	OwnershipArg string
}

// Descriptor declares everything the builder needs to produce a full
// CRUD surface for one entity. Adding an entity or an action variant is
// a declaration, not new code.
type Descriptor struct {
	Schema string
	Entity string
	// Table overrides the table name when it differs from Entity.
	Table string
	// Key is the primary key, one column per element. Association
	// tables declare their full composite key so row-level operations
	// address exactly one binding.
	Key []string

	Columns []Column
	Joins   []Join

	CreateColumns []string
	UpdateColumns []string

	// Rules run in declaration order; Create validates ValidateOnCreate
	// fields, Update validates whichever declared fields are present.
	Rules            []Rule
	ValidateOnCreate []string

	Authorizers []AuthorizerSpec

	// TouchUpdated stamps updated_at on every update.
	TouchUpdated bool

	// DefaultOrder is the ORDER BY applied when a list request names no
	// column; it defaults to the key.
	DefaultOrder string
}

func (d Descriptor) table() string {
	name := d.Table
	if name == "" {
		name = d.Entity
	}
	if d.Schema != "" {
		return d.Schema + "." + name
	}
	return name
}
