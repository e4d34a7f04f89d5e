package resource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/access"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"

	defaultListLimit = 25
	maxListLimit     = 100
)

// DBTX is satisfied by *sql.DB and *sql.Tx so every operation can run
// inside a caller-owned transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Resource is the CRUD surface the builder produces for one entity:
// get, list, create, update, remove, validate, and the generated
// authorizers, all wired to the same descriptor.
type Resource struct {
	db   DBTX
	desc Descriptor

	selectList string
	fromClause string
	colByName  map[string]Column
	authz      map[string]AuthorizerSpec
}

// New builds a Resource from its descriptor and registers the declared
// authorizer capabilities into the registry. The declaration table is
// walked exactly once, at startup.
func New(db DBTX, desc Descriptor, registry *access.Registry) (*Resource, error) {
	if db == nil {
		return nil, errors.New("resource: db handle is required")
	}
	if desc.Entity == "" || len(desc.Key) == 0 {
		return nil, errors.New("resource: entity and key are required")
	}
	if len(desc.Columns) == 0 {
		return nil, fmt.Errorf("resource: %s declares no columns", desc.Entity)
	}

	r := &Resource{
		db:        db,
		desc:      desc,
		colByName: make(map[string]Column, len(desc.Columns)),
		authz:     make(map[string]AuthorizerSpec, len(desc.Authorizers)),
	}

	exprs := make([]string, 0, len(desc.Columns))
	for _, col := range desc.Columns {
		exprs = append(exprs, col.expr())
		r.colByName[col.output()] = col
	}
	r.selectList = strings.Join(exprs, ", ")

	from := desc.table()
	base := desc.Table
	if base == "" {
		base = desc.Entity
	}
	if base != desc.Entity || desc.Schema != "" {
		from += " as " + desc.Entity
	}
	for _, join := range desc.Joins {
		switch join.Kind {
		case "raw":
			from += " " + join.Fragment
		case "left":
			from += " left join " + join.Table + " on " + join.On
		case "inner":
			from += " inner join " + join.Table + " on " + join.On
		default:
			return nil, fmt.Errorf("resource: %s declares unknown join kind %q", desc.Entity, join.Kind)
		}
	}
	r.fromClause = from

	for _, spec := range desc.Authorizers {
		if spec.Action == "" {
			return nil, fmt.Errorf("resource: %s declares an authorizer without an action", desc.Entity)
		}
		if spec.Scoped && spec.OwnershipArg == "" {
			return nil, fmt.Errorf("resource: %s scoped authorizer %q needs an ownership argument", desc.Entity, spec.Action)
		}
		r.authz[spec.Action] = spec
		if registry != nil {
			if spec.Scoped {
				registry.Register(
					access.Capability{Action: spec.Action, Qualifier: access.QualifierAny, Entity: desc.Entity},
					access.Capability{Action: spec.Action, Qualifier: access.QualifierOwn, Entity: desc.Entity},
				)
			} else {
				registry.Register(
					access.Capability{Action: spec.Action, Qualifier: access.QualifierAny, Entity: desc.Entity},
				)
			}
		}
	}

	return r, nil
}

// Entity returns the logical entity name.
func (r *Resource) Entity() string {
	return r.desc.Entity
}

// WithTx returns a copy of the resource bound to a caller-owned
// transaction. The caller owns commit and rollback.
func (r *Resource) WithTx(tx *sql.Tx) *Resource {
	clone := *r
	clone.db = tx
	return &clone
}

// Can evaluates the generated authorizer for an operation. Operations
// without a declared authorizer are denied, and a nil gate denies
// everything, so an unauthorized read of a missing row and of an
// existing-but-not-owned row are indistinguishable.
func (r *Resource) Can(action string, g *access.Gate, args Args) bool {
	spec, ok := r.authz[action]
	if !ok || g == nil {
		return false
	}
	ownerID := ""
	if spec.Scoped {
		ownerID = stringValue(args[spec.OwnershipArg])
	}
	return g.Can(spec.Action, r.desc.Entity, ownerID)
}

func (r *Resource) authorize(action string, g *access.Gate, args Args) error {
	if _, declared := r.authz[action]; !declared {
		return nil
	}
	if !r.Can(action, g, args) {
		return access.ErrAuthorization
	}
	return nil
}

// keyValues pulls every key component out of args, in declaration
// order. The first missing component is a validation failure.
func (r *Resource) keyValues(args Args) ([]any, error) {
	values := make([]any, 0, len(r.desc.Key))
	for _, key := range r.desc.Key {
		value, ok := args[key]
		if !ok || value == nil {
			return nil, &access.ValidationError{Field: key, Message: key + " is required"}
		}
		values = append(values, value)
	}
	return values, nil
}

// keyWhere renders the key predicate with the columns qualified by
// prefix, binding placeholders starting after the supplied offset.
func (r *Resource) keyWhere(prefix string, offset int) string {
	clauses := make([]string, 0, len(r.desc.Key))
	for i, key := range r.desc.Key {
		col := key
		if prefix != "" {
			col = prefix + "." + key
		}
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, offset+i+1))
	}
	return strings.Join(clauses, " and ")
}

// Get fetches a row by key. A missing row is (nil, nil), not an error;
// the caller decides whether absence matters.
func (r *Resource) Get(ctx context.Context, g *access.Gate, args Args) (Row, error) {
	if err := r.authorize("get", g, args); err != nil {
		return nil, err
	}
	keyVals, err := r.keyValues(args)
	if err != nil {
		return nil, err
	}
	return r.fetchByKey(ctx, keyVals)
}

func (r *Resource) fetchByKey(ctx context.Context, keyVals []any) (Row, error) {
	query := fmt.Sprintf(
		"select %s from %s where %s",
		r.selectList, r.fromClause, r.keyWhere(r.desc.Entity, 0),
	)
	rows, err := r.db.QueryContext(ctx, query, keyVals...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}
	return result[0], nil
}

// ListArgs carries pagination and equality filters for List.
type ListArgs struct {
	Filter  Args
	Limit   int
	Offset  int
	OrderBy string
}

// Page is one page of results plus pagination metadata.
type Page struct {
	Items   []Row `json:"items"`
	Total   int   `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// List fetches a filtered page. Filters are equality predicates on
// declared output columns; anything undeclared is rejected rather than
// interpolated.
func (r *Resource) List(ctx context.Context, g *access.Gate, q ListArgs) (Page, error) {
	if err := r.authorize("list", g, q.Filter); err != nil {
		return Page{}, err
	}

	var (
		clauses []string
		binds   []any
	)
	for name, value := range q.Filter {
		col, ok := r.colByName[name]
		if !ok {
			return Page{}, &access.ValidationError{Field: name, Message: "unknown filter column"}
		}
		clauses = append(clauses, fmt.Sprintf("%s.%s = $%d", col.Table, col.Name, len(binds)+1))
		binds = append(binds, value)
	}
	where := ""
	if len(clauses) > 0 {
		where = " where " + strings.Join(clauses, " and ")
	}

	var total int
	countQuery := "select count(*) from " + r.fromClause + where
	if err := r.db.QueryRowContext(ctx, countQuery, binds...).Scan(&total); err != nil {
		return Page{}, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	order := r.desc.DefaultOrder
	if q.OrderBy != "" {
		col, ok := r.colByName[q.OrderBy]
		if !ok {
			return Page{}, &access.ValidationError{Field: q.OrderBy, Message: "unknown order column"}
		}
		order = col.Table + "." + col.Name
	}
	if order == "" {
		order = r.desc.Entity + "." + r.desc.Key[0]
	}

	query := fmt.Sprintf(
		"select %s from %s%s order by %s limit %d offset %d",
		r.selectList, r.fromClause, where, order, limit, offset,
	)
	rows, err := r.db.QueryContext(ctx, query, binds...)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()
	items, err := scanRows(rows)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(items) < total,
	}, nil
}

// Create validates, inserts, and returns the created row including
// generated fields. A unique violation maps to ErrConflict and a
// foreign-key violation to ErrNotFound. Validation runs before any
// write, so a failure never leaves a partial mutation.
func (r *Resource) Create(ctx context.Context, g *access.Gate, args Args) (Row, error) {
	if err := r.authorize("create", g, args); err != nil {
		return nil, err
	}
	if err := r.Validate(args, r.desc.ValidateOnCreate...); err != nil {
		return nil, err
	}

	var (
		cols   []string
		marks  []string
		values []any
	)
	for _, col := range r.desc.CreateColumns {
		value, ok := args[col]
		if !ok {
			continue
		}
		cols = append(cols, col)
		marks = append(marks, fmt.Sprintf("$%d", len(values)+1))
		values = append(values, value)
	}
	if len(cols) == 0 {
		return nil, &access.ValidationError{Field: r.desc.Key[0], Message: "no creatable columns supplied"}
	}

	query := fmt.Sprintf(
		"insert into %s (%s) values (%s) returning %s",
		r.desc.table(), strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(r.desc.Key, ", "),
	)
	keyVals := make([]any, len(r.desc.Key))
	ptrs := make([]any, len(keyVals))
	for i := range keyVals {
		ptrs[i] = &keyVals[i]
	}
	if err := r.db.QueryRowContext(ctx, query, values...).Scan(ptrs...); err != nil {
		return nil, mapPgError(err)
	}
	for i, v := range keyVals {
		if b, ok := v.([]byte); ok {
			keyVals[i] = string(b)
		}
	}
	return r.fetchByKey(ctx, keyVals)
}

// Update partially updates by key: only declared update columns present
// in args are touched, everything else is left alone.
func (r *Resource) Update(ctx context.Context, g *access.Gate, args Args) (Row, error) {
	if err := r.authorize("update", g, args); err != nil {
		return nil, err
	}
	keyVals, err := r.keyValues(args)
	if err != nil {
		return nil, err
	}

	var present []string
	for _, col := range r.desc.UpdateColumns {
		if _, ok := args[col]; ok {
			present = append(present, col)
		}
	}
	if len(present) == 0 {
		return nil, &access.ValidationError{Field: r.desc.Key[0], Message: "no updatable columns supplied"}
	}
	if err := r.Validate(args, present...); err != nil {
		return nil, err
	}

	var (
		sets   []string
		values []any
	)
	for _, col := range present {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(values)+1))
		values = append(values, args[col])
	}
	if r.desc.TouchUpdated {
		sets = append(sets, "updated_at = now()")
	}
	where := r.keyWhere("", len(values))
	values = append(values, keyVals...)

	query := fmt.Sprintf(
		"update %s set %s where %s",
		r.desc.table(), strings.Join(sets, ", "), where,
	)
	res, err := r.db.ExecContext(ctx, query, values...)
	if err != nil {
		return nil, mapPgError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, access.ErrNotFound
	}
	return r.fetchByKey(ctx, keyVals)
}

// Remove deletes by key, every component of it, so a composite-keyed
// binding is removed one row at a time. A missing row is ErrNotFound;
// the policy is uniform across every entity built from a descriptor.
func (r *Resource) Remove(ctx context.Context, g *access.Gate, args Args) error {
	if err := r.authorize("remove", g, args); err != nil {
		return err
	}
	keyVals, err := r.keyValues(args)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("delete from %s where %s", r.desc.table(), r.keyWhere("", 0))
	res, err := r.db.ExecContext(ctx, query, keyVals...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return access.ErrNotFound
	}
	return nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, name := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[name] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return access.ErrConflict
		case pgErrForeignKeyViolation:
			return access.ErrNotFound
		}
	}
	return err
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
