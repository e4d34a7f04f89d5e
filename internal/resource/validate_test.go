package resource

import (
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatehouse.org/internal/access"
)

func validatingResource(t *testing.T) *Resource {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r, err := New(db, Descriptor{
		Schema: "access",
		Entity: "person",
		Key:    []string{"id"},
		Columns: []Column{
			{Table: "person", Name: "id"},
		},
		Rules: []Rule{
			{Field: "email", Label: "Email", Checks: []Check{NotEmpty, IsString, Email}},
			{Field: "full_name", Label: "Full name", Checks: []Check{NotEmpty, IsString}},
			{Field: "nickname", Checks: []Check{MinLength(3)}},
			{Field: "kind", Label: "Kind", Checks: []Check{OneOf("person", "client")}},
			{Field: "id", Label: "ID", Checks: []Check{Matches(regexp.MustCompile(`^[0-9A-Z]+$`), "must be an upper-case identifier")}},
		},
	}, nil)
	require.NoError(t, err)
	return r
}

func TestValidateFirstFailureWins(t *testing.T) {
	r := validatingResource(t)

	// Both fields invalid; declaration order decides which is reported.
	err := r.Validate(Args{"email": "not-an-email", "full_name": ""}, "email", "full_name")
	require.Error(t, err)
	var ve *access.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)
	assert.Contains(t, ve.Message, "Email")
}

func TestValidateChecksRunInOrder(t *testing.T) {
	r := validatingResource(t)

	// NotEmpty fires before Email for a missing value.
	err := r.Validate(Args{}, "email")
	var ve *access.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "required")

	err = r.Validate(Args{"email": 42}, "email")
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "text")
}

func TestValidateOnlyPresentFieldsByDefault(t *testing.T) {
	r := validatingResource(t)

	// Without an explicit field list, absent fields are skipped.
	assert.NoError(t, r.Validate(Args{"full_name": "Ada Lovelace"}))
	assert.Error(t, r.Validate(Args{"email": "nope"}))
}

func TestValidateLabelFallsBackToField(t *testing.T) {
	r := validatingResource(t)

	err := r.Validate(Args{"nickname": "ab"})
	var ve *access.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "nickname")
}

func TestValidateOneOfAndMatches(t *testing.T) {
	r := validatingResource(t)

	assert.NoError(t, r.Validate(Args{"kind": "person"}))
	assert.Error(t, r.Validate(Args{"kind": "robot"}))

	assert.NoError(t, r.Validate(Args{"id": "01ARZ3NDEKTSV"}))
	assert.Error(t, r.Validate(Args{"id": "lower-case"}))
}

func TestValidatePassesCleanArgs(t *testing.T) {
	r := validatingResource(t)
	assert.NoError(t, r.Validate(Args{
		"email":     "ada@example.com",
		"full_name": "Ada Lovelace",
	}, "email", "full_name"))
}

func TestMinLengthCountsRunes(t *testing.T) {
	check := MinLength(8)

	// Seven Cyrillic characters span more than eight bytes but are
	// still one character short.
	assert.NotEmpty(t, check("Password", "пароль7"))
	assert.Empty(t, check("Password", "пароль№8!"))
	assert.Empty(t, check("Password", "exactly8"))
	assert.NotEmpty(t, check("Password", "seven77"))
}
