package resource

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gatehouse.org/internal/access"
)

// Check inspects one field value and returns a human-readable failure
// message, or "" when the value passes.
type Check func(label string, value any) string

// Rule is one field's validator chain. Checks run in declaration order
// and the first failure wins.
type Rule struct {
	Field  string
	Label  string
	Checks []Check
}

var emailExpression = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// NotEmpty fails on nil values and blank strings.
func NotEmpty(label string, value any) string {
	if value == nil {
		return label + " is required"
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return label + " is required"
	}
	return ""
}

// IsString fails on any non-string value.
func IsString(label string, value any) string {
	if value == nil {
		return ""
	}
	if _, ok := value.(string); !ok {
		return label + " must be text"
	}
	return ""
}

// Email fails on values that are not a plausible email address.
func Email(label string, value any) string {
	s, ok := value.(string)
	if !ok || !emailExpression.MatchString(s) {
		return label + " must be a valid email address"
	}
	return ""
}

// MinLength requires at least n characters. Characters are runes, so
// multibyte input is counted the way a person would count it.
func MinLength(n int) Check {
	return func(label string, value any) string {
		s, _ := value.(string)
		if utf8.RuneCountInString(s) < n {
			return fmt.Sprintf("%s must be at least %d characters", label, n)
		}
		return ""
	}
}

// Matches requires the value to match the expression, failing with the
// supplied message.
func Matches(re *regexp.Regexp, message string) Check {
	return func(label string, value any) string {
		s, ok := value.(string)
		if !ok || !re.MatchString(s) {
			return label + ": " + message
		}
		return ""
	}
}

// OneOf requires the value to be one of the listed options.
func OneOf(options ...string) Check {
	return func(label string, value any) string {
		s, _ := value.(string)
		for _, opt := range options {
			if s == opt {
				return ""
			}
		}
		return fmt.Sprintf("%s must be one of %s", label, strings.Join(options, ", "))
	}
}

// Validate runs the descriptor's rules against args in declaration
// order. When fields is non-empty only those rules run; otherwise every
// rule whose field is present in args runs. The first failing field is
// returned as a ValidationError.
func (r *Resource) Validate(args Args, fields ...string) error {
	only := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		only[f] = struct{}{}
	}
	for _, rule := range r.desc.Rules {
		if len(only) > 0 {
			if _, ok := only[rule.Field]; !ok {
				continue
			}
		} else if _, present := args[rule.Field]; !present {
			continue
		}
		label := rule.Label
		if label == "" {
			label = rule.Field
		}
		value := args[rule.Field]
		for _, check := range rule.Checks {
			if msg := check(label, value); msg != "" {
				return &access.ValidationError{Field: rule.Field, Message: msg}
			}
		}
	}
	return nil
}
