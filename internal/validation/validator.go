// Package validation checks request input against declarative field schemas
// and reports every rejected field with a human readable message.
package validation

import (
	"sort"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/spec-kit/account-service/pkg/util/errorutil"
)

// FieldType is the expected shape of an input value.
type FieldType int

const (
	TypeString FieldType = iota
	TypeStringList
	TypeObject
)

// Messages are the texts reported for each kind of rejection.
type Messages struct {
	Required   string
	Type       string
	Constraint string
}

// Rule describes one field. Tag holds validator constraints applied after the
// type check. Objects names members of a TypeObject field that must be
// objects themselves when present.
type Rule struct {
	Type     FieldType
	Required bool
	Tag      string
	Objects  []string
	Messages Messages
}

// Schema maps field names to rules.
type Schema map[string]Rule

// Pick returns the subset of the schema for the named fields.
func (s Schema) Pick(fields ...string) Schema {
	out := make(Schema, len(fields))
	for _, f := range fields {
		if rule, ok := s[f]; ok {
			out[f] = rule
		}
	}
	return out
}

// Input is the decoded payload being validated.
type Input map[string]any

// Validator validates inputs against schemas.
type Validator struct {
	validate *validator.Validate
}

// New builds a validator.
func New() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks input against the schema restricted to fields, or the
// whole schema when no fields are named. It returns a VALIDATION_FAILED
// domain error listing every offending field.
func (v *Validator) Validate(schema Schema, input Input, fields ...string) error {
	if len(fields) == 0 {
		for name := range schema {
			fields = append(fields, name)
		}
		sort.Strings(fields)
	}

	var failures []apperrors.FieldError
	for _, field := range fields {
		rule, ok := schema[field]
		if !ok {
			continue
		}
		if msg, ok := v.check(rule, input[field]); !ok {
			failures = append(failures, apperrors.FieldError{Field: field, Message: msg})
		}
	}

	if len(failures) > 0 {
		return apperrors.NewValidationError("Validation failed.", failures)
	}
	return nil
}

func (v *Validator) check(rule Rule, value any) (string, bool) {
	if value == nil {
		if rule.Required {
			return rule.Messages.Required, false
		}
		return "", true
	}

	normalized, ok := coerce(rule.Type, value)
	if !ok {
		return firstMessage(rule.Messages.Type, rule.Messages.Constraint, rule.Messages.Required), false
	}
	if !membersAreObjects(normalized, rule.Objects) {
		return firstMessage(rule.Messages.Type, rule.Messages.Constraint, rule.Messages.Required), false
	}

	if rule.Tag == "" {
		return "", true
	}
	if err := v.validate.Var(normalized, rule.Tag); err != nil {
		return firstMessage(rule.Messages.Constraint, rule.Messages.Type, rule.Messages.Required), false
	}
	return "", true
}

func coerce(t FieldType, value any) (any, bool) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeStringList:
		switch list := value.(type) {
		case []string:
			return list, true
		case []any:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, false
				}
				out = append(out, s)
			}
			return out, true
		}
		return nil, false
	case TypeObject:
		m, ok := value.(map[string]any)
		return m, ok
	}
	return nil, false
}

// membersAreObjects rejects explicit nulls too, so a member is never
// silently replaced with an empty object.
func membersAreObjects(value any, members []string) bool {
	m, _ := value.(map[string]any)
	for _, name := range members {
		member, present := m[name]
		if !present {
			continue
		}
		if _, ok := member.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func firstMessage(candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return "invalid value"
}
