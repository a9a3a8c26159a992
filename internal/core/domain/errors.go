package domain

import (
	"errors"
	"fmt"
)

// DuplicateKeyError signals a uniqueness violation on the target's
// unique field during create. Checked structurally, never by matching
// error message substrings.
type DuplicateKeyError struct {
	Field string
	Value string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key on %s=%q", e.Field, e.Value)
}

// IsDuplicateKey reports whether err wraps a DuplicateKeyError.
func IsDuplicateKey(err error) bool {
	var dup *DuplicateKeyError
	return errors.As(err, &dup)
}

// ValidationError signals a record failing a configured validation rule.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s (%s): %s", e.Field, e.Rule, e.Message)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// FieldError is one entry in a config validation failure list.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"error"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Rule)
}

// ConfigError aggregates field errors from config validation.
type ConfigError struct {
	Fields []FieldError
}

func (e *ConfigError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("invalid config: %s", e.Fields[0].Error())
	}
	return fmt.Sprintf("invalid config: %d field errors (first: %s)", len(e.Fields), e.Fields[0].Error())
}
