package target

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
)

// ValidationRule is one configured check against a record field.
type ValidationRule struct {
	Field     string   `yaml:"field"`
	Rule      string   `yaml:"rule"` // required, type, format, length, range, allowed
	FieldType string   `yaml:"field_type,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty"`
	Min       *float64 `yaml:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty"`
	Allowed   []string `yaml:"allowed,omitempty"`
}

// ValidateRecord runs every configured rule against the record fields.
// The first failing rule wins.
func ValidateRecord(fields map[string]any, rules []ValidationRule) error {
	for _, rule := range rules {
		if err := rule.check(fields); err != nil {
			return err
		}
	}
	return nil
}

func (r ValidationRule) check(fields map[string]any) error {
	value, present := fields[r.Field]

	switch r.Rule {
	case "required":
		if !present || value == nil || value == "" {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "required",
				Message: "field is required",
			}
		}

	case "type":
		if !present || value == nil {
			return nil
		}
		if !matchesType(value, r.FieldType) {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "type",
				Message: fmt.Sprintf("expected %s, got %T", r.FieldType, value),
			}
		}

	case "format":
		if !present || value == nil {
			return nil
		}
		s := fmt.Sprintf("%v", value)
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "format",
				Message: fmt.Sprintf("invalid pattern: %v", err),
			}
		}
		if !re.MatchString(s) {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "format",
				Message: fmt.Sprintf("value %q does not match %s", s, r.Pattern),
			}
		}

	case "length":
		if !present || value == nil {
			return nil
		}
		n := float64(len(fmt.Sprintf("%v", value)))
		if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "length",
				Message: fmt.Sprintf("length %d out of bounds", int(n)),
			}
		}

	case "range":
		if !present || value == nil {
			return nil
		}
		n, ok := toNumber(value)
		if !ok {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "range",
				Message: fmt.Sprintf("value %v is not numeric", value),
			}
		}
		if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
			return &domain.ValidationError{
				Field:   r.Field,
				Rule:    "range",
				Message: fmt.Sprintf("value %v out of bounds", value),
			}
		}

	case "allowed":
		if !present || value == nil {
			return nil
		}
		s := fmt.Sprintf("%v", value)
		for _, a := range r.Allowed {
			if s == a {
				return nil
			}
		}
		return &domain.ValidationError{
			Field:   r.Field,
			Rule:    "allowed",
			Message: fmt.Sprintf("value %q not in allowed set", s),
		}
	}

	return nil
}

func matchesType(value any, fieldType string) bool {
	switch fieldType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := toNumber(value)
		return ok
	case "boolean":
		switch value.(type) {
		case bool:
			return true
		}
		s, ok := value.(string)
		if !ok {
			return false
		}
		_, err := strconv.ParseBool(s)
		return err == nil
	case "date":
		s, ok := value.(string)
		if !ok {
			_, isTime := value.(time.Time)
			return isTime
		}
		_, err := parseDate(s)
		return err == nil
	default:
		return true
	}
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
