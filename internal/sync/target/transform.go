package target

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TransformSpec is one configured field transformation, applied in
// configured order before field mapping.
type TransformSpec struct {
	Type   string `yaml:"type"` // trim, lowercase, uppercase, date, boolean, number, rename, extract
	Field  string `yaml:"field"`
	To     string `yaml:"to,omitempty"`     // rename/extract target
	Format string `yaml:"format,omitempty"` // date input layout hint
}

// dateLayouts are tried in order when no explicit format is configured.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01/02/2006",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", s)
}

// ApplyTransforms runs the configured transformations over the field
// map in order. A failure aborts processing of this record only.
func ApplyTransforms(fields map[string]any, specs []TransformSpec) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}

	for _, spec := range specs {
		if err := spec.apply(out); err != nil {
			return nil, fmt.Errorf("transform %s on %s: %w", spec.Type, spec.Field, err)
		}
	}
	return out, nil
}

func (s TransformSpec) apply(fields map[string]any) error {
	value, present := fields[s.Field]

	switch s.Type {
	case "trim":
		if str, ok := value.(string); ok {
			fields[s.Field] = strings.TrimSpace(str)
		}

	case "lowercase":
		if str, ok := value.(string); ok {
			fields[s.Field] = strings.ToLower(str)
		}

	case "uppercase":
		if str, ok := value.(string); ok {
			fields[s.Field] = strings.ToUpper(str)
		}

	case "date":
		if !present || value == nil {
			return nil
		}
		str, ok := value.(string)
		if !ok {
			if t, isTime := value.(time.Time); isTime {
				fields[s.Field] = t.Format(time.RFC3339)
				return nil
			}
			return fmt.Errorf("value %v is not a date string", value)
		}
		if s.Format != "" {
			t, err := time.Parse(s.Format, str)
			if err != nil {
				return err
			}
			fields[s.Field] = t.Format(time.RFC3339)
			return nil
		}
		t, err := parseDate(str)
		if err != nil {
			return err
		}
		fields[s.Field] = t.Format(time.RFC3339)

	case "boolean":
		if !present || value == nil {
			return nil
		}
		switch v := value.(type) {
		case bool:
		case string:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(v)))
			if err != nil {
				switch strings.ToLower(strings.TrimSpace(v)) {
				case "yes", "y":
					b = true
				case "no", "n":
					b = false
				default:
					return fmt.Errorf("value %q is not a boolean", v)
				}
			}
			fields[s.Field] = b
		default:
			return fmt.Errorf("value %v is not a boolean", v)
		}

	case "number":
		if !present || value == nil {
			return nil
		}
		n, ok := toNumber(value)
		if !ok {
			return fmt.Errorf("value %v is not numeric", value)
		}
		fields[s.Field] = n

	case "rename":
		if !present {
			return nil
		}
		if s.To == "" {
			return fmt.Errorf("rename requires a target field")
		}
		fields[s.To] = value
		delete(fields, s.Field)

	case "extract":
		// Pull a key out of a nested map into a top-level field.
		if !present {
			return nil
		}
		nested, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("field %s is not a map", s.Field)
		}
		if s.To == "" {
			return fmt.Errorf("extract requires a target field")
		}
		parts := strings.SplitN(s.To, ":", 2)
		key := parts[0]
		dst := key
		if len(parts) == 2 {
			dst = parts[1]
		}
		if v, ok := nested[key]; ok {
			fields[dst] = v
		}

	default:
		return fmt.Errorf("unknown transform type %q", s.Type)
	}

	return nil
}
