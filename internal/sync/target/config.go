package target

// Strategy is the policy for handling a unique-key collision on create.
type Strategy string

const (
	StrategyCreate Strategy = "create" // create-only, collisions propagate as errors
	StrategyUpdate Strategy = "update"
	StrategySkip   Strategy = "skip"
	StrategyError  Strategy = "error"
)

// Config holds target-side processing settings for one run.
type Config struct {
	UniqueField               string            `yaml:"unique_field"`
	CreateAction              string            `yaml:"create_action"`
	UpdateAction              string            `yaml:"update_action"`
	FieldMapping              map[string]string `yaml:"field_mapping"`
	Transformations           []TransformSpec   `yaml:"transformations"`
	DuplicateStrategy         Strategy          `yaml:"duplicate_strategy"`
	ValidationRules           []ValidationRule  `yaml:"validation_rules"`
	ContinueOnValidationError bool              `yaml:"continue_on_validation_error"`
}

// MapFields maps source fields to target attributes. With no explicit
// mapping configured, every source field maps to itself.
func (c Config) MapFields(fields map[string]any) map[string]any {
	if len(c.FieldMapping) == 0 {
		out := make(map[string]any, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	}

	out := make(map[string]any, len(c.FieldMapping))
	for src, dst := range c.FieldMapping {
		if v, ok := fields[src]; ok {
			out[dst] = v
		}
	}
	return out
}
