package config

import (
	"fmt"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
	redisclient "github.com/vietddude/syncd/internal/infra/redis"
	"github.com/vietddude/syncd/internal/infra/storage/postgres"
	"github.com/vietddude/syncd/internal/sync/retry"
	"github.com/vietddude/syncd/internal/sync/target"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Sync     SyncConfig         `yaml:"sync"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SyncConfig describes one sync run. It is validated once before
// execution; an invalid config never reaches the orchestrator.
type SyncConfig struct {
	SourceAdapter  string           `yaml:"source_adapter"`
	SourceConfig   map[string]any   `yaml:"source_config"`
	TargetResource string           `yaml:"target_resource"`
	Target         target.Config    `yaml:"target_config"`
	Processing     ProcessingConfig `yaml:"processing_config"`
	RetryPolicy    RetryPolicy      `yaml:"retry_policy"`
	CircuitBreaker BreakerConfig    `yaml:"circuit_breaker"`
	Session        SessionConfig    `yaml:"session_config"`
}

// ProcessingConfig bounds batch shape and error tolerance for a run.
type ProcessingConfig struct {
	BatchSize            int                    `yaml:"batch_size"`
	Limit                int                    `yaml:"limit"`
	EnableErrorRecovery  bool                   `yaml:"enable_error_recovery"`
	ContinueOnBatchError bool                   `yaml:"continue_on_batch_error"`
	Parallel             bool                   `yaml:"parallel"`
	Filters              []FilterSpec           `yaml:"filters"`
	Transformations      []target.TransformSpec `yaml:"transformations"`
}

// FilterSpec drops source records before batching. Unknown operators
// are logged and skipped rather than failing the run.
type FilterSpec struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"` // eq, neq, contains, exists, in
	Value any    `yaml:"value"`
}

// RetryPolicy is the wire shape of a retry policy; durations are
// expressed in milliseconds.
type RetryPolicy struct {
	Type        string  `yaml:"type"` // fixed, linear, exponential
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	IncrementMs int     `yaml:"increment_ms"`
	MaxAttempts int     `yaml:"max_attempts"`
	Jitter      bool    `yaml:"jitter"`
}

// BreakerConfig is the wire shape of the circuit-breaker settings.
type BreakerConfig struct {
	FailureThreshold int     `yaml:"failure_threshold"`
	CoolDownMs       int     `yaml:"cool_down_ms"`
	BatchFailureRate float64 `yaml:"batch_failure_rate"`
}

// SessionConfig carries session metadata.
type SessionConfig struct {
	SyncType    string `yaml:"sync_type"`
	InitiatedBy string `yaml:"initiated_by"`
}

// ToPolicy converts the wire shape into an engine policy. A zero
// policy yields nil so the engine falls back to classifier suggestions.
func (p RetryPolicy) ToPolicy() *retry.Policy {
	if p.Type == "" && p.MaxAttempts == 0 {
		return nil
	}
	out := retry.Policy{
		Type:        retry.PolicyType(p.Type),
		BaseDelay:   time.Duration(p.BaseDelayMs) * time.Millisecond,
		MaxDelay:    time.Duration(p.MaxDelayMs) * time.Millisecond,
		Multiplier:  p.Multiplier,
		Increment:   time.Duration(p.IncrementMs) * time.Millisecond,
		MaxAttempts: p.MaxAttempts,
		Jitter:      p.Jitter,
	}
	if out.Type == "" {
		out.Type = retry.PolicyExponential
	}
	if out.BaseDelay == 0 {
		out.BaseDelay = retry.DefaultPolicy.BaseDelay
	}
	if out.MaxAttempts == 0 {
		out.MaxAttempts = retry.DefaultPolicy.MaxAttempts
	}
	return &out
}

// ToBreakerConfig converts the wire shape into breaker settings,
// filling defaults for unset fields.
func (b BreakerConfig) ToBreakerConfig() retry.BreakerConfig {
	out := retry.BreakerConfig{
		FailureThreshold: b.FailureThreshold,
		CoolDown:         time.Duration(b.CoolDownMs) * time.Millisecond,
		BatchFailureRate: b.BatchFailureRate,
	}
	if out.FailureThreshold == 0 {
		out.FailureThreshold = 5
	}
	if out.CoolDown == 0 {
		out.CoolDown = 30 * time.Second
	}
	return out
}

var validPolicyTypes = map[string]bool{"": true, "fixed": true, "linear": true, "exponential": true}

var validStrategies = map[target.Strategy]bool{
	"":                    true,
	target.StrategyCreate: true,
	target.StrategyUpdate: true,
	target.StrategySkip:   true,
	target.StrategyError:  true,
}

var validFilterOps = map[string]bool{"eq": true, "neq": true, "contains": true, "exists": true, "in": true}

// Validate checks the run config and returns every violation found.
// An empty slice means the config is safe to execute.
func (c SyncConfig) Validate() []domain.FieldError {
	var errs []domain.FieldError

	add := func(field, rule, msg string) {
		errs = append(errs, domain.FieldError{Field: field, Rule: rule, Message: msg})
	}

	if c.SourceAdapter == "" {
		add("source_adapter", "required", "source adapter handle is required")
	}
	if c.TargetResource == "" {
		add("target_resource", "required", "target resource handle is required")
	}
	if c.Target.UniqueField == "" {
		add("target_config.unique_field", "required", "unique field is required for duplicate detection")
	}
	if !validStrategies[c.Target.DuplicateStrategy] {
		add("target_config.duplicate_strategy", "allowed",
			fmt.Sprintf("unknown duplicate strategy %q", c.Target.DuplicateStrategy))
	}

	if c.Processing.BatchSize < 1 || c.Processing.BatchSize > 1000 {
		add("processing_config.batch_size", "range",
			fmt.Sprintf("batch size %d out of range 1..1000", c.Processing.BatchSize))
	}
	if c.Processing.Limit != 0 && (c.Processing.Limit < 1 || c.Processing.Limit > 100000) {
		add("processing_config.limit", "range",
			fmt.Sprintf("limit %d out of range 1..100000", c.Processing.Limit))
	}

	if !validPolicyTypes[c.RetryPolicy.Type] {
		add("retry_policy.type", "allowed",
			fmt.Sprintf("unknown retry policy type %q", c.RetryPolicy.Type))
	}
	if c.RetryPolicy.MaxAttempts < 0 {
		add("retry_policy.max_attempts", "range", "max attempts must be non-negative")
	}
	if c.RetryPolicy.BaseDelayMs < 0 {
		add("retry_policy.base_delay_ms", "range", "base delay must be non-negative")
	}
	if c.RetryPolicy.MaxDelayMs != 0 && c.RetryPolicy.MaxDelayMs < c.RetryPolicy.BaseDelayMs {
		add("retry_policy.max_delay_ms", "range", "max delay must be >= base delay")
	}

	if r := c.CircuitBreaker.BatchFailureRate; r < 0 || r > 1 {
		add("circuit_breaker.batch_failure_rate", "range", "batch failure rate must be within 0..1")
	}

	if c.Session.SyncType == "" {
		add("session_config.sync_type", "required", "sync type is required")
	}

	for i, f := range c.Processing.Filters {
		if f.Field == "" {
			add(fmt.Sprintf("processing_config.filters[%d].field", i), "required", "filter field is required")
		}
		if !validFilterOps[f.Op] {
			add(fmt.Sprintf("processing_config.filters[%d].op", i), "allowed",
				fmt.Sprintf("unknown filter operator %q", f.Op))
		}
	}

	return errs
}
