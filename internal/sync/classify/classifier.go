package classify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strings"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
)

// Category groups errors by failure mode.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryDataIntegrity Category = "data_integrity"
	CategoryValidation    Category = "validation"
	CategoryPerformance   Category = "performance"
	CategoryBusinessRule  Category = "business_rule"
)

// Severity ranks how urgently an error needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// maxConsecutiveFailures forces retry eligibility off regardless of
// category, to prevent retry storms.
const maxConsecutiveFailures = 5

// largeBatchThreshold is the batch size above which duplicate and
// performance errors escalate in severity.
const largeBatchThreshold = 100

// Context carries the operational context an error occurred in.
type Context struct {
	Operation           string
	ResourceType        string
	BatchSize           int
	ConsecutiveFailures int
}

// RetryStrategy is the suggested retry policy for a classified error,
// consumed by the retry engine unless the caller overrides it.
type RetryStrategy struct {
	PolicyType  string // "fixed", "linear", "exponential", or "none"
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// Classification is the derived view of one error instance.
type Classification struct {
	Category      Category
	Severity      Severity
	Recoverable   bool
	RetryEligible bool
	Strategy      RetryStrategy
	Fingerprint   string
}

// Classify maps an error and its context into a classification.
// It is a pure function: identical inputs yield identical output.
// Structural checks run first; message matching is a last resort.
func Classify(err error, ctx Context) Classification {
	category := categorize(err)

	c := Classification{
		Category:    category,
		Severity:    severity(category, ctx),
		Fingerprint: fingerprint(category, ctx),
	}

	switch category {
	case CategoryNetwork, CategoryPerformance:
		c.Recoverable = true
		c.RetryEligible = true
	case CategoryBusinessRule:
		// Duplicates resolve via duplicate handling, not retries.
		c.Recoverable = true
		c.RetryEligible = false
	default:
		c.Recoverable = false
		c.RetryEligible = false
	}

	if ctx.ConsecutiveFailures >= maxConsecutiveFailures {
		c.RetryEligible = false
	}

	c.Strategy = suggestStrategy(c)
	return c
}

func categorize(err error) Category {
	if err == nil {
		return CategoryBusinessRule
	}

	// Structural detection first.
	if domain.IsDuplicateKey(err) {
		return CategoryBusinessRule
	}
	if domain.IsValidation(err) {
		return CategoryValidation
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryPerformance
	}
	if errors.Is(err, context.Canceled) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryPerformance
		}
		return CategoryNetwork
	}

	// Fallback on message content for errors from sources that do not
	// return structured failures.
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "constraint") || strings.Contains(s, "foreign key") ||
		strings.Contains(s, "integrity"):
		return CategoryDataIntegrity
	case strings.Contains(s, "timeout") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "429") || strings.Contains(s, "overload"):
		return CategoryPerformance
	case strings.Contains(s, "connection") || strings.Contains(s, "network") ||
		strings.Contains(s, "unreachable") || strings.Contains(s, "eof") ||
		strings.Contains(s, "503") || strings.Contains(s, "502"):
		return CategoryNetwork
	case strings.Contains(s, "invalid") || strings.Contains(s, "required") ||
		strings.Contains(s, "format"):
		return CategoryValidation
	case strings.Contains(s, "duplicate") || strings.Contains(s, "already") ||
		strings.Contains(s, "unique"):
		return CategoryBusinessRule
	}

	return CategoryNetwork
}

// severity applies the precedence table: first match wins.
func severity(category Category, ctx Context) Severity {
	switch {
	case category == CategoryDataIntegrity:
		return SeverityCritical
	case category == CategoryBusinessRule && ctx.BatchSize > largeBatchThreshold:
		return SeverityCritical
	case category == CategoryPerformance && ctx.BatchSize > largeBatchThreshold:
		return SeverityHigh
	case category == CategoryNetwork && ctx.ConsecutiveFailures >= 3:
		return SeverityHigh
	case category == CategoryNetwork || category == CategoryValidation ||
		category == CategoryPerformance:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func suggestStrategy(c Classification) RetryStrategy {
	if !c.RetryEligible {
		return RetryStrategy{PolicyType: "none"}
	}

	switch c.Category {
	case CategoryPerformance:
		// Back off harder when the target is overloaded.
		return RetryStrategy{
			PolicyType:  "exponential",
			BaseDelay:   2 * time.Second,
			MaxDelay:    60 * time.Second,
			MaxAttempts: 3,
		}
	default:
		return RetryStrategy{
			PolicyType:  "exponential",
			BaseDelay:   1 * time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		}
	}
}

// fingerprint builds a stable hash of category+operation+resource for
// deduplicating alerts and analytics.
func fingerprint(category Category, ctx Context) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", category, ctx.Operation, ctx.ResourceType)
	return fmt.Sprintf("%016x", h.Sum64())
}
