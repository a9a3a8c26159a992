package classify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify_Categories(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{"duplicate key struct", &domain.DuplicateKeyError{Field: "ref", Value: "A1"}, CategoryBusinessRule},
		{"validation struct", &domain.ValidationError{Field: "ref", Rule: "required"}, CategoryValidation},
		{"deadline", context.DeadlineExceeded, CategoryPerformance},
		{"net timeout", timeoutErr{}, CategoryPerformance},
		{"constraint message", errors.New("pq: violates check constraint"), CategoryDataIntegrity},
		{"connection message", errors.New("connection refused"), CategoryNetwork},
		{"rate limit message", errors.New("too many requests (429)"), CategoryPerformance},
		{"unknown message", errors.New("something odd"), CategoryNetwork},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err, Context{Operation: "create", ResourceType: "record"})
			if got.Category != tc.want {
				t.Errorf("expected %s, got %s", tc.want, got.Category)
			}
		})
	}
}

func TestClassify_WrappedStructuralError(t *testing.T) {
	err := fmt.Errorf("create failed: %w", &domain.DuplicateKeyError{Field: "ref", Value: "A1"})
	got := Classify(err, Context{})
	if got.Category != CategoryBusinessRule {
		t.Errorf("wrapped duplicate should classify structurally, got %s", got.Category)
	}
}

func TestClassify_SeverityPrecedence(t *testing.T) {
	// Data integrity always wins.
	c := Classify(errors.New("integrity violation"), Context{BatchSize: 500, ConsecutiveFailures: 10})
	if c.Severity != SeverityCritical {
		t.Errorf("expected critical, got %s", c.Severity)
	}

	// Duplicates in large batches escalate to critical.
	c = Classify(&domain.DuplicateKeyError{Field: "ref"}, Context{BatchSize: 500})
	if c.Severity != SeverityCritical {
		t.Errorf("expected critical for large-batch duplicate, got %s", c.Severity)
	}

	// Small-batch duplicates stay low.
	c = Classify(&domain.DuplicateKeyError{Field: "ref"}, Context{BatchSize: 10})
	if c.Severity != SeverityLow {
		t.Errorf("expected low, got %s", c.Severity)
	}

	// Performance in large batches is high.
	c = Classify(context.DeadlineExceeded, Context{BatchSize: 500})
	if c.Severity != SeverityHigh {
		t.Errorf("expected high, got %s", c.Severity)
	}

	// Repeated network failures escalate.
	c = Classify(errors.New("connection reset"), Context{ConsecutiveFailures: 3})
	if c.Severity != SeverityHigh {
		t.Errorf("expected high, got %s", c.Severity)
	}

	// Ordinary network error is medium.
	c = Classify(errors.New("connection reset"), Context{})
	if c.Severity != SeverityMedium {
		t.Errorf("expected medium, got %s", c.Severity)
	}
}

func TestClassify_RetryEligibility(t *testing.T) {
	if !Classify(errors.New("connection refused"), Context{}).RetryEligible {
		t.Error("network errors should be retryable")
	}
	if !Classify(context.DeadlineExceeded, Context{}).RetryEligible {
		t.Error("performance errors should be retryable")
	}
	if Classify(&domain.ValidationError{Field: "f"}, Context{}).RetryEligible {
		t.Error("validation errors should not be retryable")
	}
	if Classify(&domain.DuplicateKeyError{Field: "f"}, Context{}).RetryEligible {
		t.Error("business-rule errors should not be retryable")
	}
	if Classify(errors.New("integrity violation"), Context{}).RetryEligible {
		t.Error("data-integrity errors should not be retryable")
	}
}

func TestClassify_ConsecutiveFailureCutoff(t *testing.T) {
	c := Classify(errors.New("connection refused"), Context{ConsecutiveFailures: 5})
	if c.RetryEligible {
		t.Error("retry eligibility must be forced off at 5 consecutive failures")
	}
	if c.Strategy.PolicyType != "none" {
		t.Errorf("expected no strategy, got %s", c.Strategy.PolicyType)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	err := errors.New("connection refused")
	ctx := Context{Operation: "create", ResourceType: "record", BatchSize: 50, ConsecutiveFailures: 2}

	a := Classify(err, ctx)
	b := Classify(err, ctx)
	if a != b {
		t.Errorf("classification must be deterministic: %+v vs %+v", a, b)
	}
}

func TestFingerprint_Stable(t *testing.T) {
	ctx := Context{Operation: "create", ResourceType: "record"}
	a := Classify(errors.New("connection refused"), ctx)
	b := Classify(errors.New("network unreachable"), ctx)
	if a.Fingerprint != b.Fingerprint {
		t.Error("same category+operation+resource must share a fingerprint")
	}

	other := Classify(errors.New("connection refused"), Context{Operation: "update", ResourceType: "record"})
	if a.Fingerprint == other.Fingerprint {
		t.Error("different operations must not share a fingerprint")
	}
}

func TestSuggestedStrategy(t *testing.T) {
	c := Classify(context.DeadlineExceeded, Context{})
	if c.Strategy.PolicyType != "exponential" || c.Strategy.BaseDelay != 2*time.Second {
		t.Errorf("unexpected performance strategy: %+v", c.Strategy)
	}

	c = Classify(errors.New("connection refused"), Context{})
	if c.Strategy.MaxAttempts != 5 {
		t.Errorf("unexpected network strategy: %+v", c.Strategy)
	}
}
