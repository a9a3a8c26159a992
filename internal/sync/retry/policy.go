package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/syncd/internal/sync/classify"
)

// PolicyType selects the backoff curve.
type PolicyType string

const (
	PolicyFixed       PolicyType = "fixed"
	PolicyLinear      PolicyType = "linear"
	PolicyExponential PolicyType = "exponential"
)

// Policy defines retry behavior for a unit of work.
type Policy struct {
	Type        PolicyType
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64       // exponential only
	Increment   time.Duration // linear only
	MaxAttempts int
	Jitter      bool // ±10%
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	Type:        PolicyExponential,
	BaseDelay:   1 * time.Second,
	MaxDelay:    60 * time.Second,
	Multiplier:  2.0,
	MaxAttempts: 5,
	Jitter:      true,
}

// Delay computes the backoff before the given retry. attempt is 1-based:
// Delay(1) is the wait after the first failed execution.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay float64
	switch p.Type {
	case PolicyFixed:
		delay = float64(p.BaseDelay)
	case PolicyLinear:
		delay = float64(p.BaseDelay) + float64(p.Increment)*float64(attempt-1)
	default:
		multiplier := p.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter {
		delay *= 1 + (rand.Float64()*0.2 - 0.1)
	}

	return time.Duration(delay)
}

// fromStrategy converts a classifier suggestion into a policy.
func fromStrategy(s classify.RetryStrategy) Policy {
	p := Policy{
		BaseDelay:   s.BaseDelay,
		MaxDelay:    s.MaxDelay,
		MaxAttempts: s.MaxAttempts,
		Multiplier:  2.0,
	}
	switch s.PolicyType {
	case "fixed":
		p.Type = PolicyFixed
	case "linear":
		p.Type = PolicyLinear
		p.Increment = s.BaseDelay
	default:
		p.Type = PolicyExponential
	}
	return p
}
