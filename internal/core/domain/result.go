package domain

// Outcome tags the result of applying one record to the target.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeExisting Outcome = "existing" // no-op, data unchanged
	OutcomeError    Outcome = "error"
)

// ProcessingResult is the outcome of applying one record.
// Every input record yields exactly one result.
type ProcessingResult struct {
	RecordID    string
	Outcome     Outcome
	UniqueValue string // target unique-field value, when resolved
	Attempts    int    // invocations of the unit of work, including the last
	Err         error
}

// CountInto adds this result to the given counters.
func (r ProcessingResult) CountInto(c *SyncCounts) {
	c.Processed++
	switch r.Outcome {
	case OutcomeCreated:
		c.Created++
	case OutcomeUpdated:
		c.Updated++
	case OutcomeExisting:
		c.Existing++
	case OutcomeError:
		c.Errors++
	}
}
