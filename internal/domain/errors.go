package domain

import "fmt"

// ValidationError marks a malformed evidence record. Records failing validation
// are skipped and counted; they never abort a run.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid evidence: field %s: %s", e.Field, e.Reason)
}

// InvariantViolation marks a data-consistency breach that needs operator review,
// e.g. a promoter landing in two network components. The run continues for
// unaffected entities; violating ones are excluded from this run's updates.
type InvariantViolation struct {
	Entity string
	ID     string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant violation on %s %s: %s", e.Entity, e.ID, e.Detail)
}
