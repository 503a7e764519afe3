package sync

import (
	"fmt"
)

// OutcomeKind classifies the result of a fetch or commit step
type OutcomeKind int

const (
	// OutcomeSuccess means the step completed
	OutcomeSuccess OutcomeKind = iota
	// OutcomeCancelled means the step stopped because shutdown was requested
	OutcomeCancelled
	// OutcomeStoreUnavailable means the relational store could not be reached
	OutcomeStoreUnavailable
	// OutcomeUpstreamUnavailable means the upstream API could not be reached
	OutcomeUpstreamUnavailable
	// OutcomeUpstreamUnauthorized means the upstream session is no longer valid
	OutcomeUpstreamUnauthorized
	// OutcomeForeignKeyViolation means a write was rejected for an unmet foreign key
	OutcomeForeignKeyViolation
	// OutcomeFatal means the failure is unclassified and the process must stop
	OutcomeFatal
)

// String returns a short name for the kind, used as a log and metric attribute
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeStoreUnavailable:
		return "store-unavailable"
	case OutcomeUpstreamUnavailable:
		return "upstream-unavailable"
	case OutcomeUpstreamUnauthorized:
		return "upstream-unauthorized"
	case OutcomeForeignKeyViolation:
		return "foreign-key-violation"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Outcome is the explicit result of a fetch or commit step
type Outcome struct {
	Kind OutcomeKind
	// Constraint is the violated constraint name for OutcomeForeignKeyViolation
	Constraint string
	// Attempts is the number of commit attempts made, zero for fetch outcomes
	Attempts int
	Err      error
}

// Success returns a successful outcome
func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Cancelled returns an outcome for a step interrupted by shutdown
func Cancelled(err error) Outcome {
	return Outcome{Kind: OutcomeCancelled, Err: err}
}

// Fatal returns an unclassified failure outcome
func Fatal(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// ForeignKeyViolation returns an outcome for a write rejected by the named constraint
func ForeignKeyViolation(constraint string, err error) Outcome {
	return Outcome{Kind: OutcomeForeignKeyViolation, Constraint: constraint, Err: err}
}

// OK reports whether the outcome is a success
func (o Outcome) OK() bool {
	return o.Kind == OutcomeSuccess
}

func (o Outcome) String() string {
	if o.Err == nil {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s: %v", o.Kind, o.Err)
}

// FatalError ends a processor loop. The hosting process logs it and exits.
type FatalError struct {
	Service ServiceID
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("synchronizer %s failed fatally: %v", e.Service, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
