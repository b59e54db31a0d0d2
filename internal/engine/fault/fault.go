package fault

import "fmt"

// ValidationError indicates malformed input. The caller must correct the
// request; it is never retried as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// InvalidStateError indicates an operation attempted against an entity in the
// wrong state.
type InvalidStateError struct {
	Entity    string
	ID        string
	Status    string
	Operation string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s; cannot %s", e.Entity, e.ID, e.Status, e.Operation)
}

// InvalidTransitionError names an edge absent from the job status graph.
type InvalidTransitionError struct {
	JobID string
	From  string
	To    string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: no transition %s -> %s", e.JobID, e.From, e.To)
}

// PreconditionError names an aggregate invariant the requested effect would
// violate.
type PreconditionError struct {
	JobID     string
	Invariant string
}

func (e PreconditionError) Error() string {
	return fmt.Sprintf("job %s: %s", e.JobID, e.Invariant)
}

// ConflictError indicates a detected race: the resource was claimed between the
// caller's read and write. The caller may retry against a fresh read; the core
// never retries.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

// LocationUnavailableError indicates the geolocation capability denied or
// failed; check-in and check-out refuse to proceed without a fix.
type LocationUnavailableError struct {
	Reason string
}

func (e LocationUnavailableError) Error() string {
	if e.Reason == "" {
		return "location unavailable"
	}
	return "location unavailable: " + e.Reason
}

// AuthorizationError indicates the acting user is not the party the operation
// is restricted to.
type AuthorizationError struct {
	ActorID   string
	Operation string
}

func (e AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s not authorized to %s", e.ActorID, e.Operation)
}
