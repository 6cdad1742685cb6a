package engine

import (
	"fmt"

	"github.com/go-faster/errors"

	"caseline/internal/lifecycle"
	"caseline/internal/repo"
)

// ValidationError reports bad or missing input. Nothing was written.
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

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Unwrap() error { return repo.ErrNotFound }

// AlreadyProcessedError reports a decision attempted on an incident that has
// already left pending_approval.
type AlreadyProcessedError struct {
	IncidentID string
	Current    string
	DecidedBy  string
	DecidedAt  string
}

func (e AlreadyProcessedError) Error() string {
	msg := fmt.Sprintf("incident %s already %s", e.IncidentID, e.Current)
	if e.DecidedBy != "" {
		msg += " by " + e.DecidedBy
	}
	if e.DecidedAt != "" {
		msg += " at " + e.DecidedAt
	}
	return msg
}

// PersistenceError reports a record store failure. The operation it belongs
// to left no partial state behind.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// InvalidTransitionError is the lifecycle's rejected status step.
type InvalidTransitionError = lifecycle.InvalidTransitionError

// Warning describes a best-effort side effect that failed after the
// transition committed.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ConflictError reports a case whose notes kept changing underneath an update.
type ConflictError struct {
	CaseID string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("case %s was modified concurrently; retry", e.CaseID)
}

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return PersistenceError{Op: op, Err: err}
}
