package engine

import (
	"errors"
	"fmt"

	"permitline/internal/engine/auth"
	"permitline/internal/repo"
	"permitline/internal/sequence"
)

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e NotFoundError) Is(target error) bool {
	return target == repo.ErrNotFound
}

// InvalidActorError reports an actor that may not perform the operation.
type InvalidActorError struct {
	ActorID string
	Reason  string
}

func (e InvalidActorError) Error() string {
	return e.Reason
}

// InvalidStateError reports an operation the current state does not allow.
type InvalidStateError struct {
	Reason  string
	Details map[string]any
}

func (e InvalidStateError) Error() string {
	return e.Reason
}

// ValidationError reports malformed input.
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

// State reasons outside the sequence policy.
const (
	ReasonNotPending         = "not pending"
	ReasonCannotStart        = "cannot start job in this state"
	ReasonNotAwaitingStart   = "job is not awaiting start approval"
	ReasonCannotAssign       = "cannot assign job in this state"
	ReasonNotAuthorizedOnJob = "not authorized for this job"
)

// lookupErr converts store and role errors into the engine taxonomy.
func lookupErr(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: kind, ID: id}
	}
	var roleErr auth.RoleError
	if errors.As(err, &roleErr) {
		return InvalidActorError{ActorID: roleErr.ActorID, Reason: fmt.Sprintf("%s %s is not a %s", kind, id, roleErr.Want)}
	}
	return err
}

func rejectionErr(err error) error {
	var rej *sequence.Rejection
	if errors.As(err, &rej) {
		return InvalidStateError{Reason: rej.Reason, Details: map[string]any{"expected": rej.Expected, "requested": rej.Requested}}
	}
	return err
}
