package repository

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration          = errors.New("repository configuration failed")
	ErrNotInitialized         = errors.New("repository used before Init")
	ErrStorageRead            = errors.New("storage read failed")
	ErrStorageWrite           = errors.New("storage write failed")
	ErrMissingIdentifier      = errors.New("entity has no id")
	ErrConcurrentModification = errors.New("entity was modified concurrently")
	ErrReconstruct            = errors.New("entity reconstruction failed")
)

// Phase names the step of an operation that failed
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseSnapshotRead Phase = "snapshot-read"
	PhaseIndexRead    Phase = "index-read"
	PhaseEventsRead   Phase = "events-read"
	PhaseReconstruct  Phase = "reconstruct"
	PhaseEvents       Phase = "events"
	PhaseSnapshot     Phase = "snapshot"
)

// Error describes a failed repository operation. It matches its Kind
// sentinel and its underlying cause with errors.Is.
type Error struct {
	Op     string // Init, Load, LoadByIndex or Commit
	Phase  Phase
	Entity string
	ID     string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Entity)
	if e.ID != "" {
		msg += fmt.Sprintf(" [%s]", e.ID)
	}
	if e.Phase != "" {
		msg += fmt.Sprintf(" (%s)", e.Phase)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PhaseOf returns the phase recorded on err, or "" when err did not come from a repository
func PhaseOf(err error) Phase {
	var re *Error
	if errors.As(err, &re) {
		return re.Phase
	}
	return ""
}
