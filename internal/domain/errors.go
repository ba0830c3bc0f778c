package domain

import (
	"errors"
	"fmt"
)

// ErrAlreadySealed is returned when sealing an Act that already has a Seal.
var ErrAlreadySealed = errors.New("act already sealed")

// ErrDuplicateDraft is returned when a task already has a message draft.
var ErrDuplicateDraft = errors.New("task already has a draft")

// ValidationError rejects a create/update before any write happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a status change the state machine forbids.
// It is distinct from ValidationError so callers can render "already
// finished" instead of "bad request".
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Entity, e.From, e.To)
}
