package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyQueue is returned by Dequeue when no item is ready to integrate.
var ErrEmptyQueue = errors.New("no integrable queue item")

// ScopeConflictError rejects a lease claim that overlaps another actor's
// active lease. Recoverable: the caller retries later or narrows the scope.
type ScopeConflictError struct {
	LeaseID string
	Actor   string
	Scope   []string
}

func (e *ScopeConflictError) Error() string {
	return fmt.Sprintf("scope conflict: lease %s held by %s covers %s", e.LeaseID, e.Actor, strings.Join(e.Scope, ", "))
}

// InvalidTransitionError rejects a state machine transition, naming the
// current and requested states.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition for %s: %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// InvalidStateError rejects an operation on an entity whose status is not
// among the expected ones.
type InvalidStateError struct {
	Entity   string
	ID       string
	Status   string
	Expected []string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Entity, e.ID, e.Status, strings.Join(e.Expected, " or "))
}
