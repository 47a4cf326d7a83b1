package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the escrow does not exist.
	ErrNotFound = errors.New("escrow not found")
	// ErrNotParty indicates a verified caller that is neither buyer nor
	// seller. Handlers must not reveal anything beyond this.
	ErrNotParty = errors.New("you are not involved in this escrow")
)

// InvalidStateError rejects a transition that is illegal from the current
// status. The message names both so the client can render next steps.
type InvalidStateError struct {
	Current Status
	Action  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s: escrow is %s", e.Action, e.Current)
}

// ValidationError rejects input the caller must correct before retrying.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RoleError rejects an action attempted by the wrong party.
type RoleError struct {
	Required Role
	Action   string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("only the %s can %s", e.Required, e.Action)
}
