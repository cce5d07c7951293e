// Package acperr defines the structured errors surfaced by the client core.
package acperr

import (
	"errors"
	"fmt"
)

// ErrTurnInProgress is returned when a prompt is sent while another turn on
// the same orchestrator has not finished.
var ErrTurnInProgress = errors.New("a prompt turn is already in progress")

// CapabilityError reports a call to a method the agent did not advertise.
type CapabilityError struct {
	Method     string
	Capability string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s is not supported by this agent (missing capability %s)", e.Method, e.Capability)
}

// NotFoundError reports an unknown session, terminal or file.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

type InvalidParamsError struct {
	Field  string
	Reason string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionError reports an OS-level permission denial for a path.
type PermissionError struct {
	Op   string
	Path string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s", e.Op, e.Path)
}

func IsCapability(err error) bool {
	var target *CapabilityError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInvalidParams(err error) bool {
	var target *InvalidParamsError
	return errors.As(err, &target)
}

func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}
