package graph

import (
	"errors"
	"fmt"
)

// DuplicateNodeError is returned when two declarations share a name.
type DuplicateNodeError struct {
	Name string
}

// Error implements the error interface.
func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q declared more than once", e.Name)
}

// DuplicateRouterError is returned when a second router is registered for a
// source that already has one.
type DuplicateRouterError struct {
	Source   string
	Existing string
	Router   string
}

// Error implements the error interface.
func (e *DuplicateRouterError) Error() string {
	return fmt.Sprintf("node %q already has router %q; cannot register %q", e.Source, e.Existing, e.Router)
}

// UnknownNodeError is returned when a condition or router source names
// something that is neither a declared node nor a declared router path.
type UnknownNodeError struct {
	// Node is the declaration holding the bad reference.
	Node string
	// Ref is the unresolved name.
	Ref string
	// Context says where the reference appeared ("condition", "router source").
	Context string
}

// Error implements the error interface.
func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%s of %q references unknown node %q", e.Context, e.Node, e.Ref)
}

// InvalidNodeError is returned for a declaration that cannot be registered
// at all: blank name, missing body.
type InvalidNodeError struct {
	Name   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidNodeError) Error() string {
	return fmt.Sprintf("invalid node %q: %s", e.Name, e.Reason)
}

// IsDuplicateNode reports whether err wraps a DuplicateNodeError.
func IsDuplicateNode(err error) bool {
	var de *DuplicateNodeError
	return errors.As(err, &de)
}

// IsDuplicateRouter reports whether err wraps a DuplicateRouterError.
func IsDuplicateRouter(err error) bool {
	var de *DuplicateRouterError
	return errors.As(err, &de)
}

// IsUnknownNode reports whether err wraps an UnknownNodeError.
func IsUnknownNode(err error) bool {
	var ue *UnknownNodeError
	return errors.As(err, &ue)
}

// IsInvalidNode reports whether err wraps an InvalidNodeError.
func IsInvalidNode(err error) bool {
	var ie *InvalidNodeError
	return errors.As(err, &ie)
}
