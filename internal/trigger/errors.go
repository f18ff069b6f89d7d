package trigger

import (
	"errors"
	"fmt"
	"reflect"
)

// InvalidConditionError is returned when a builder argument is not one of
// the accepted forms.
type InvalidConditionError struct {
	Kind   Kind
	Arg    any
	Reason string
}

// Error implements the error interface.
func (e *InvalidConditionError) Error() string {
	if e.Arg != nil {
		return fmt.Sprintf("invalid %s condition argument %v (%T): %s", e.Kind, e.Arg, e.Arg, e.Reason)
	}
	return fmt.Sprintf("invalid %s condition: %s", e.Kind, e.Reason)
}

// IsInvalidCondition reports whether err wraps an InvalidConditionError.
func IsInvalidCondition(err error) bool {
	var ice *InvalidConditionError
	return errors.As(err, &ice)
}

// isNilNamed catches typed nil pointers hidden inside a non-nil interface.
func isNilNamed(n Named) bool {
	v := reflect.ValueOf(n)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
