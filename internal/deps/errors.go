package deps

import (
	"errors"
	"fmt"
)

var (
	ErrDependencyResolution = errors.New("dependency resolution failed")
	ErrUnknownPackage       = errors.New("unknown package")
)

// Reasons reported by DependencyResolutionError.
const (
	ReasonUnknownPackage     = "unknown package"
	ReasonInvalidConstraint  = "invalid version constraint"
	ReasonUnsatisfiable      = "unsatisfiable version constraint"
	ReasonUnsupportedTriplet = "unsupported triplet"
	ReasonMissingFeature     = "missing feature"
	ReasonRegistry           = "registry error"
)

// DependencyResolutionError reports why one package could not be resolved
// for one triplet.
type DependencyResolutionError struct {
	Package string
	Triplet string
	Reason  string
	Detail  string
	Err     error
}

func (e *DependencyResolutionError) Error() string {
	msg := fmt.Sprintf("%v: %s: %s for %s", ErrDependencyResolution, e.Package, e.Reason, e.Triplet)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DependencyResolutionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDependencyResolution, e.Err}
	}
	return []error{ErrDependencyResolution}
}
