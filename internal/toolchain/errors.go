package toolchain

import (
	"errors"
	"fmt"
)

var (
	ErrPreconditionMissing = errors.New("precondition missing")
	ErrToolchainResolution = errors.New("toolchain resolution failed")
)

// PreconditionMissingError names the environment variable, or the path it
// points at, that a toolchain declaration requires but the host lacks.
type PreconditionMissingError struct {
	Name   string // Environment variable name.
	Path   string // Set when the variable is present but its path is absent.
	Source string // Where the variable was required.
}

func (e *PreconditionMissingError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %s=%s does not exist (required by %s)", ErrPreconditionMissing, e.Name, e.Path, e.Source)
	}
	return fmt.Sprintf("%v: %s is not set (required by %s)", ErrPreconditionMissing, e.Name, e.Source)
}

func (e *PreconditionMissingError) Unwrap() error { return ErrPreconditionMissing }

// ToolchainResolutionError reports a missing or malformed toolchain file.
type ToolchainResolutionError struct {
	Triplet string
	Path    string
	Reason  string
}

func (e *ToolchainResolutionError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrToolchainResolution, e.Reason)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Triplet != "" {
		msg += " (triplet " + e.Triplet + ")"
	}
	return msg
}

func (e *ToolchainResolutionError) Unwrap() error { return ErrToolchainResolution }
