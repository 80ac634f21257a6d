package packager

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPackaging         = errors.New("packaging error")
	ErrIncompletePackage = errors.New("incomplete package")
)

// PackagingError means a build claimed success but its output is missing.
type PackagingError struct {
	Variant string
	Triplet string
	Path    string
	Reason  string
}

func (e *PackagingError) Error() string {
	msg := fmt.Sprintf("%v: %s/%s: %s", ErrPackaging, e.Variant, e.Triplet, e.Reason)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	return msg
}

func (e *PackagingError) Unwrap() error { return ErrPackaging }

// Missing is one cell left out of a package.
type Missing struct {
	Variant string `json:"variant"`
	Triplet string `json:"triplet"`
	Status  string `json:"status"`
}

// IncompletePackageError names every cell that could not be packaged.
type IncompletePackageError struct {
	Missing []Missing
}

func (e *IncompletePackageError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s/%s (%s)", m.Variant, m.Triplet, m.Status))
	}
	return fmt.Sprintf("%v: missing %s", ErrIncompletePackage, strings.Join(parts, ", "))
}

func (e *IncompletePackageError) Unwrap() error { return ErrIncompletePackage }

// Triplets lists the distinct missing triplets in order of first appearance.
func (e *IncompletePackageError) Triplets() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range e.Missing {
		if !seen[m.Triplet] {
			seen[m.Triplet] = true
			out = append(out, m.Triplet)
		}
	}
	return out
}
