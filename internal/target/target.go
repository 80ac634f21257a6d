// Package target defines the immutable identities a build matrix is made of:
// the target triplet a native build is compiled for and the build variant
// that decides optimization and symbol handling.
package target

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid target")

// Linkage selects how the C/C++ runtime and dependencies are linked.
type Linkage string

const (
	Static Linkage = "static"
	Shared Linkage = "shared"
)

// Well known platforms.
const (
	Android = "android"
	Linux   = "linux"
	Darwin  = "osx"
	Windows = "windows"
)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

// Triplet is a CPU architecture, platform and linkage mode. It is a
// comparable value and is used directly as a map key.
type Triplet struct {
	Arch     string  `json:"arch" yaml:"arch"`
	Platform string  `json:"platform" yaml:"platform"`
	Linkage  Linkage `json:"linkage,omitempty" yaml:"linkage,omitempty"`
}

// NewTriplet normalizes and validates the parts of a triplet.
func NewTriplet(arch, platform string, linkage Linkage) (Triplet, error) {
	t := Triplet{
		Arch:     strings.ToLower(strings.TrimSpace(arch)),
		Platform: strings.ToLower(strings.TrimSpace(platform)),
		Linkage:  Linkage(strings.ToLower(strings.TrimSpace(string(linkage)))),
	}
	if t.Linkage == "" {
		t.Linkage = Static
	}
	if err := t.Validate(); err != nil {
		return Triplet{}, err
	}
	return t, nil
}

// ParseTriplet parses the canonical form produced by String.
func ParseTriplet(s string) (Triplet, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	switch len(parts) {
	case 2:
		return NewTriplet(parts[0], parts[1], Static)
	case 3:
		switch parts[2] {
		case "dynamic":
			return NewTriplet(parts[0], parts[1], Shared)
		case "static":
			return NewTriplet(parts[0], parts[1], Static)
		}
	}
	return Triplet{}, fmt.Errorf("%w: triplet %q", ErrInvalid, s)
}

// Validate reports whether all parts are set and well formed.
func (t Triplet) Validate() error {
	if !namePattern.MatchString(t.Arch) {
		return fmt.Errorf("%w: arch %q", ErrInvalid, t.Arch)
	}
	if !namePattern.MatchString(t.Platform) {
		return fmt.Errorf("%w: platform %q", ErrInvalid, t.Platform)
	}
	if t.Linkage != Static && t.Linkage != Shared {
		return fmt.Errorf("%w: linkage %q", ErrInvalid, t.Linkage)
	}
	return nil
}

// String returns the vcpkg style name: arm64-android, x64-linux-dynamic.
func (t Triplet) String() string {
	s := t.Arch + "-" + t.Platform
	if t.Linkage == Shared {
		s += "-dynamic"
	}
	return s
}

// ABI returns the directory name the host packager expects for this triplet.
func (t Triplet) ABI() string {
	if t.Platform != Android {
		return t.Arch
	}
	switch t.Arch {
	case "arm64", "aarch64":
		return "arm64-v8a"
	case "arm", "armv7":
		return "armeabi-v7a"
	case "x64", "x86_64", "amd64":
		return "x86_64"
	default:
		return t.Arch
	}
}

// LibraryExt is the file extension of shared libraries for the platform.
func (t Triplet) LibraryExt() string {
	switch t.Platform {
	case Darwin, "macos", "ios":
		return ".dylib"
	case Windows, "mingw", "uwp":
		return ".dll"
	default:
		return ".so"
	}
}

// Matches reports whether a qualifier applies to the triplet. A qualifier is
// an arch, a platform, a linkage or a full triplet name; a leading "!"
// negates it.
func (t Triplet) Matches(qualifier string) bool {
	q := strings.ToLower(strings.TrimSpace(qualifier))
	if neg, ok := strings.CutPrefix(q, "!"); ok {
		return !t.Matches(neg)
	}
	switch q {
	case "", "*":
		return true
	case t.Arch, t.Platform, string(t.Linkage), t.String():
		return true
	}
	return false
}
