package target

import (
	"fmt"
	"strings"
)

// SymbolPolicy decides whether packaged libraries keep their debug symbols.
type SymbolPolicy string

const (
	RetainSymbols SymbolPolicy = "retain"
	StripSymbols  SymbolPolicy = "strip"
)

// Optimization is the compiler optimization goal of a variant.
type Optimization string

const (
	OptimizeNone  Optimization = "debug"
	OptimizeSpeed Optimization = "speed"
	OptimizeSize  Optimization = "size"
)

// Variant is a named build configuration such as debug or release.
type Variant struct {
	Name         string       `json:"name" yaml:"name"`
	Optimization Optimization `json:"optimization" yaml:"optimization"`
	Symbols      SymbolPolicy `json:"symbols" yaml:"symbols"`
	Minify       bool         `json:"minify,omitempty" yaml:"minify,omitempty"`
	Shrink       bool         `json:"shrink,omitempty" yaml:"shrink,omitempty"`
}

// Debug is the built-in debuggable variant: no optimization, symbols kept.
func Debug() Variant {
	return Variant{Name: "debug", Optimization: OptimizeNone, Symbols: RetainSymbols}
}

// Release is the built-in shipping variant: optimized, symbols stripped.
func Release() Variant {
	return Variant{Name: "release", Optimization: OptimizeSpeed, Symbols: StripSymbols}
}

// Builtin returns a copy of a built-in variant by name.
func Builtin(name string) (Variant, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return Debug(), true
	case "release":
		return Release(), true
	}
	return Variant{}, false
}

// Normalize fills defaults and validates the variant.
func (v Variant) Normalize() (Variant, error) {
	v.Name = strings.ToLower(strings.TrimSpace(v.Name))
	if !namePattern.MatchString(v.Name) {
		return Variant{}, fmt.Errorf("%w: variant name %q", ErrInvalid, v.Name)
	}
	if base, ok := Builtin(v.Name); ok {
		if v.Optimization == "" {
			v.Optimization = base.Optimization
		}
		if v.Symbols == "" {
			v.Symbols = base.Symbols
		}
	}
	if v.Optimization == "" {
		v.Optimization = OptimizeSpeed
	}
	if v.Symbols == "" {
		v.Symbols = StripSymbols
	}
	switch v.Optimization {
	case OptimizeNone, OptimizeSpeed, OptimizeSize:
	default:
		return Variant{}, fmt.Errorf("%w: variant %s optimization %q", ErrInvalid, v.Name, v.Optimization)
	}
	switch v.Symbols {
	case RetainSymbols, StripSymbols:
	default:
		return Variant{}, fmt.Errorf("%w: variant %s symbol policy %q", ErrInvalid, v.Name, v.Symbols)
	}
	return v, nil
}

// BuildType maps the optimization goal onto a CMake build type.
func (v Variant) BuildType() string {
	switch v.Optimization {
	case OptimizeNone:
		return "Debug"
	case OptimizeSize:
		return "MinSizeRel"
	}
	if v.Symbols == RetainSymbols {
		return "RelWithDebInfo"
	}
	return "Release"
}
