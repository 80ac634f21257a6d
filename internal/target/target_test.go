package target

import (
	"errors"
	"testing"
)

func TestTripletString(t *testing.T) {
	tests := []struct {
		trip Triplet
		want string
		abi  string
	}{
		{Triplet{Arch: "arm64", Platform: "android", Linkage: Static}, "arm64-android", "arm64-v8a"},
		{Triplet{Arch: "arm", Platform: "android", Linkage: Static}, "arm-android", "armeabi-v7a"},
		{Triplet{Arch: "x64", Platform: "linux", Linkage: Shared}, "x64-linux-dynamic", "x64"},
	}
	for _, tt := range tests {
		if got := tt.trip.String(); got != tt.want {
			t.Fatalf("String()=%q want %q", got, tt.want)
		}
		if got := tt.trip.ABI(); got != tt.abi {
			t.Fatalf("ABI()=%q want %q", got, tt.abi)
		}
		parsed, err := ParseTriplet(tt.want)
		if err != nil {
			t.Fatalf("ParseTriplet(%q): %v", tt.want, err)
		}
		if parsed != tt.trip {
			t.Fatalf("ParseTriplet(%q)=%+v want %+v", tt.want, parsed, tt.trip)
		}
	}
}

func TestNewTripletRejectsGarbage(t *testing.T) {
	if _, err := NewTriplet("arm 64", "android", Static); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := NewTriplet("arm64", "android", "weird"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for linkage, got %v", err)
	}
	if _, err := ParseTriplet("arm64"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for short triplet, got %v", err)
	}
}

func TestTripletMatches(t *testing.T) {
	tr := Triplet{Arch: "arm64", Platform: "android", Linkage: Static}
	for q, want := range map[string]bool{
		"":              true,
		"android":       true,
		"arm64":         true,
		"static":        true,
		"arm64-android": true,
		"!windows":      true,
		"!android":      false,
		"x64":           false,
	} {
		if got := tr.Matches(q); got != want {
			t.Fatalf("Matches(%q)=%v want %v", q, got, want)
		}
	}
}

func TestVariantNormalize(t *testing.T) {
	v, err := Variant{Name: "Debug"}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if v.Symbols != RetainSymbols || v.BuildType() != "Debug" {
		t.Fatalf("unexpected debug defaults: %+v", v)
	}
	v, err = Variant{Name: "profile", Symbols: RetainSymbols}.Normalize()
	if err != nil {
		t.Fatal(err)
	}
	if v.BuildType() != "RelWithDebInfo" {
		t.Fatalf("unexpected build type %s", v.BuildType())
	}
	if _, err := (Variant{Name: "x", Symbols: "maybe"}).Normalize(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
