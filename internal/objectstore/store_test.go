package objectstore

import (
	"context"
	"testing"
)

func TestMinIOStoreKey(t *testing.T) {
	tests := []struct {
		base, key, want string
	}{
		{"", "run/package.json", "run/package.json"},
		{"/crossbuild/", "run/package.json", "crossbuild/run/package.json"},
		{"ci", "/release/arm64-android/libengine.so", "ci/release/arm64-android/libengine.so"},
	}
	for _, tt := range tests {
		m := &MinIOStore{BasePath: tt.base}
		if got := m.Key(tt.key); got != tt.want {
			t.Fatalf("Key(%q) with base %q = %q, want %q", tt.key, tt.base, got, tt.want)
		}
	}
}

func TestNewMinIOStoreNeedsEndpoint(t *testing.T) {
	if _, err := NewMinIOStore(context.Background(), Options{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without endpoint")
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	data := []byte("ELF")
	if err := m.Put(context.Background(), "b", data, "application/octet-stream"); err != nil {
		t.Fatal(err)
	}
	_ = m.Put(context.Background(), "a", nil, "application/json")
	data[0] = 'X'
	o, ok := m.Get("b")
	if !ok || string(o.Data) != "ELF" {
		t.Fatalf("stored data aliased caller buffer: %q", o.Data)
	}
	if keys := m.Keys(); len(keys) != 2 || keys[0] != "a" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
