package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func baseKey() CellKey {
	return CellKey{
		Variant:        "release",
		Triplet:        "arm64-android",
		Preset:         "release-arm64-android",
		ChainDigest:    "sha256:chain",
		ManifestDigest: "sha256:deps",
		SourceDigest:   "sha256:src",
	}
}

func TestCellKeyDigestDeterministic(t *testing.T) {
	k := baseKey()
	if k.Digest() != k.Digest() {
		t.Fatalf("cell digest not deterministic")
	}
	if !strings.HasPrefix(k.Digest(), "sha256:") {
		t.Fatalf("unexpected digest format %s", k.Digest())
	}
}

func TestCellKeyDigestChangesPerField(t *testing.T) {
	base := baseKey().Digest()
	mutations := map[string]func(*CellKey){
		"chain":    func(k *CellKey) { k.ChainDigest = "sha256:chain2" },
		"manifest": func(k *CellKey) { k.ManifestDigest = "sha256:deps2" },
		"source":   func(k *CellKey) { k.SourceDigest = "sha256:src2" },
		"preset":   func(k *CellKey) { k.Preset = "release-arm64-android-lto" },
		"flags":    func(k *CellKey) { k.BuildFlags = "minify" },
	}
	for name, mutate := range mutations {
		k := baseKey()
		mutate(&k)
		if k.Digest() == base {
			t.Fatalf("digest should change when %s changes", name)
		}
	}
}

func TestDigestFileMatchesContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("same"), 0o644); err != nil {
		t.Fatal(err)
	}
	ida, err := DigestFile(a)
	if err != nil {
		t.Fatal(err)
	}
	idb, err := DigestFile(b)
	if err != nil {
		t.Fatal(err)
	}
	if ida.Digest != idb.Digest {
		t.Fatalf("same content should digest equally: %s vs %s", ida.Digest, idb.Digest)
	}
	if _, err := DigestFile(filepath.Join(dir, "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestDigestBytesMatchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lib.so")
	if err := os.WriteFile(path, []byte("ELF"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if DigestBytes([]byte("ELF")) != id.Digest {
		t.Fatalf("bytes and file digests differ")
	}
}
