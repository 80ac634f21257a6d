package artifact

import (
	"encoding/json"
	"io"
	"os"

	"github.com/opencontainers/go-digest"
)

// Type distinguishes content-addressed items produced by a run.
type Type string

const (
	LibraryType Type = "library"
	SymbolsType Type = "symbols"
	PackageType Type = "package"
)

// ID is a typed reference to a content-addressed artifact.
type ID struct {
	Type   Type   `json:"type"`
	Digest string `json:"digest"`
}

// CellKey holds every input that decides the output of one build cell.
// Any field change yields a different fingerprint.
type CellKey struct {
	Variant        string `json:"variant"`
	Triplet        string `json:"triplet"`
	Preset         string `json:"preset"`
	ChainDigest    string `json:"chain_digest"`
	ManifestDigest string `json:"manifest_digest"`
	SourceDigest   string `json:"source_digest"`
	BuildFlags     string `json:"build_flags,omitempty"`
}

// Digest computes a stable content digest for the cell key.
func (k CellKey) Digest() string { return digestStruct(k) }

// DigestValue digests the JSON encoding of v. Map keys are sorted by
// encoding/json, so maps hash deterministically.
func DigestValue(v any) string { return digestStruct(v) }

// DigestFile digests file contents.
func DigestFile(path string) (ID, error) {
	f, err := os.Open(path)
	if err != nil {
		return ID{}, err
	}
	defer f.Close()
	d, err := digest.Canonical.FromReader(f)
	if err != nil {
		return ID{}, err
	}
	return ID{Digest: d.String()}, nil
}

// DigestBytes digests a buffer.
func DigestBytes(b []byte) string { return digest.FromBytes(b).String() }

// DigestReader digests a stream.
func DigestReader(r io.Reader) (string, error) {
	d, err := digest.Canonical.FromReader(r)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

func digestStruct(v any) string {
	b, _ := json.Marshal(v)
	return digest.FromBytes(b).String()
}
