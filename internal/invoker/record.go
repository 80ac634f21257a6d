package invoker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// RecordDir holds per-cell bookkeeping inside a staging directory.
const RecordDir = ".crossbuild"

// Record is the fingerprint of the last successful build of a cell.
type Record struct {
	Fingerprint string     `json:"fingerprint"`
	Artifacts   []Artifact `json:"artifacts"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// RecordPath is where the record for a staging directory lives.
func RecordPath(staging string) string {
	return filepath.Join(staging, RecordDir, "fingerprint.json")
}

// ReadRecord returns ok=false when no record exists.
func ReadRecord(staging string) (Record, bool, error) {
	data, err := os.ReadFile(RecordPath(staging))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		// a corrupt record only costs a rebuild
		return Record{}, false, nil
	}
	return rec, true, nil
}

// WriteRecord replaces the record atomically.
func WriteRecord(staging string, rec Record) error {
	path := RecordPath(staging)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "fingerprint-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}
	return nil
}

// RemoveRecord forgets the last build of a cell.
func RemoveRecord(staging string) error {
	err := os.Remove(RecordPath(staging))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// present reports whether every recorded file still exists.
func (r Record) present() bool {
	for _, a := range r.Artifacts {
		if !isFile(a.Library) {
			return false
		}
		if a.Symbols != "" && !isFile(a.Symbols) {
			return false
		}
	}
	return true
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
