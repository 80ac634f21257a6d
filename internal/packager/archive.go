package packager

import (
	"archive/tar"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// WriteArchive writes the package as a tar with fixed timestamps and sorted
// members, so identical packages produce identical archives.
func WriteArchive(pkg Set, path string) (artifact.ID, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return artifact.ID{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".archive-*")
	if err != nil {
		return artifact.ID{}, err
	}
	defer os.Remove(tmp.Name())
	if err := Archive(pkg, tmp); err != nil {
		tmp.Close()
		return artifact.ID{}, err
	}
	if err := tmp.Close(); err != nil {
		return artifact.ID{}, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return artifact.ID{}, err
	}
	id, err := artifact.DigestFile(path)
	if err != nil {
		return artifact.ID{}, err
	}
	id.Type = artifact.PackageType
	return id, nil
}

// Archive streams the package index and every packaged file as a tar.
func Archive(pkg Set, w io.Writer) error {
	tw := tar.NewWriter(w)
	index, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    IndexName,
		Mode:    0o644,
		Size:    int64(len(index)),
		ModTime: time.Unix(0, 0),
	}); err != nil {
		return err
	}
	if _, err := tw.Write(index); err != nil {
		return err
	}

	var members []string
	for _, e := range pkg.Entries {
		for _, f := range e.Files {
			members = append(members, f.Library)
			if f.Symbols != "" {
				members = append(members, f.Symbols)
			}
		}
	}
	sort.Strings(members)
	for _, rel := range members {
		if err := addFile(tw, pkg.Abs(rel), rel); err != nil {
			return err
		}
	}
	return tw.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Mode:    int64(info.Mode().Perm()),
		Size:    info.Size(),
		ModTime: time.Unix(0, 0),
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
