package invoker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/opencontainers/go-digest"

	"github.com/k8ika0s/crossbuild/internal/artifact"
)

// sourceFile is one hashed entry, keyed by its path as seen from the root.
type sourceFile struct {
	rel    string
	path   string
	exec   bool
	target string // set for a link that resolves to nothing
}

// HashSourceTree digests the relative path, mode bits and content of every
// file under root. Symbolic links are followed: a linked file hashes under
// the link's path with the target's content, and a linked directory is
// walked as if it were in place. Directories whose absolute or root-relative
// path is in excludes are skipped along with every .git directory, which
// keeps a staging root inside the source tree from feeding back into the
// hash.
func HashSourceTree(root string, excludes ...string) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	skip := make(map[string]bool, len(excludes))
	for _, ex := range excludes {
		if ex == "" {
			continue
		}
		if !filepath.IsAbs(ex) {
			ex = filepath.Join(root, ex)
		}
		skip[filepath.Clean(ex)] = true
	}

	w := &treeWalker{root: root, skip: skip, open: map[string]bool{}}
	if err := w.walk(root, ""); err != nil {
		return "", err
	}
	sort.Slice(w.files, func(i, j int) bool { return w.files[i].rel < w.files[j].rel })

	digester := digest.Canonical.Digester()
	h := digester.Hash()
	for _, f := range w.files {
		writeField(h, f.rel)
		switch {
		case f.target != "":
			writeField(h, "l")
			writeField(h, f.target)
		default:
			mode := "-"
			if f.exec {
				mode = "x"
			}
			writeField(h, mode)
			id, err := artifact.DigestFile(f.path)
			if err != nil {
				return "", err
			}
			writeField(h, id.Digest)
		}
	}
	return digester.Digest().String(), nil
}

type treeWalker struct {
	root  string
	skip  map[string]bool
	open  map[string]bool // resolved dirs on the current path, for link cycles
	files []sourceFile
}

func (w *treeWalker) walk(dir, rel string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if w.open[resolved] {
		return nil
	}
	w.open[resolved] = true
	defer delete(w.open, resolved)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		childRel := filepath.ToSlash(filepath.Join(rel, e.Name()))
		if w.skip[filepath.Join(w.root, filepath.FromSlash(childRel))] || w.skip[path] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if e.Type()&fs.ModeSymlink == 0 || !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			target, lerr := os.Readlink(path)
			if lerr != nil {
				return lerr
			}
			w.files = append(w.files, sourceFile{rel: childRel, path: path, target: target})
			continue
		}
		switch {
		case info.IsDir():
			if e.Name() == ".git" {
				continue
			}
			if err := w.walk(path, childRel); err != nil {
				return fmt.Errorf("%s: %w", childRel, err)
			}
		case info.Mode().IsRegular():
			w.files = append(w.files, sourceFile{rel: childRel, path: path, exec: info.Mode().Perm()&0o111 != 0})
		}
	}
	return nil
}

// writeField length-prefixes s so no two field sequences share a stream.
func writeField(h hash.Hash, s string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}
