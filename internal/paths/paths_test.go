package paths

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestProjectKeyIsStableAndDistinct(t *testing.T) {
	a := ProjectKey("/work/engine")
	if a != ProjectKey("/work/engine/") {
		t.Fatalf("trailing slash changed the key")
	}
	if !strings.HasPrefix(a, "engine-") || len(a) != len("engine-")+12 {
		t.Fatalf("unexpected key %s", a)
	}
	if a == ProjectKey("/other/engine") {
		t.Fatalf("different checkouts share a key")
	}
}

func TestDefaultsLiveUnderCache(t *testing.T) {
	src := "/work/engine"
	for _, p := range []string{StagingRoot(src), PackageDir(src)} {
		if !strings.HasPrefix(p, Cache()+string(filepath.Separator)) {
			t.Fatalf("%s is not under %s", p, Cache())
		}
	}
	if StagingRoot(src) == PackageDir(src) {
		t.Fatalf("staging and package dirs must differ")
	}
	if filepath.Base(EventsFile()) != "events.json" {
		t.Fatalf("unexpected events file %s", EventsFile())
	}
}
