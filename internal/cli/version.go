package cli

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Set with -ldflags "-X github.com/k8ika0s/crossbuild/internal/cli.version=..."
var (
	version   = "" // Version number (e.g., "1.2.3")
	gitCommit = "" // Git commit hash
)

// VersionString returns "<version> <commit> [<arch>]", or "(local)" for a
// build without linker flags.
func VersionString() string {
	v := strings.TrimPrefix(strings.TrimSpace(version), "v")
	c := strings.TrimSpace(gitCommit)
	if v == "" || c == "" {
		return "(local)"
	}
	return fmt.Sprintf("%s %s [%s]", v, c, runtime.GOARCH)
}

// VersionCmd is 'crossbuild version'.
type VersionCmd struct{}

func (c *VersionCmd) Run(_ context.Context, app *App) error {
	_, err := fmt.Fprintln(app.Stdout, VersionString())
	return err
}
