package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/orchestrator"
)

// RunCmd is 'crossbuild run'.
type RunCmd struct {
	Config       string `short:"c" type:"path" help:"Build file (default: ./crossbuild.yaml, then the user config dir)." placeholder:"PATH"`
	Jobs         int    `short:"j" help:"Concurrent cell builds (default: CROSSBUILD_JOBS or the CPU count)."`
	AllowPartial bool   `help:"Package the usable cells even when some failed."`
	NoPackage    bool   `help:"Build without packaging."`
	Archive      bool   `help:"Also write a deterministic tar of the package."`
	JSON         bool   `name:"json" help:"Print the report as JSON instead of a table."`
}

// Run builds every cell and prints the status table. Any cell that is not
// usable makes the command exit 1.
func (c *RunCmd) Run(ctx context.Context, app *App) error {
	f, err := loadFile(c.Config)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	b, err := app.open(ctx)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	defer b.Close()

	report, err := app.orchestrator(f, b).Run(ctx, orchestrator.Options{
		Jobs:         app.jobs(c.Jobs),
		AllowPartial: c.AllowPartial,
		NoPackage:    c.NoPackage,
		Archive:      c.Archive || app.Settings.ArchivePackage,
	})
	if report == nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	if perr := c.print(app, report); perr != nil {
		return perr
	}
	if err != nil {
		return &ExitError{Code: ExitPartial, Err: err}
	}
	if report.Failed() {
		logging.FromContext(ctx).Warn("some cells are not usable", "counts", report.Counts())
		return &ExitError{Code: ExitPartial}
	}
	if report.Package != nil {
		fmt.Fprintf(app.Stdout, "package: %s\n", report.Package.Dir)
	}
	return nil
}

func (c *RunCmd) print(app *App, report *orchestrator.Report) error {
	if c.JSON {
		enc := json.NewEncoder(app.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return report.WriteTable(app.Stdout)
}
