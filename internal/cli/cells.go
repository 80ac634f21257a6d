package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/k8ika0s/crossbuild/internal/deps"
	"github.com/k8ika0s/crossbuild/internal/orchestrator"
)

// CellsCmd is 'crossbuild cells'.
type CellsCmd struct {
	Config string `short:"c" type:"path" help:"Build file (default: ./crossbuild.yaml, then the user config dir)." placeholder:"PATH"`
	JSON   bool   `name:"json" help:"Print the cells as JSON."`
}

// Run resolves toolchains and dependencies for every cell and prints the
// matrix. Nothing is built.
func (c *CellsCmd) Run(ctx context.Context, app *App) error {
	f, err := loadFile(c.Config)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	o := &orchestrator.Orchestrator{File: f, Cache: deps.NewMemoryCache()}
	m, _, err := o.Configure(ctx, app.Settings.Jobs)
	if err != nil {
		return &ExitError{Code: ExitFatal, Err: err}
	}
	cells := orchestrator.Cells(m)
	if c.JSON {
		enc := json.NewEncoder(app.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cells)
	}
	tw := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CELL\tPRESET\tSTATUS\tDETAIL")
	for _, cell := range cells {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cell.Cell, cell.Preset, cell.Status, cell.Summary)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(m.Failed()) > 0 {
		return &ExitError{Code: ExitPartial}
	}
	return nil
}
