package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"

	"github.com/k8ika0s/crossbuild/internal/config"
	"github.com/k8ika0s/crossbuild/internal/logging"
	"github.com/k8ika0s/crossbuild/internal/runner"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitPartial = 1
	ExitFatal   = 2
)

// RootCmd is the crossbuild command line.
type RootCmd struct {
	Quiet     bool   `short:"q" help:"Only log warnings and errors."`
	Debug     bool   `short:"d" help:"Enable debug logging."`
	LogLevel  string `name:"log-level" env:"CROSSBUILD_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogFormat string `name:"log-format" env:"CROSSBUILD_LOG_FORMAT" default:"text" enum:"text,json" help:"Log format."`

	Run     RunCmd     `cmd:"" help:"Build every cell of the matrix and package the results."`
	Cells   CellsCmd   `cmd:"" help:"Print the expanded matrix without building."`
	Serve   ServeCmd   `cmd:"" help:"Serve health checks and run triggers over HTTP."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

func (r *RootCmd) level() string {
	switch {
	case r.Debug:
		return "debug"
	case r.Quiet:
		return "warn"
	}
	return r.LogLevel
}

// App carries what every command needs.
type App struct {
	Settings config.Settings
	Stdout   io.Writer
	Stderr   io.Writer
	// Runner replaces the cmake runner when set.
	Runner runner.Runner
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type exitCode int

// Execute parses args, configures logging and runs the selected command.
// It returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, args, &App{Settings: config.FromEnv(), Stdout: stdout, Stderr: stderr})
}

func execute(ctx context.Context, args []string, app *App) (code int) {
	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	var root RootCmd
	parser, err := kong.New(&root,
		kong.Name("crossbuild"),
		kong.Description("Cross-compiles native libraries for every build variant and target triplet, then packages them for the host application."),
		kong.UsageOnError(),
		kong.Writers(app.Stdout, app.Stderr),
		kong.Exit(func(c int) { panic(exitCode(c)) }),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)
	if err != nil {
		fmt.Fprintln(app.Stderr, err)
		return ExitFatal
	}
	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return ExitFatal
	}

	logger := logging.New(root.level(), root.LogFormat, app.Stderr)
	slog.SetDefault(logger)
	kctx.BindTo(logging.WithLogger(ctx, logger), (*context.Context)(nil))

	if err := kctx.Run(app); err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				logger.Error(exit.Err.Error())
			}
			return exit.Code
		}
		logger.Error(err.Error())
		return ExitFatal
	}
	return ExitOK
}
