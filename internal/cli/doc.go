// Parses flags and runs crossbuild subcommands.
//
// Global flags:
//
//	-q, --quiet        Only log warnings and errors.
//	-d, --debug        Enable debug logging.
//	    --log-level    debug, info, warn or error.
//	    --log-format   text or json.
//
// Runtime settings such as backends and tool paths come from the environment
// (see config.FromEnv); the build matrix comes from the build file. Exit
// codes: 0 when every cell is usable, 1 when some cells failed or packaging
// was refused, 2 when the run could not start.
package cli
