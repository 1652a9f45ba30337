// Package main provides the entrypoint for the sensor bridge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "sensorbridge"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// options are the command-line flags.
type options struct {
	configPath string
	once       bool
}

// usageError marks errors caused by invalid command-line usage.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var usage usageError
	if errors.As(err, &usage) {
		fmt.Fprintf(stderr, "Error: %v\n\n%s", err, cmd.UsageString())
		return exitUsage
	}

	// run has already logged the failure.
	return exitFailure
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		opts        options
		showVersion bool
	)

	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Mirror realtime-database sensor measurements into a spreadsheet",
		Long: `sensorbridge polls a measurement collection in a realtime database and
writes the latest snapshot to an .xlsx or .csv file, replacing it atomically
on every successful cycle.

Configuration comes from defaults, an optional YAML file (--config or
CONFIG_PATH) and environment variables, in increasing order of precedence.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(stdout, "%s %s (built %s)\n", serviceName, Version, BuildTime)
				return nil
			}
			return run(cmd.Context(), opts, stderr)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.BoolVar(&opts.once, "once", false, "run a single sync cycle and exit")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")

	return cmd
}
