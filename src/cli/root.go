package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"homelab-backup/src/dockerapi"
)

// NewRootCmd returns the root cobra command for the homelab-backup CLI.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "homelab-backup",
		Short:         "Back up, restore, and bundle a Docker homelab stack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	addGlobalFlags(cmd)

	cmd.AddCommand(newVersionCmd(stdout))
	cmd.AddCommand(newBackupCmd(stdout, stderr))
	cmd.AddCommand(newRestoreCmd(stdout, stderr))
	cmd.AddCommand(newBundleCmd(stdout, stderr))
	cmd.AddCommand(newListCmd(stdout, stderr))
	cmd.AddCommand(newPruneCmd(stdout, stderr))
	cmd.AddCommand(newPatchCmd(stdout, stderr))
	cmd.AddCommand(newInspectCmd(stdout, stderr))

	return cmd
}

// Execute runs the CLI with the process stdio. Usage errors (bad
// arguments, before anything was touched) exit 2; runtime failures exit 1.
func Execute() int {
	root := NewRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ue *usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

// usageError marks errors caused by bad invocation rather than a failed
// operation, so Execute can map them to a distinct exit code.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type clientConnector func(ctx context.Context, workerImage string) (dockerapi.Client, error)

var connectClient clientConnector = func(ctx context.Context, workerImage string) (dockerapi.Client, error) {
	return dockerapi.ConnectLocal(ctx, workerImage)
}

// SetClientConnectorForTest swaps the daemon connector and returns a
// restore func.
func SetClientConnectorForTest(fn clientConnector) func() {
	prev := connectClient
	connectClient = fn
	return func() { connectClient = prev }
}

// newLogger builds the console logger all commands share. Invalid levels
// fall back to info.
func newLogger(stderr io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	cw := zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05"}
	return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
}
