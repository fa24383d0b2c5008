package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"homelab-backup/src/dockerapi"
)

// Bad restore invocations must be classified as usage errors and rejected
// before any daemon connection.
func TestRestoreCmd_BadArgsAreUsageErrors(t *testing.T) {
	reset := SetClientConnectorForTest(func(ctx context.Context, workerImage string) (dockerapi.Client, error) {
		t.Fatal("usage errors must not connect to the daemon")
		return nil, nil
	})
	t.Cleanup(reset)

	cases := [][]string{
		{"restore"},
		{"restore", "a", "b"},
		{"restore", filepath.Join(t.TempDir(), "no-such-dir")},
	}
	for _, args := range cases {
		var out, errBuf bytes.Buffer
		cmd := NewRootCmd(&out, &errBuf)
		cmd.SetArgs(args)

		_, err := cmd.ExecuteC()
		require.Error(t, err, "args %v", args)
		var ue *usageError
		require.True(t, errors.As(err, &ue), "args %v should be a usage error, got %T: %v", args, err, err)
	}
}
