package cmd

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput runs fn with os.Stdout redirected and returns what it printed.
func captureOutput(t testing.TB, fn func()) string {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	stdout := os.Stdout
	os.Stdout = w
	func() {
		defer func() { os.Stdout = stdout }()
		fn()
	}()
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}
