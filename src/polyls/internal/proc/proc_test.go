package proc

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/internal/lsperr"
)

func newLauncher() Launcher {
	return NewLauncher(Params{Logger: zap.NewNop().Sugar()})
}

func TestLaunch(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on POSIX shell")
	}

	t.Run("missing executable", func(t *testing.T) {
		_, err := newLauncher().Launch(context.Background(), Spec{
			Path: filepath.Join(t.TempDir(), "does-not-exist"),
		})
		assert.ErrorIs(t, err, lsperr.ErrServerLaunch)
	})

	t.Run("echo over piped stdio", func(t *testing.T) {
		p, err := newLauncher().Launch(context.Background(), Spec{Path: "cat"})
		require.NoError(t, err)

		_, err = p.Stdin.Write([]byte("hello\n"))
		require.NoError(t, err)

		buf := make([]byte, 6)
		_, err = p.Stdout.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(buf))

		require.NoError(t, p.Stop(context.Background()))
	})

	t.Run("exit observable on done channel", func(t *testing.T) {
		p, err := newLauncher().Launch(context.Background(), Spec{Path: "true"})
		require.NoError(t, err)

		select {
		case err := <-p.Done():
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("process did not exit")
		}
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		p, err := newLauncher().Launch(context.Background(), Spec{Path: "cat"})
		require.NoError(t, err)

		require.NoError(t, p.Stop(context.Background()))
		require.NoError(t, p.Stop(context.Background()))
	})

	t.Run("stop kills a process ignoring termination", func(t *testing.T) {
		p, err := newLauncher().Launch(context.Background(), Spec{
			Path:        "sh",
			Args:        []string{"-c", `trap "" TERM; sleep 60`},
			GracePeriod: 100 * time.Millisecond,
		})
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- p.Stop(context.Background()) }()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("stop did not return after grace period")
		}
	})
}
