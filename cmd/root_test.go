package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/server"
)

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(context.Context) error {
	f.ran = true
	return f.err
}

// Tests swap the package-level factory so they do not run in parallel.

func TestModeCommandsBuildMatchingMode(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })

	cases := map[string]server.Mode{
		"run":   server.ModeAll,
		"serve": server.ModeAPI,
		"work":  server.ModeWorker,
	}
	for use, want := range cases {
		runner := &fakeRunner{}
		var got server.Mode
		newApp = func(_ context.Context, cfg *config.Config, mode server.Mode) (Runner, error) {
			require.Equal(t, 3000, cfg.Server.Port)
			got = mode
			return runner, nil
		}
		root := newRootCmd()
		root.SetArgs([]string{use})
		require.NoError(t, root.ExecuteContext(context.Background()))
		require.Equal(t, want, got)
		require.True(t, runner.ran)
	}
}

func TestModeCommandUsesConfigFile(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })

	path := filepath.Join(t.TempDir(), "crawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8081\n"), 0o600))

	var port int
	newApp = func(_ context.Context, cfg *config.Config, _ server.Mode) (Runner, error) {
		port = cfg.Server.Port
		return &fakeRunner{}, nil
	}
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--config", path})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Equal(t, 8081, port)
}

func TestModeCommandPropagatesErrors(t *testing.T) {
	original := newApp
	t.Cleanup(func() { newApp = original })

	newApp = func(context.Context, *config.Config, server.Mode) (Runner, error) {
		return nil, errors.New("redis down")
	}
	root := newRootCmd()
	root.SetArgs([]string{"work"})
	root.SetErr(&discard{})
	err := root.ExecuteContext(context.Background())
	require.ErrorContains(t, err, "redis down")

	root = newRootCmd()
	root.SetArgs([]string{"work", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	root.SetErr(&discard{})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
