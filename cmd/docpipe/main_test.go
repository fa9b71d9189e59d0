package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/custodia-labs/docpipe/internal/adapters/driven/auth"
)

func TestSetupLogger(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error", "DEBUG", "WaRn"} {
			t.Run(level, func(t *testing.T) {
				app := &cli.App{
					Name: "test",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "log-level", Value: "info"},
					},
					Before: setupLogger,
					Action: func(c *cli.Context) error { return nil },
				}
				require.NoError(t, app.Run([]string{"test", "--log-level", level}))
			})
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		app := &cli.App{
			Name: "test",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "log-level", Value: "info"},
			},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}
		err := app.Run([]string{"test", "--log-level", "verbose"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"docpipe"}, args...))
	return out.String(), err
}

func TestServeCommand_UnknownMode(t *testing.T) {
	_, err := runApp(t, "serve", "everything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestDocumentCommands_RequireOneID(t *testing.T) {
	for _, cmd := range []string{"reprocess", "retry-destinations", "status"} {
		t.Run(cmd, func(t *testing.T) {
			_, err := runApp(t, cmd)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "exactly one document id")

			_, err = runApp(t, cmd, "a", "b")
			require.Error(t, err)
		})
	}
}

func TestBatchCommand_NeedsSelection(t *testing.T) {
	_, err := runApp(t, "batch", "--force-ocr")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--all-pending")
}

func TestIngestCommand_NeedsFile(t *testing.T) {
	_, err := runApp(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one file")
}

func TestScheduleRunCommand_NeedsOneID(t *testing.T) {
	_, err := runApp(t, "schedule", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one scheduled task id")
}

func TestTokenCommand(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	t.Run("requires a secret", func(t *testing.T) {
		t.Setenv("DOCPIPE_JWT_SECRET", "")
		_, err := runApp(t, "--config", missing, "token")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no JWT secret")
	})

	t.Run("mints a verifiable token", func(t *testing.T) {
		t.Setenv("DOCPIPE_JWT_SECRET", "test-secret")
		out, err := runApp(t, "--config", missing, "token", "--subject", "alice", "--ttl", "1h")
		require.NoError(t, err)

		claims, err := auth.NewAdapter("test-secret").ParseToken(strings.TrimSpace(out))
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.Greater(t, claims.ExpiresAt, claims.IssuedAt)
	})
}
