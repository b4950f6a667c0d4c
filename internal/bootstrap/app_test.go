package bootstrap

import (
	"context"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/pkg/logging"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testApp() *App {
	return &App{Cfg: config.DefaultConfig(), Logger: logging.NewNopLogger()}
}

func TestApp_RunContextStopsOnCancel(t *testing.T) {
	app := testApp()
	var order []string
	app.OnShutdown("first", func(ctx context.Context) error { order = append(order, "first"); return nil })
	app.OnShutdown("second", func(ctx context.Context) error { order = append(order, "second"); return errors.New("ignored") })

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- app.RunContext(ctx, runner) }()
	<-started
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunContext did not return")
	}
	assert.Equal(t, []string{"second", "first"}, order)
}

func TestApp_RunnerErrorStopsOthers(t *testing.T) {
	app := testApp()
	boom := errors.New("metrics port in use")

	err := app.RunContext(context.Background(),
		RunnerFunc(func(ctx context.Context) error { return boom }),
		RunnerFunc(func(ctx context.Context) error { <-ctx.Done(); return nil }),
	)
	assert.ErrorIs(t, err, boom)
}

func TestLoadConfig_PreFlight(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
app:
  dry_run: false
venues:
  upbit:
    kind: upbit
  bithumb:
    kind: bithumb
spread:
  enabled: false
cross:
  enabled: true
  venues: [upbit, bithumb]
storage:
  sqlite_path: ` + filepath.Join(dir, "state", "risk.db") + `
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := LoadConfig(path, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	assert.True(t, cfg.App.DryRun)
	assert.DirExists(t, filepath.Join(dir, "state"))
}
