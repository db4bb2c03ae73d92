package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
peer:
  port: 6500
`

const watcherUpdatedYAML = `
server:
  log_level: debug
peer:
  port: 6501
keywords:
  aliases:
    boom: flowey
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// startWatcher creates a fast-polling watcher over content and runs it until
// the test ends.
func startWatcher(t *testing.T, content string, onChange config.ChangeFunc) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeFile(t, cfgPath, content)

	w, err := config.NewWatcher(cfgPath, onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cfgPath
}

// bumpMtime moves the file's mtime forward so the next poll notices it even
// on filesystems with coarse timestamps.
func bumpMtime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	var gotDiff config.ConfigDiff
	called := make(chan struct{}, 1)

	w, path := startWatcher(t, watcherValidYAML, func(old, new *config.Config, d config.ConfigDiff) {
		mu.Lock()
		gotOld, gotNew, gotDiff = old, new, d
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	writeFile(t, path, watcherUpdatedYAML)
	bumpMtime(t, path)

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Server.LogLevel != config.LogInfo || gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("log levels: old %q new %q", gotOld.Server.LogLevel, gotNew.Server.LogLevel)
	}
	if !gotDiff.LogLevelChanged || !gotDiff.KeywordsChanged {
		t.Errorf("diff = %+v, want log level and keyword changes", gotDiff)
	}
	if len(gotDiff.RestartRequired) != 1 || gotDiff.RestartRequired[0] != "peer" {
		t.Errorf("RestartRequired = %v, want [peer]", gotDiff.RestartRequired)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	w, path := startWatcher(t, watcherValidYAML, func(_, _ *config.Config, _ config.ConfigDiff) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	writeFile(t, path, watcherInvalidYAML)
	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not be called for invalid config, got %d calls", calls)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still have old config, got log_level=%q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	_, path := startWatcher(t, watcherValidYAML, func(_, _ *config.Config, _ config.ConfigDiff) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	bumpMtime(t, path)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("callback should not fire for touch-only, got %d calls", calls)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopEndsRun(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "voxbridge.yaml")
	writeFile(t, cfgPath, watcherValidYAML)

	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Stop()
	w.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
