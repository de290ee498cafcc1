package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/biu/internal/supervisor"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTasks(t *testing.T, path string, names ...string) {
	t.Helper()
	content := "[tasks]\n"
	for _, name := range names {
		content += fmt.Sprintf("[tasks.%s]\nexecutable = \"true\"\n", name)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, debounce time.Duration, opts ...WatcherOption[supervisor.Catalog]) *Watcher[supervisor.Catalog] {
	t.Helper()
	opts = append([]WatcherOption[supervisor.Catalog]{WithDebounce[supervisor.Catalog](debounce)}, opts...)
	w := NewConfigWatcher(path, LoadTasks, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Let the watch loop settle before the first write.
	time.Sleep(50 * time.Millisecond)
	return w
}

func TestConfigWatcher_BasicReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "build")

	received := make(chan supervisor.Catalog, 1)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(c supervisor.Catalog) { received <- c })

	writeTasks(t, path, "build", "lint")

	select {
	case c := <-received:
		if names := c.Names(); len(names) != 2 || names[1] != "lint" {
			t.Errorf("unexpected names %v", names)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestConfigWatcher_RenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.toml")
	writeTasks(t, path, "build")

	received := make(chan supervisor.Catalog, 4)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(c supervisor.Catalog) { received <- c })

	tmp := filepath.Join(dir, "tasks.toml.tmp")
	writeTasks(t, tmp, "test")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-received:
		if _, ok := c.Tasks["test"]; !ok {
			t.Errorf("expected replaced definitions, got %v", c.Names())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestConfigWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.toml")
	writeTasks(t, path, "build")

	var count atomic.Int32
	w := startWatcher(t, path, 20*time.Millisecond)
	w.OnReload(func(supervisor.Catalog) { count.Add(1) })

	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected no reload for sibling file, got %d", got)
	}
}

func TestConfigWatcher_MultipleHandlers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "build")

	var mu sync.Mutex
	var got []supervisor.Catalog
	var wg sync.WaitGroup
	wg.Add(3)

	w := startWatcher(t, path, 50*time.Millisecond)
	for range 3 {
		w.OnReload(func(c supervisor.Catalog) {
			mu.Lock()
			got = append(got, c)
			mu.Unlock()
			wg.Done()
		})
	}

	writeTasks(t, path, "lint")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handlers")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, c := range got {
		if _, ok := c.Tasks["lint"]; !ok {
			t.Errorf("handler %d got stale catalog %v", i, c.Names())
		}
	}
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "a")

	var count1, count2 atomic.Int32
	w := startWatcher(t, path, 30*time.Millisecond)
	w.OnReload(func(supervisor.Catalog) { count1.Add(1) })
	unsub := w.OnReload(func(supervisor.Catalog) { count2.Add(1) })

	writeTasks(t, path, "b")
	time.Sleep(300 * time.Millisecond)

	unsub()

	writeTasks(t, path, "c")
	time.Sleep(300 * time.Millisecond)

	if got := count1.Load(); got != 2 {
		t.Errorf("handler1: expected 2 calls, got %d", got)
	}
	if got := count2.Load(); got != 1 {
		t.Errorf("handler2: expected 1 call, got %d", got)
	}
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "build")

	errorReceived := make(chan error, 1)
	configReceived := make(chan supervisor.Catalog, 1)

	w := startWatcher(t, path, 50*time.Millisecond,
		WithErrorHandler[supervisor.Catalog](func(err error) {
			select {
			case errorReceived <- err:
			default:
			}
		}),
	)
	w.OnReload(func(c supervisor.Catalog) { configReceived <- c })

	if err := os.WriteFile(path, []byte("invalid toml [[["), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errorReceived:
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "t0")

	var count atomic.Int32
	var last atomic.Value
	w := startWatcher(t, path, 200*time.Millisecond)
	w.OnReload(func(c supervisor.Catalog) {
		count.Add(1)
		last.Store(c.Names()[0])
	})

	for i := 1; i <= 5; i++ {
		writeTasks(t, path, fmt.Sprintf("t%d", i))
		time.Sleep(30 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got, _ := last.Load().(string); got != "t5" {
		t.Errorf("expected final definitions t5, got %q", got)
	}
}

func TestConfigWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.toml")
	writeTasks(t, path, "a")

	var count atomic.Int32
	w := NewConfigWatcher(path, LoadTasks, newTestLogger(), WithDebounce[supervisor.Catalog](20*time.Millisecond))
	w.OnReload(func(supervisor.Catalog) { count.Add(1) })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}

	writeTasks(t, path, "b")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}
