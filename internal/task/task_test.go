package task

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/process"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	done   chan struct{}
}

// record drains the task's events until the channel closes.
func record(tk *Task) *recorder {
	r := &recorder{done: make(chan struct{})}
	go func() {
		for ev := range tk.Events() {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
		close(r.done)
	}()
	return r
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) types() []EventType {
	var types []EventType
	for _, ev := range r.snapshot() {
		if ev.Type == EventStdout || ev.Type == EventStderr {
			continue
		}
		types = append(types, ev.Type)
	}
	return types
}

func (r *recorder) count(eventType EventType) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// waitCount blocks until eventType was seen n times.
func (r *recorder) waitCount(t *testing.T, eventType EventType, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if r.count(eventType) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d %s events, got %v", n, eventType, r.types())
}

func shTask(script string, opts Options) *Task {
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	opts.Resolver = process.NewResolver()
	return New(Definition{Name: "test", Executable: "sh", Args: []string{"-c", script}}, opts)
}

func equalTypes(a, b []EventType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTaskEchoScenario(t *testing.T) {
	tk := New(Definition{Name: "build", Executable: "echo", Args: []string{"hello"}}, Options{
		Resolver: process.NewResolver(),
		Logger:   testLogger(),
	})
	rec := record(tk)

	if tk.Line() != "echo hello" {
		t.Errorf("unexpected line %q", tk.Line())
	}
	if !tk.Start() {
		t.Fatal("expected Start to succeed")
	}
	rec.waitCount(t, EventStop, 1)

	events := rec.snapshot()
	var order []EventType
	var stdout strings.Builder
	var exit *int
	for _, ev := range events {
		order = append(order, ev.Type)
		if ev.Type == EventStdout {
			stdout.Write(ev.Data)
		}
		if ev.Type == EventExit {
			exit = ev.Code
		}
	}

	if order[0] != EventStart || order[len(order)-2] != EventExit || order[len(order)-1] != EventStop {
		t.Errorf("unexpected event order %v", order)
	}
	if stdout.String() != "hello\n" {
		t.Errorf("expected stdout %q, got %q", "hello\n", stdout.String())
	}
	if exit == nil || *exit != 0 {
		t.Errorf("expected exit code 0, got %v", exit)
	}
	if tk.Running() {
		t.Error("expected task to be idle")
	}
}

func TestTaskStartStopNoops(t *testing.T) {
	tk := shTask(`trap 'exit 0' TERM; while :; do sleep 0.05; done`, Options{})
	rec := record(tk)

	if tk.Stop() {
		t.Error("expected Stop on idle task to return false")
	}
	if !tk.Start() {
		t.Fatal("expected Start to succeed")
	}
	if tk.Start() {
		t.Error("expected second Start to return false")
	}
	if rec.count(EventStart) > 1 {
		t.Error("expected a single start event")
	}

	if err := tk.StopWait(context.Background()); err != nil {
		t.Fatalf("StopWait failed: %v", err)
	}
	if tk.State() != process.StateIdle {
		t.Errorf("expected idle after StopWait, got %s", tk.State())
	}
	if tk.Stop() {
		t.Error("expected Stop after StopWait to return false")
	}
}

func TestTaskStopWaitIdle(t *testing.T) {
	tk := shTask(`exit 0`, Options{})
	record(tk)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tk.StopWait(ctx); err != nil {
		t.Errorf("expected StopWait on idle task to return at once, got %v", err)
	}
}

func TestTaskConcurrentStopWait(t *testing.T) {
	tk := shTask(`trap 'exit 0' TERM; while :; do sleep 0.05; done`, Options{})
	rec := record(tk)
	tk.Start()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			errs <- tk.StopWait(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("StopWait failed: %v", err)
		}
	}
	if n := rec.count(EventStop); n != 1 {
		t.Errorf("expected one stop event, got %d", n)
	}
}

func TestTaskStopWaitContext(t *testing.T) {
	tk := shTask(`trap '' TERM; while :; do sleep 0.05; done`, Options{})
	record(tk)
	tk.Start()
	defer tk.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := tk.StopWait(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if tk.State() != process.StateStopping {
		t.Errorf("expected stopping state, got %s", tk.State())
	}

	// Escalate by hand so the deferred Close can finish.
	process.NewTerminator(testLogger()).Kill(tk.handle.Pid())
}

func TestTaskRestartOrdering(t *testing.T) {
	tk := shTask(`trap 'exit 0' TERM; while :; do sleep 0.05; done`, Options{})
	rec := record(tk)
	tk.Start()

	if err := tk.Restart(context.Background()); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	rec.waitCount(t, EventStart, 2)

	want := []EventType{EventStart, EventExit, EventStop, EventStart}
	if got := rec.types(); !equalTypes(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	tk.Close(context.Background())
}

func TestTaskSpawnFailure(t *testing.T) {
	tk := New(Definition{Name: "missing", Executable: "definitely-not-a-real-binary-biu"}, Options{
		Resolver: process.NewResolver(),
		Logger:   testLogger(),
	})
	rec := record(tk)

	if !tk.Start() {
		t.Fatal("expected Start to report success even if spawn fails")
	}
	rec.waitCount(t, EventStop, 1)

	want := []EventType{EventStart, EventError, EventStop}
	if got := rec.types(); !equalTypes(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	for _, ev := range rec.snapshot() {
		if ev.Type == EventError && ev.Error == "" {
			t.Error("expected error text")
		}
	}
	if tk.Running() {
		t.Error("expected task to be idle after spawn failure")
	}
}

func TestTaskEcho(t *testing.T) {
	var out bytes.Buffer
	tk := New(Definition{Name: "e", Executable: "echo", Args: []string{"hi"}, EchoStdout: true}, Options{
		Resolver: process.NewResolver(),
		Stdout:   &out,
		Logger:   testLogger(),
	})
	rec := record(tk)
	tk.Start()
	rec.waitCount(t, EventStop, 1)

	if out.String() != "hi\n" {
		t.Errorf("expected echoed output, got %q", out.String())
	}
}

func TestTaskMatcherResetOnRestart(t *testing.T) {
	tmpl := problems.MustCompile(problems.Config{
		Owner: "test",
		Pattern: problems.Patterns{{
			Regexp:  `^(\S+):(\d+): error (.*)$`,
			File:    1,
			Line:    2,
			Message: 3,
		}},
	})
	dir := t.TempDir()
	matcher := tmpl.NewMatcher(dir, problems.Limits{})

	script := `if [ -f marker ]; then echo "b.ts:2: error second"; else touch marker; echo "a.ts:1: error first"; fi; trap 'exit 0' TERM; while :; do sleep 0.05; done`
	tk := New(Definition{Name: "lint", Executable: "sh", Args: []string{"-c", script}, Dir: dir}, Options{
		Resolver: process.NewResolver(),
		Matcher:  matcher,
		Logger:   testLogger(),
	})
	rec := record(tk)

	tk.Start()
	rec.waitCount(t, EventProblems, 1)

	if d := matcher.Diagnostics(); len(d) != 1 || d[0].File != "a.ts" {
		t.Fatalf("expected first-run diagnostic, got %+v", d)
	}

	if err := tk.Restart(context.Background()); err != nil {
		t.Fatal(err)
	}
	// One update for the reset, one for the new diagnostic.
	rec.waitCount(t, EventProblems, 3)

	d := matcher.Diagnostics()
	if len(d) != 1 || d[0].File != "b.ts" {
		t.Errorf("expected only second-run diagnostic, got %+v", d)
	}

	tk.Close(context.Background())
}

func TestTaskMatcherKeepsStreamsApart(t *testing.T) {
	tmpl := problems.MustCompile(problems.Config{
		Owner: "test",
		Pattern: problems.Patterns{{
			Regexp:  `^(\S+):(\d+): error (.*)$`,
			File:    1,
			Line:    2,
			Message: 3,
		}},
	})
	matcher := tmpl.NewMatcher(t.TempDir(), problems.Limits{})

	script := `printf '/src/a.ts:1'; sleep 0.1; printf 'progress\n' >&2; sleep 0.1; printf '0: error X\n'`
	tk := shTask(script, Options{Matcher: matcher})
	rec := record(tk)

	tk.Start()
	rec.waitCount(t, EventStop, 1)

	d := matcher.Diagnostics()
	if len(d) != 1 || d[0].File != "/src/a.ts" || d[0].Location != "10" || d[0].Message != "X" {
		t.Errorf("expected one diagnostic for /src/a.ts:10, got %+v", d)
	}

	tk.Close(context.Background())
}

func TestTaskClose(t *testing.T) {
	tk := shTask(`trap 'exit 0' TERM; while :; do sleep 0.05; done`, Options{})
	rec := record(tk)
	tk.Start()

	if err := tk.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("expected event channel to close")
	}

	if tk.Start() {
		t.Error("expected Start after Close to return false")
	}
	if err := tk.Restart(context.Background()); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := tk.Close(context.Background()); err != nil {
		t.Errorf("expected second Close to be a no-op, got %v", err)
	}
}
