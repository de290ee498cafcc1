package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/supervisor"
	"github.com/smazurov/biu/internal/task"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func shSpec(name, script string) supervisor.TaskSpec {
	return supervisor.TaskSpec{Definition: task.Definition{
		Name:       name,
		Executable: "sh",
		Args:       []string{"-c", script},
	}}
}

func testCatalog() supervisor.Catalog {
	lint := shSpec("lint", `echo "src/a.go:7: missing return"`)
	lint.Matcher = problems.MustCompile(problems.Config{
		Owner: "lint",
		Pattern: problems.Patterns{{
			Regexp:  `^(\S+):(\d+): (.*)$`,
			File:    1,
			Line:    2,
			Message: 3,
		}},
	})
	return supervisor.Catalog{Tasks: map[string]supervisor.TaskSpec{
		"ok":   shSpec("ok", "echo fine"),
		"fail": shSpec("fail", "echo broken >&2; exit 3"),
		"lint": lint,
		"hang": shSpec("hang", "trap 'exit 0' TERM; while :; do sleep 0.05; done"),
	}}
}

func run(t *testing.T, ctx context.Context, names ...string) (bool, string, string, error) {
	t.Helper()
	var stdout, stderr syncBuffer
	failed, err := RunTasks(ctx, testCatalog(), RunOptions{
		Names:       names,
		Echo:        true,
		StopTimeout: time.Second,
		Stdout:      &stdout,
		Stderr:      &stderr,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return failed, stdout.String(), stderr.String(), err
}

func TestRunTasksSuccess(t *testing.T) {
	failed, stdout, _, err := run(t, context.Background(), "ok")
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Error("expected success")
	}
	if !strings.Contains(stdout, "fine") {
		t.Errorf("stdout not echoed: %q", stdout)
	}
}

func TestRunTasksFailure(t *testing.T) {
	failed, _, stderr, err := run(t, context.Background(), "ok", "fail")
	if err != nil {
		t.Fatal(err)
	}
	if !failed {
		t.Error("non-zero exit should fail the run")
	}
	if !strings.Contains(stderr, "broken") {
		t.Errorf("stderr not echoed: %q", stderr)
	}
}

func TestRunTasksPrintsReport(t *testing.T) {
	failed, stdout, _, err := run(t, context.Background(), "lint")
	if err != nil {
		t.Fatal(err)
	}
	if failed {
		t.Error("lint exits 0")
	}
	for _, want := range []string{
		"[biu-problems;lint;begin]",
		"[biu-problem;error;src/a.go;7;;missing return]",
		"[biu-problems;lint;end]",
	} {
		if !strings.Contains(stdout, want) {
			t.Errorf("report missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunTasksUnknownName(t *testing.T) {
	_, _, _, err := run(t, context.Background(), "nope")
	if !errors.Is(err, supervisor.ErrUnknownTask) {
		t.Errorf("expected ErrUnknownTask, got %v", err)
	}
}

func TestRunTasksInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	failed, _, _, err := run(t, ctx, "hang")
	if !errors.Is(err, ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
	if !failed {
		t.Error("interrupted run should count as failed")
	}
}

func TestGroupNames(t *testing.T) {
	tests := []struct {
		name   string
		groups any
		group  string
		want   []string
		ok     bool
	}{
		{"typed map", map[string][]string{"dev": {"a", "b"}}, "dev", []string{"a", "b"}, true},
		{"json object", map[string]any{"dev": []any{"a"}}, "dev", []string{"a"}, true},
		{"json list", []any{map[string]any{"name": "dev", "tasks": []any{"x", "y"}}}, "dev", []string{"x", "y"}, true},
		{"missing", map[string]any{"dev": []any{"a"}}, "prod", nil, false},
		{"not strings", map[string]any{"dev": []any{1}}, "dev", nil, false},
		{"nil", nil, "dev", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GroupNames(tt.groups, tt.group)
			if ok != tt.ok || strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("GroupNames() = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")
	doc := `{
		"tasks": {
			"build": {"command": "sh -c 'echo hi'", "problemMatcher": "$go"},
			"ghost": {"executable": "definitely-not-a-real-binary"}
		}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := Validate(path, &out); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	text := out.String()
	for _, want := range []string{"build", "go", "ghost", "(not found)"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
}

func TestValidateRejectsUnknownMatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	doc := `{"tasks": {"build": {"executable": "make", "problemMatcher": "$nope"}}}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Validate(path, io.Discard); err == nil {
		t.Error("expected error for unknown matcher")
	}
}
