package problems

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func simpleConfig() Config {
	return Config{
		Owner: "typescript",
		Pattern: Patterns{{
			Regexp:   `^(.*):(\d+): (error|warning) (.*?)\s*$`,
			File:     1,
			Line:     2,
			Severity: 3,
			Message:  4,
		}},
	}
}

func newTestMatcher(t *testing.T, cfg Config) *Matcher {
	t.Helper()
	tmpl, err := Compile(cfg)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return tmpl.NewMatcher("", Limits{})
}

func TestMatcherSplitChunk(t *testing.T) {
	whole := newTestMatcher(t, simpleConfig())
	split := newTestMatcher(t, simpleConfig())

	whole.Write(Stdout, []byte("/src/a.ts:10: error X\n"))

	if split.Write(Stdout, []byte("/src/a.ts:1")) {
		t.Error("expected no update for a partial line")
	}
	if !split.Write(Stdout, []byte("0: error X\n")) {
		t.Error("expected update once the line completes")
	}

	got, want := split.Diagnostics(), whole.Diagnostics()
	if len(got) != 1 || len(want) != 1 || got[0] != want[0] {
		t.Fatalf("split %v != whole %v", got, want)
	}

	d := got[0]
	if d.File != "/src/a.ts" || d.Location != "10" || d.Severity != SeverityError || d.Message != "X" || d.Owner != "typescript" {
		t.Errorf("unexpected diagnostic %+v", d)
	}
}

func TestMatcherStreamsAssembleLinesSeparately(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())

	m.Write(Stdout, []byte("/src/a.ts:1"))
	if m.Write(Stderr, []byte("progress\n")) {
		t.Error("stderr noise should not complete the stdout line")
	}
	if !m.Write(Stdout, []byte("0: error X\n")) {
		t.Error("expected update once the stdout line completes")
	}

	got := m.Diagnostics()
	if len(got) != 1 || got[0].File != "/src/a.ts" || got[0].Location != "10" {
		t.Fatalf("unexpected diagnostics %+v", got)
	}
}

func TestMatcherFlushesBothStreams(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())

	m.Write(Stdout, []byte("a.ts:1: error out"))
	m.Write(Stderr, []byte("b.ts:2: error err"))
	if !m.Flush() {
		t.Fatal("expected update from flush")
	}
	if got := m.Len(); got != 2 {
		t.Errorf("expected 2 diagnostics, got %d", got)
	}
}

func TestMatcherByteByByte(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())
	for _, b := range []byte("a.ts:1: warning first\r\nb.ts:2: error second\n") {
		m.Write(Stdout, []byte{b})
	}
	if n := m.Len(); n != 2 {
		t.Fatalf("expected 2 diagnostics, got %d: %v", n, m.Diagnostics())
	}
	for _, d := range m.Diagnostics() {
		if strings.HasSuffix(d.Message, "\r") {
			t.Errorf("carriage return leaked into message %q", d.Message)
		}
	}
}

func TestMatcherDeduplicates(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())

	if !m.Write(Stdout, []byte("a.ts:1: error X\n")) {
		t.Error("expected first write to update")
	}
	if m.Write(Stdout, []byte("a.ts:1: error X\n")) {
		t.Error("expected duplicate write to not update")
	}
	if m.Write(Stdout, []byte("a.ts:1: error X   \n")) {
		t.Error("expected structurally identical diagnostic to not update")
	}
	if n := m.Len(); n != 1 {
		t.Errorf("expected 1 diagnostic, got %d", n)
	}
}

func TestMatcherReset(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())

	if m.Reset() {
		t.Error("expected Reset on empty set to report no change")
	}

	m.Write(Stdout, []byte("a.ts:1: error X\nb.ts:"))
	if !m.Reset() {
		t.Error("expected Reset to report change")
	}
	if m.Len() != 0 {
		t.Error("expected empty set after Reset")
	}

	// The partial "b.ts:" must not leak into the next run.
	m.Write(Stdout, []byte("2: error Y\n"))
	if m.Len() != 0 {
		t.Errorf("expected partial line to be discarded, got %v", m.Diagnostics())
	}
}

func TestMatcherFlush(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())

	m.Write(Stdout, []byte("a.ts:1: error no newline"))
	if m.Len() != 0 {
		t.Fatal("expected partial line to be buffered")
	}
	if !m.Flush() {
		t.Error("expected Flush to report change")
	}
	if m.Len() != 1 {
		t.Errorf("expected 1 diagnostic after Flush, got %d", m.Len())
	}
}

func TestMatcherDefaultSeverity(t *testing.T) {
	cfg := Config{
		Owner: "lint",
		Pattern: Patterns{{
			Regexp:  `^(\S+):(\d+):(\d+) (.*)$`,
			File:    1,
			Line:    2,
			Column:  3,
			Message: 4,
		}},
	}

	m := newTestMatcher(t, cfg)
	m.Write(Stdout, []byte("a.go:3:7 unused variable\n"))
	d := m.Diagnostics()
	if len(d) != 1 || d[0].Severity != SeverityError || d[0].Location != "3,7" {
		t.Fatalf("expected error severity at 3,7, got %+v", d)
	}

	cfg.Severity = "warn"
	m = newTestMatcher(t, cfg)
	m.Write(Stdout, []byte("a.go:3:7 unused variable\n"))
	if d := m.Diagnostics(); d[0].Severity != SeverityWarning {
		t.Errorf("expected configured warning severity, got %s", d[0].Severity)
	}
}

func TestMatcherRequiresFileAndMessage(t *testing.T) {
	cfg := Config{
		Owner: "x",
		Pattern: Patterns{{
			Regexp:  `^(\S*)\|(.*)$`,
			File:    1,
			Message: 2,
		}},
	}
	m := newTestMatcher(t, cfg)

	m.Write(Stdout, []byte("|message without file\nfile.txt|\n"))
	if m.Len() != 0 {
		t.Errorf("expected incomplete matches to be dropped, got %v", m.Diagnostics())
	}
}

func TestMatcherStripsANSI(t *testing.T) {
	m := newTestMatcher(t, simpleConfig())
	m.Write(Stdout, []byte("\x1b[36ma.ts\x1b[0m:1: \x1b[31merror\x1b[0m colored\n"))

	d := m.Diagnostics()
	if len(d) != 1 || d[0].File != "a.ts" || d[0].Message != "colored" {
		t.Errorf("expected ANSI sequences to be stripped, got %+v", d)
	}
}

func TestMatcherLongLine(t *testing.T) {
	tmpl, err := Compile(simpleConfig())
	if err != nil {
		t.Fatal(err)
	}
	m := tmpl.NewMatcher("", Limits{MaxLineLength: 16})

	m.Write(Stdout, []byte(strings.Repeat("x", 100)))
	if len(m.pending) > 16 {
		t.Errorf("expected pending buffer to stay bounded, got %d bytes", len(m.pending))
	}
}

func TestMatcherMultiLineLoop(t *testing.T) {
	cfg, _ := Builtin("$eslint-stylish")
	m := newTestMatcher(t, cfg)

	output := strings.Join([]string{
		"src/app.ts",
		"  10:5  error  Unexpected any  no-explicit-any",
		"  12:1  warning  Missing return type  explicit-function-return-type",
		"",
		"src/util.ts",
		"  3:9  error  'x' is defined but never used  no-unused-vars",
		"",
		"✖ 3 problems",
		"",
	}, "\n")

	m.Write(Stdout, []byte(output))

	got := m.Diagnostics()
	if len(got) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d: %+v", len(got), got)
	}

	want := map[string]bool{
		"error;src/app.ts;10,5;no-explicit-any;Unexpected any":                      true,
		"warning;src/app.ts;12,1;explicit-function-return-type;Missing return type": true,
		"error;src/util.ts;3,9;no-unused-vars;'x' is defined but never used":        true,
	}
	for _, d := range got {
		if !want[d.Line()] {
			t.Errorf("unexpected diagnostic line %q", d.Line())
		}
	}
}

func TestMatcherLoopBound(t *testing.T) {
	cfg, _ := Builtin("$eslint-stylish")
	tmpl := MustCompile(cfg)
	m := tmpl.NewMatcher("", Limits{MaxLoopIterations: 2})

	m.Write(Stdout, []byte("src/app.ts\n  1:1  error  one  r1\n  2:1  error  two  r2\n  3:1  error  three  r3\n"))

	if n := m.Len(); n != 2 {
		t.Errorf("expected loop to stop after 2 iterations, got %d diagnostics", n)
	}
}

func TestMatcherMaxDiagnostics(t *testing.T) {
	tmpl := MustCompile(simpleConfig())
	m := tmpl.NewMatcher("", Limits{MaxDiagnostics: 2})

	m.Write(Stdout, []byte("a:1: error 1\na:2: error 2\na:3: error 3\n"))
	if n := m.Len(); n != 2 {
		t.Errorf("expected set capped at 2, got %d", n)
	}
}

func TestMatcherBrokenSequenceRetries(t *testing.T) {
	cfg, _ := Builtin("$rustc")
	m := newTestMatcher(t, cfg)

	m.Write(Stdout, []byte(strings.Join([]string{
		"error[E0308]: stale header",
		"error[E0425]: cannot find value `y` in this scope",
		"  --> src/main.rs:4:5",
		"warning: unused import",
		"   |",
		"",
	}, "\n")))

	got := m.Diagnostics()
	if len(got) != 1 {
		t.Fatalf("expected 1 diagnostic, got %+v", got)
	}
	d := got[0]
	if d.Code != "E0425" || d.File != "src/main.rs" || d.Location != "4,5" || d.Message != "cannot find value `y` in this scope" {
		t.Errorf("unexpected diagnostic %+v", d)
	}
}

func TestMatcherRelativeFileLocation(t *testing.T) {
	cfg := simpleConfig()
	cfg.FileLocation = FileLocation{Kind: FileLocationRelative}
	tmpl := MustCompile(cfg)

	dir := filepath.Join("/work", "project")
	m := tmpl.NewMatcher(dir, Limits{})
	m.Write(Stdout, []byte("src/a.ts:1: error X\n/abs/b.ts:1: error Y\n"))

	files := map[string]bool{}
	for _, d := range m.Diagnostics() {
		files[d.File] = true
	}
	if !files[filepath.Join(dir, "src/a.ts")] || !files["/abs/b.ts"] {
		t.Errorf("unexpected files %v", files)
	}
}

func TestMatchersAreIndependent(t *testing.T) {
	tmpl := MustCompile(simpleConfig())
	a := tmpl.NewMatcher("", Limits{})
	b := tmpl.NewMatcher("", Limits{})

	a.Write(Stdout, []byte("a.ts:1"))
	b.Write(Stdout, []byte("b.ts:2: error B\n"))
	a.Write(Stdout, []byte(": error A\n"))

	if a.Len() != 1 || b.Len() != 1 {
		t.Fatalf("expected one diagnostic each, got %d and %d", a.Len(), b.Len())
	}
	if a.Diagnostics()[0].File != "a.ts" || b.Diagnostics()[0].File != "b.ts" {
		t.Error("matchers shared state")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"no owner", Config{Pattern: Patterns{{Regexp: "x"}}}, ErrNoOwner},
		{"no pattern", Config{Owner: "x"}, ErrNoPattern},
		{"loop not last", Config{Owner: "x", Pattern: Patterns{{Regexp: "a", Loop: true}, {Regexp: "b"}}}, ErrLoopNotLast},
		{"bad group", Config{Owner: "x", Pattern: Patterns{{Regexp: "(a)", Message: 2}}}, ErrBadGroup},
		{"bad severity", Config{Owner: "x", Severity: "critical", Pattern: Patterns{{Regexp: "a"}}}, ErrBadSeverity},
		{"bad file location", Config{Owner: "x", FileLocation: FileLocation{Kind: "autodetect"}, Pattern: Patterns{{Regexp: "a"}}}, ErrBadFileLocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.cfg)
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
		})
	}

	if _, err := Compile(Config{Owner: "x", Pattern: Patterns{{Regexp: "("}}}); err == nil {
		t.Error("expected invalid regexp to fail")
	}
}

func TestBuiltinsCompile(t *testing.T) {
	for _, name := range BuiltinNames() {
		cfg, _ := Builtin(name)
		if _, err := Compile(cfg); err != nil {
			t.Errorf("builtin %s: %v", name, err)
		}
	}
}

func TestBuiltinTSC(t *testing.T) {
	cfg, _ := Builtin("$tsc")
	m := newTestMatcher(t, cfg)

	m.Write(Stdout, []byte("src/a.ts(10,5): error TS2322: Type 'string' is not assignable to type 'number'.\n"))

	d := m.Diagnostics()
	if len(d) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", d)
	}
	if d[0].Code != "TS2322" || d[0].Location != "10,5" || d[0].Owner != "typescript" {
		t.Errorf("unexpected diagnostic %+v", d[0])
	}
}

func TestConfigUnmarshal(t *testing.T) {
	var single Config
	if err := json.Unmarshal([]byte(`{"owner":"a","pattern":{"regexp":"x","file":1}}`), &single); err != nil {
		t.Fatal(err)
	}
	if len(single.Pattern) != 1 || single.Pattern[0].File != 1 {
		t.Errorf("expected single pattern object to become a list, got %+v", single.Pattern)
	}

	var multi Config
	data := `{"owner":"b","fileLocation":["relative","src"],"pattern":[{"regexp":"x"},{"regexp":"y","loop":true}]}`
	if err := json.Unmarshal([]byte(data), &multi); err != nil {
		t.Fatal(err)
	}
	if len(multi.Pattern) != 2 || !multi.Pattern[1].Loop {
		t.Errorf("unexpected patterns %+v", multi.Pattern)
	}
	if multi.FileLocation.Kind != FileLocationRelative || multi.FileLocation.Base != "src" {
		t.Errorf("unexpected file location %+v", multi.FileLocation)
	}

	var plain Config
	if err := json.Unmarshal([]byte(`{"owner":"c","fileLocation":"absolute","pattern":[]}`), &plain); err != nil {
		t.Fatal(err)
	}
	if plain.FileLocation.Kind != FileLocationAbsolute {
		t.Errorf("unexpected file location %+v", plain.FileLocation)
	}
}

func TestParseSeverity(t *testing.T) {
	tests := map[string]Severity{
		"error":   SeverityError,
		"Fatal":   SeverityError,
		"WARNING": SeverityWarning,
		"warn":    SeverityWarning,
		"note":    SeverityInfo,
		"Info":    SeverityInfo,
	}
	for in, want := range tests {
		if got, ok := ParseSeverity(in); !ok || got != want {
			t.Errorf("ParseSeverity(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseSeverity("critical"); ok {
		t.Error("expected unknown severity to be rejected")
	}
}
