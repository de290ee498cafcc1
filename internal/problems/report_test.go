package problems

import (
	"bytes"
	"testing"
)

func TestAggregateAcrossMatchers(t *testing.T) {
	lint := MustCompile(Config{
		Owner: "lint",
		Pattern: Patterns{{
			Regexp:   `^(\S+):(\d+): (error|warning) (.*)$`,
			File:     1,
			Line:     2,
			Severity: 3,
			Message:  4,
		}},
	})

	a := lint.NewMatcher("", Limits{})
	b := lint.NewMatcher("", Limits{})
	other := MustCompile(simpleConfig()).NewMatcher("", Limits{})

	a.Write(Stdout, []byte("x.ts:1: error shared\nx.ts:2: warning only-a\n"))
	b.Write(Stdout, []byte("x.ts:1: error shared\n"))
	other.Write(Stdout, []byte("y.ts:3: error typed\n"))

	report := Aggregate(a.Diagnostics(), b.Diagnostics(), other.Diagnostics())

	if got := report.Owners(); len(got) != 2 || got[0] != "lint" || got[1] != "typescript" {
		t.Fatalf("unexpected owners %v", got)
	}
	if n := len(report["lint"]); n != 2 {
		t.Errorf("expected shared diagnostic to collapse, got %d lines: %v", n, report["lint"])
	}
	if report.Count() != 3 {
		t.Errorf("expected 3 lines total, got %d", report.Count())
	}
}

func TestReportRender(t *testing.T) {
	report := Report{
		"lint": {"error;a.ts;1;;first", "warning;b.ts;2,3;W1;second"},
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, []string{"lint", "typescript"}); err != nil {
		t.Fatal(err)
	}

	want := "[biu-problems;lint;begin]\n" +
		"[biu-problem;error;a.ts;1;;first]\n" +
		"[biu-problem;warning;b.ts;2,3;W1;second]\n" +
		"[biu-problems;lint;end]\n" +
		"[biu-problems;typescript;begin]\n" +
		"[biu-problems;typescript;end]\n"

	if buf.String() != want {
		t.Errorf("unexpected report:\n%s\nwant:\n%s", buf.String(), want)
	}
}

func TestDiagnosticLineFlattensNewlines(t *testing.T) {
	d := Diagnostic{Severity: SeverityInfo, File: "a", Location: "1", Message: "two\nlines"}
	if got := d.Line(); got != "info;a;1;;two lines" {
		t.Errorf("unexpected line %q", got)
	}
}
