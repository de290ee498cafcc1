package problems

import (
	"bytes"
	"fmt"
	"io"
	"sort"
)

// Report is the union of diagnostics across matchers, grouped by owner.
// Lines within an owner are unique and sorted.
type Report map[string][]string

// Aggregate merges diagnostic sets. Identical diagnostics reported by
// different matchers collapse into one line.
func Aggregate(sets ...[]Diagnostic) Report {
	byOwner := make(map[string]map[string]struct{})
	for _, set := range sets {
		for _, d := range set {
			lines, ok := byOwner[d.Owner]
			if !ok {
				lines = make(map[string]struct{})
				byOwner[d.Owner] = lines
			}
			lines[d.Line()] = struct{}{}
		}
	}

	report := make(Report, len(byOwner))
	for owner, lines := range byOwner {
		sorted := make([]string, 0, len(lines))
		for line := range lines {
			sorted = append(sorted, line)
		}
		sort.Strings(sorted)
		report[owner] = sorted
	}
	return report
}

// Owners returns the report owners in ascending order.
func (r Report) Owners() []string {
	owners := make([]string, 0, len(r))
	for owner := range r {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// Count returns the total number of lines in the report.
func (r Report) Count() int {
	n := 0
	for _, lines := range r {
		n += len(lines)
	}
	return n
}

// Render writes the begin/line/end markers for every owner in owners
// order. Owners listed but absent from the report are written as empty
// groups so consumers can clear them. The whole report goes out in a
// single Write.
func (r Report) Render(w io.Writer, owners []string) error {
	var buf bytes.Buffer
	for _, owner := range owners {
		fmt.Fprintf(&buf, "[biu-problems;%s;begin]\n", owner)
		for _, line := range r[owner] {
			fmt.Fprintf(&buf, "[biu-problem;%s]\n", line)
		}
		fmt.Fprintf(&buf, "[biu-problems;%s;end]\n", owner)
	}
	if buf.Len() == 0 {
		return nil
	}
	_, err := w.Write(buf.Bytes())
	return err
}
