package problems

import (
	"bytes"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// Limits caps the resources one Matcher may use. Zero values use the
// package defaults.
type Limits struct {
	MaxLineLength     int
	MaxLoopIterations int
	MaxDiagnostics    int
}

func (l Limits) withDefaults() Limits {
	if l.MaxLineLength <= 0 {
		l.MaxLineLength = DefaultMaxLineLength
	}
	if l.MaxLoopIterations <= 0 {
		l.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if l.MaxDiagnostics <= 0 {
		l.MaxDiagnostics = DefaultMaxDiagnostics
	}
	return l
}

// Stream identifies the output stream a chunk came from. Each stream
// assembles its own lines; completed lines share one stage machine.
type Stream uint8

const (
	Stdout Stream = iota
	Stderr
	numStreams
)

// fields accumulates captures across stages.
type fields struct {
	file, location, line, column, endLine, endColumn string
	severity, code, message                          string
}

func (f *fields) apply(p Pattern, match []string) {
	set := func(dst *string, idx int) {
		if idx > 0 && idx < len(match) && match[idx] != "" {
			*dst = match[idx]
		}
	}
	set(&f.file, p.File)
	set(&f.location, p.Location)
	set(&f.line, p.Line)
	set(&f.column, p.Column)
	set(&f.endLine, p.EndLine)
	set(&f.endColumn, p.EndColumn)
	set(&f.severity, p.Severity)
	set(&f.code, p.Code)
	set(&f.message, p.Message)
}

// Matcher is the per-task parsing state of a Template. Write, Flush and
// Reset are meant to be called from a single goroutine; Diagnostics may be
// called from any goroutine.
type Matcher struct {
	tmpl   *Template
	dir    string
	limits Limits

	pending [numStreams][]byte
	stage   int
	base    fields
	looped  int

	mu  sync.RWMutex
	set map[Diagnostic]struct{}
}

// NewMatcher creates a matcher with empty state. dir is the task working
// directory used to resolve relative file paths.
func (t *Template) NewMatcher(dir string, limits Limits) *Matcher {
	return &Matcher{
		tmpl:   t,
		dir:    dir,
		limits: limits.withDefaults(),
		set:    make(map[Diagnostic]struct{}),
	}
}

// Owner returns the template owner.
func (m *Matcher) Owner() string {
	return m.tmpl.owner
}

// Write consumes a chunk of output from stream. It returns true if the
// diagnostic set changed.
func (m *Matcher) Write(stream Stream, p []byte) bool {
	if stream >= numStreams {
		stream = Stdout
	}
	data := append(m.pending[stream], p...)
	changed := false

	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(data[:idx], []byte{'\r'})
		if m.processLine(string(line)) {
			changed = true
		}
		data = data[idx+1:]
	}

	for len(data) > m.limits.MaxLineLength {
		if m.processLine(string(data[:m.limits.MaxLineLength])) {
			changed = true
		}
		data = data[m.limits.MaxLineLength:]
	}

	m.pending[stream] = append(m.pending[stream][:0], data...)
	return changed
}

// Flush processes trailing partial lines, stdout first, e.g. when the
// streams ended without a newline, and clears the multi-line state.
func (m *Matcher) Flush() bool {
	changed := false
	for i := range m.pending {
		if len(m.pending[i]) == 0 {
			continue
		}
		line := bytes.TrimSuffix(m.pending[i], []byte{'\r'})
		if m.processLine(string(line)) {
			changed = true
		}
		m.pending[i] = m.pending[i][:0]
	}
	m.resetStage()
	return changed
}

// Reset drops all diagnostics and parsing state. It returns true if the
// set was non-empty.
func (m *Matcher) Reset() bool {
	for i := range m.pending {
		m.pending[i] = m.pending[i][:0]
	}
	m.resetStage()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.set) == 0 {
		return false
	}
	m.set = make(map[Diagnostic]struct{})
	return true
}

// Diagnostics returns a copy of the current set, sorted by formatted line.
func (m *Matcher) Diagnostics() []Diagnostic {
	m.mu.RLock()
	out := make([]Diagnostic, 0, len(m.set))
	for d := range m.set {
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Line() < out[j].Line()
	})
	return out
}

// Len returns the number of diagnostics in the set.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.set)
}

func (m *Matcher) resetStage() {
	m.stage = 0
	m.base = fields{}
	m.looped = 0
}

// processLine advances the stage machine by one line.
func (m *Matcher) processLine(line string) bool {
	line = ansi.Strip(line)
	stages := m.tmpl.stages
	last := len(stages) - 1

	if m.stage > 0 {
		st := stages[m.stage]
		if match := st.re.FindStringSubmatch(line); match != nil {
			if m.stage < last {
				m.base.apply(st.Pattern, match)
				m.stage++
				return false
			}

			f := m.base
			f.apply(st.Pattern, match)
			changed := m.emit(f)

			if st.Loop {
				m.looped++
				if m.looped >= m.limits.MaxLoopIterations {
					m.resetStage()
				}
				return changed
			}
			m.resetStage()
			return changed
		}

		// The sequence broke; the line may start a new one.
		m.resetStage()
	}

	match := stages[0].re.FindStringSubmatch(line)
	if match == nil {
		return false
	}

	var f fields
	f.apply(stages[0].Pattern, match)

	if last == 0 {
		return m.emit(f)
	}

	m.base = f
	m.stage = 1
	return false
}

// emit converts accumulated captures to a diagnostic and adds it to the
// set. Incomplete matches are dropped.
func (m *Matcher) emit(f fields) bool {
	if f.file == "" || f.message == "" {
		return false
	}

	severity, ok := ParseSeverity(f.severity)
	if !ok {
		severity = m.tmpl.severity
	}

	location := f.location
	if location == "" {
		location = formatLocation(f.line, f.column, f.endLine, f.endColumn)
	}

	d := Diagnostic{
		Severity: severity,
		File:     m.resolveFile(f.file),
		Location: location,
		Code:     f.code,
		Message:  f.message,
		Owner:    m.tmpl.owner,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.set[d]; exists {
		return false
	}
	if len(m.set) >= m.limits.MaxDiagnostics {
		return false
	}
	m.set[d] = struct{}{}
	return true
}

func (m *Matcher) resolveFile(file string) string {
	if m.tmpl.fileLocation.Kind != FileLocationRelative || filepath.IsAbs(file) {
		return file
	}
	base := m.tmpl.fileLocation.Base
	if base == "" {
		base = m.dir
	} else if !filepath.IsAbs(base) && m.dir != "" {
		base = filepath.Join(m.dir, base)
	}
	if base == "" {
		return file
	}
	return filepath.Join(base, file)
}
