package problems

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// Limits bound the work a single Matcher does for a runaway process.
const (
	DefaultMaxLineLength     = 64 * 1024
	DefaultMaxLoopIterations = 10000
	DefaultMaxDiagnostics    = 10000
)

var (
	// ErrNoOwner is returned when a matcher has no owner.
	ErrNoOwner = errors.New("problem matcher owner is required")
	// ErrNoPattern is returned when a matcher has no patterns.
	ErrNoPattern = errors.New("problem matcher needs at least one pattern")
	// ErrLoopNotLast is returned when a non-final stage sets loop.
	ErrLoopNotLast = errors.New("only the last pattern may loop")
	// ErrBadGroup is returned when a field references a missing capture group.
	ErrBadGroup = errors.New("capture group out of range")
	// ErrBadSeverity is returned for an unrecognized default severity.
	ErrBadSeverity = errors.New("unknown severity")
	// ErrBadFileLocation is returned for an unrecognized fileLocation kind.
	ErrBadFileLocation = errors.New("unknown fileLocation")
)

// Config is the user facing definition of a problem matcher.
type Config struct {
	// Owner groups every diagnostic this matcher produces.
	Owner string `json:"owner"`

	// Severity is used when a pattern does not capture one.
	Severity string `json:"severity,omitempty"`

	// FileLocation controls how captured file paths are interpreted.
	FileLocation FileLocation `json:"fileLocation,omitzero"`

	// Pattern is one pattern or an ordered list of stages.
	Pattern Patterns `json:"pattern"`
}

// Pattern is one stage of a matcher. Field values are capture group
// indices; 0 means "not captured by this stage".
type Pattern struct {
	Regexp    string `json:"regexp"`
	File      int    `json:"file,omitempty"`
	Location  int    `json:"location,omitempty"`
	Line      int    `json:"line,omitempty"`
	Column    int    `json:"column,omitempty"`
	EndLine   int    `json:"endLine,omitempty"`
	EndColumn int    `json:"endColumn,omitempty"`
	Severity  int    `json:"severity,omitempty"`
	Code      int    `json:"code,omitempty"`
	Message   int    `json:"message,omitempty"`
	Loop      bool   `json:"loop,omitempty"`
}

// Patterns accepts either a single pattern object or an array of them.
type Patterns []Pattern

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patterns) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var single Pattern
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*p = Patterns{single}
		return nil
	}
	var list []Pattern
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*p = list
	return nil
}

// FileLocation is either "absolute" or "relative" with an optional base
// directory. In JSON it is a string or a [kind, base] pair.
type FileLocation struct {
	Kind string
	Base string
}

// File location kinds.
const (
	FileLocationAbsolute = "absolute"
	FileLocationRelative = "relative"
)

// IsZero reports whether no file location was configured.
func (f FileLocation) IsZero() bool {
	return f.Kind == "" && f.Base == ""
}

// MarshalJSON implements json.Marshaler.
func (f FileLocation) MarshalJSON() ([]byte, error) {
	if f.Base != "" {
		return json.Marshal([]string{f.Kind, f.Base})
	}
	return json.Marshal(f.Kind)
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *FileLocation) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []string
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) == 0 || len(pair) > 2 {
			return fmt.Errorf("%w: expected [kind, base]", ErrBadFileLocation)
		}
		f.Kind = pair[0]
		if len(pair) == 2 {
			f.Base = pair[1]
		}
		return nil
	}
	f.Base = ""
	return json.Unmarshal(data, &f.Kind)
}

// Template is a compiled, immutable matcher definition.
type Template struct {
	owner        string
	severity     Severity
	fileLocation FileLocation
	stages       []stage
}

type stage struct {
	re *regexp.Regexp
	Pattern
}

// Compile validates cfg and compiles its regular expressions.
func Compile(cfg Config) (*Template, error) {
	if cfg.Owner == "" {
		return nil, ErrNoOwner
	}
	if len(cfg.Pattern) == 0 {
		return nil, fmt.Errorf("%s: %w", cfg.Owner, ErrNoPattern)
	}

	severity := DefaultSeverity
	if cfg.Severity != "" {
		parsed, ok := ParseSeverity(cfg.Severity)
		if !ok {
			return nil, fmt.Errorf("%s: %w %q", cfg.Owner, ErrBadSeverity, cfg.Severity)
		}
		severity = parsed
	}

	switch cfg.FileLocation.Kind {
	case "", FileLocationAbsolute, FileLocationRelative:
	default:
		return nil, fmt.Errorf("%s: %w %q", cfg.Owner, ErrBadFileLocation, cfg.FileLocation.Kind)
	}

	t := &Template{
		owner:        cfg.Owner,
		severity:     severity,
		fileLocation: cfg.FileLocation,
		stages:       make([]stage, 0, len(cfg.Pattern)),
	}

	for i, p := range cfg.Pattern {
		re, err := regexp.Compile(p.Regexp)
		if err != nil {
			return nil, fmt.Errorf("%s: pattern %d: %w", cfg.Owner, i, err)
		}
		if p.Loop && i != len(cfg.Pattern)-1 {
			return nil, fmt.Errorf("%s: pattern %d: %w", cfg.Owner, i, ErrLoopNotLast)
		}
		groups := re.NumSubexp()
		for name, idx := range p.groups() {
			if idx < 0 || idx > groups {
				return nil, fmt.Errorf("%s: pattern %d: %s=%d: %w", cfg.Owner, i, name, idx, ErrBadGroup)
			}
		}
		t.stages = append(t.stages, stage{re: re, Pattern: p})
	}

	return t, nil
}

// MustCompile is like Compile but panics on error. Used for built-ins.
func MustCompile(cfg Config) *Template {
	t, err := Compile(cfg)
	if err != nil {
		panic(err)
	}
	return t
}

// Owner returns the owner of diagnostics produced by the template.
func (t *Template) Owner() string {
	return t.owner
}

// Stages returns the number of pattern stages.
func (t *Template) Stages() int {
	return len(t.stages)
}

func (p Pattern) groups() map[string]int {
	return map[string]int{
		"file":      p.File,
		"location":  p.Location,
		"line":      p.Line,
		"column":    p.Column,
		"endLine":   p.EndLine,
		"endColumn": p.EndColumn,
		"severity":  p.Severity,
		"code":      p.Code,
		"message":   p.Message,
	}
}
