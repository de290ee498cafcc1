package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/supervisor"
	"github.com/smazurov/biu/internal/task"
	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedFormat is returned for a tasks file with an unknown extension.
	ErrUnsupportedFormat = errors.New("unsupported tasks file format")
	// ErrNoExecutable is returned for a task without executable or command.
	ErrNoExecutable = errors.New("task has no executable")
	// ErrUnknownMatcher is returned for a reference to an undefined problem matcher.
	ErrUnknownMatcher = errors.New("unknown problem matcher")
	// ErrInvalidKey is returned for a mapping key that cannot name a field.
	ErrInvalidKey = errors.New("invalid mapping key")
)

// TasksDocument is the tasks file.
type TasksDocument struct {
	Tasks           map[string]TaskEntry        `json:"tasks"`
	Groups          any                         `json:"groups,omitempty"`
	ProblemMatchers map[string]problems.Config `json:"problemMatchers,omitempty"`
}

// TaskEntry is one task definition as written in the tasks file.
type TaskEntry struct {
	Executable string   `json:"executable,omitempty"`
	Args       []string `json:"args,omitempty"`
	// Command is a shell-style command line used when Executable is empty.
	Command string `json:"command,omitempty"`
	Cwd     string `json:"cwd,omitempty"`
	Stdout  bool   `json:"stdout,omitempty"`
	Stderr  bool   `json:"stderr,omitempty"`
	// ProblemMatcher is a matcher name or an inline matcher config.
	ProblemMatcher *MatcherRef `json:"problemMatcher,omitempty"`
}

// MatcherRef names a matcher or embeds one.
type MatcherRef struct {
	Name   string
	Inline *problems.Config
}

// UnmarshalJSON accepts a string or an object.
func (m *MatcherRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		m.Name = name
		return nil
	}
	var cfg problems.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("problemMatcher: expected name or object: %w", err)
	}
	m.Inline = &cfg
	return nil
}

// MarshalJSON writes the name or the inline config.
func (m MatcherRef) MarshalJSON() ([]byte, error) {
	if m.Inline != nil {
		return json.Marshal(m.Inline)
	}
	return json.Marshal(m.Name)
}

// LoadTasks reads a tasks file and builds the catalog. Relative working
// directories resolve against the file's directory.
func LoadTasks(path string) (supervisor.Catalog, error) {
	doc, err := ReadTasksDocument(path)
	if err != nil {
		return supervisor.Catalog{}, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return supervisor.Catalog{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	return doc.Catalog(filepath.Dir(abs))
}

// ReadTasksDocument parses a .json, .toml, .yaml or .yml tasks file.
func ReadTasksDocument(path string) (*TasksDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	doc, err := ParseTasksDocument(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// ParseTasksDocument decodes data in the format named by ext. TOML and
// YAML are normalized to JSON first so every format shares the same
// field rules.
func ParseTasksDocument(data []byte, ext string) (*TasksDocument, error) {
	var tree any
	switch strings.ToLower(ext) {
	case ".json":
	case ".toml":
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse TOML: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if tree != nil {
		tree, err := stringKeys(tree, "")
		if err != nil {
			return nil, err
		}
		normalized, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("normalize document: %w", err)
		}
		data = normalized
	}

	var doc TasksDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tasks document: %w", err)
	}
	return &doc, nil
}

// stringKeys turns YAML mappings with scalar non-string keys, such as a
// task named 8080, into string-keyed maps. Other keys are rejected with
// their path.
func stringKeys(v any, path string) (any, error) {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			converted, err := stringKeys(child, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			node[k] = converted
		}
		return node, nil

	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			var key string
			switch k.(type) {
			case string, int, int64, uint64, float64, bool:
				key = fmt.Sprint(k)
			default:
				return nil, fmt.Errorf("%w at %s: %v", ErrInvalidKey, displayPath(path), k)
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("%w at %s: duplicate key %q", ErrInvalidKey, displayPath(path), key)
			}
			converted, err := stringKeys(child, joinPath(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = converted
		}
		return out, nil

	case []any:
		for i, child := range node {
			converted, err := stringKeys(child, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			node[i] = converted
		}
		return node, nil
	}
	return v, nil
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func displayPath(path string) string {
	if path == "" {
		return "document root"
	}
	return path
}

// Catalog validates the document and compiles its matchers. All problems
// are reported together.
func (d *TasksDocument) Catalog(baseDir string) (supervisor.Catalog, error) {
	catalog := supervisor.Catalog{
		Tasks:  make(map[string]supervisor.TaskSpec, len(d.Tasks)),
		Groups: d.Groups,
	}

	names := make([]string, 0, len(d.Tasks))
	for name := range d.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled := make(map[string]*problems.Template)
	var errs []error

	for _, name := range names {
		entry := d.Tasks[name]

		def, err := entry.definition(name, baseDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %q: %w", name, err))
			continue
		}

		spec := supervisor.TaskSpec{Definition: def}
		if entry.ProblemMatcher != nil {
			tmpl, err := d.matcher(*entry.ProblemMatcher, compiled)
			if err != nil {
				errs = append(errs, fmt.Errorf("task %q: %w", name, err))
				continue
			}
			spec.Matcher = tmpl
		}
		catalog.Tasks[name] = spec
	}

	if err := errors.Join(errs...); err != nil {
		return supervisor.Catalog{}, err
	}
	return catalog, nil
}

func (e TaskEntry) definition(name, baseDir string) (task.Definition, error) {
	executable, args := e.Executable, e.Args
	if executable == "" && e.Command != "" {
		words, err := shellquote.Split(e.Command)
		if err != nil {
			return task.Definition{}, fmt.Errorf("command: %w", err)
		}
		if len(words) > 0 {
			executable, args = words[0], append(words[1:], e.Args...)
		}
	}
	if executable == "" {
		return task.Definition{}, ErrNoExecutable
	}

	dir := baseDir
	if e.Cwd != "" {
		dir = e.Cwd
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(baseDir, dir)
		}
	}

	return task.Definition{
		Name:       name,
		Executable: executable,
		Args:       args,
		Dir:        dir,
		EchoStdout: e.Stdout,
		EchoStderr: e.Stderr,
	}, nil
}

// matcher resolves a reference. Named matchers from the document shadow
// built-ins and are compiled once.
func (d *TasksDocument) matcher(ref MatcherRef, compiled map[string]*problems.Template) (*problems.Template, error) {
	if ref.Inline != nil {
		tmpl, err := problems.Compile(*ref.Inline)
		if err != nil {
			return nil, fmt.Errorf("inline problem matcher: %w", err)
		}
		return tmpl, nil
	}

	if tmpl, ok := compiled[ref.Name]; ok {
		return tmpl, nil
	}

	cfg, ok := d.ProblemMatchers[ref.Name]
	if !ok {
		cfg, ok = problems.Builtin(ref.Name)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatcher, ref.Name)
	}

	tmpl, err := problems.Compile(cfg)
	if err != nil {
		return nil, fmt.Errorf("problem matcher %q: %w", ref.Name, err)
	}
	compiled[ref.Name] = tmpl
	return tmpl, nil
}
