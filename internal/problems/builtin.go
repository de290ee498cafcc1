package problems

import "sort"

// builtins are named templates available to every configuration. A
// configuration entry with the same name replaces the built-in.
var builtins = map[string]Config{
	// file(line,col): error TS2322: message
	"$tsc": {
		Owner:        "typescript",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{{
			Regexp:   `^([^\s].*)[\(:](\d+)[,:](\d+)(?:\):\s+|\s+-\s+)(error|warning|info)\s+(TS\d+)\s*:\s*(.*)$`,
			File:     1,
			Line:     2,
			Column:   3,
			Severity: 4,
			Code:     5,
			Message:  6,
		}},
	},
	// file:line:col: severity: message
	"$gcc": {
		Owner:        "cpp",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{{
			Regexp:   `^(.+?):(\d+):(\d+):\s+(?:fatal\s+)?(error|warning|note):\s+(.*)$`,
			File:     1,
			Line:     2,
			Column:   3,
			Severity: 4,
			Message:  5,
		}},
	},
	// file.go:line:col: message
	"$go": {
		Owner:        "go",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{{
			Regexp:  `^\s*([^\s:]+\.go):(\d+)(?::(\d+))?:\s+(.*)$`,
			File:    1,
			Line:    2,
			Column:  3,
			Message: 4,
		}},
	},
	// file: line 1, col 2, Error - message (rule)
	"$eslint-compact": {
		Owner:        "eslint",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{{
			Regexp:   `^(.+):\sline\s(\d+),\scol\s(\d+),\s(Error|Warning|Info)\s-\s(.+)\s\((.+)\)$`,
			File:     1,
			Line:     2,
			Column:   3,
			Severity: 4,
			Message:  5,
			Code:     6,
		}},
	},
	// file header followed by indented "line:col severity message rule" lines
	"$eslint-stylish": {
		Owner:        "eslint",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{
			{
				Regexp: `^([^\s].*)$`,
				File:   1,
			},
			{
				Regexp:   `^\s+(\d+):(\d+)\s+(error|warning|info)\s+(.+?)(?:\s\s+(.*))?$`,
				Line:     1,
				Column:   2,
				Severity: 3,
				Message:  4,
				Code:     5,
				Loop:     true,
			},
		},
	},
	// error[E0308]: message
	//   --> src/main.rs:4:5
	"$rustc": {
		Owner:        "rust",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{
			{
				Regexp:   `^(warning|error)(?:\[(\w+)\])?:\s+(.*)$`,
				Severity: 1,
				Code:     2,
				Message:  3,
			},
			{
				Regexp: `^\s+-->\s+(.+?):(\d+):(\d+)$`,
				File:   1,
				Line:   2,
				Column: 3,
			},
		},
	},
	// file:line:col: C0114: message
	"$pylint": {
		Owner:        "python",
		Severity:     "warning",
		FileLocation: FileLocation{Kind: FileLocationRelative},
		Pattern: Patterns{{
			Regexp:  `^(.+?):(\d+):(\d+):\s+([A-Z]\d+):\s+(.*)$`,
			File:    1,
			Line:    2,
			Column:  3,
			Code:    4,
			Message: 5,
		}},
	},
}

// Builtin returns the configuration of a built-in template.
func Builtin(name string) (Config, bool) {
	cfg, ok := builtins[name]
	return cfg, ok
}

// BuiltinNames returns the sorted names of built-in templates.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
