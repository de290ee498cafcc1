package problems

import "strings"

// Severity of a diagnostic.
type Severity string

// Severities.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// DefaultSeverity is used when neither the matched text nor the matcher
// configuration provides a recognizable severity.
const DefaultSeverity = SeverityError

// ParseSeverity normalizes tool specific severity words. The second
// result is false when s is not recognized.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err", "fatal", "e":
		return SeverityError, true
	case "warning", "warn", "w":
		return SeverityWarning, true
	case "info", "information", "note", "hint", "i":
		return SeverityInfo, true
	default:
		return "", false
	}
}
