package problems

import (
	"strings"
)

// Diagnostic is one structured problem extracted from output.
type Diagnostic struct {
	Severity Severity `json:"severity" doc:"error, warning or info"`
	File     string   `json:"file" doc:"File path as reported by the tool"`
	Location string   `json:"location" doc:"Raw location text or line,column[,endLine,endColumn]"`
	Code     string   `json:"code" doc:"Tool specific problem code"`
	Message  string   `json:"message" doc:"Problem description"`
	Owner    string   `json:"owner" doc:"Matcher owner the diagnostic is grouped under"`
}

// Line formats the diagnostic as severity;file;location;code;message.
// Line breaks inside fields are flattened so the report stays one
// diagnostic per line.
func (d Diagnostic) Line() string {
	return strings.Join([]string{
		sanitizeField(string(d.Severity)),
		sanitizeField(d.File),
		sanitizeField(d.Location),
		sanitizeField(d.Code),
		sanitizeField(d.Message),
	}, ";")
}

var fieldReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

func sanitizeField(s string) string {
	return fieldReplacer.Replace(s)
}

// formatLocation builds the location from separate line/column captures.
func formatLocation(line, column, endLine, endColumn string) string {
	if line == "" {
		return ""
	}
	parts := []string{line}
	if column != "" {
		parts = append(parts, column)
		if endLine != "" {
			parts = append(parts, endLine)
			if endColumn != "" {
				parts = append(parts, endColumn)
			}
		}
	}
	return strings.Join(parts, ",")
}
