package supervisor

import (
	"sort"

	"github.com/smazurov/biu/internal/problems"
	"github.com/smazurov/biu/internal/task"
)

// TaskSpec is a task definition plus its compiled problem matcher.
type TaskSpec struct {
	Definition task.Definition
	Matcher    *problems.Template // nil when the task has no matcher
}

// Catalog is the set of task definitions instances are created from.
type Catalog struct {
	Tasks  map[string]TaskSpec
	Groups any
}

// Names returns the task names in ascending order.
func (c Catalog) Names() []string {
	names := make([]string, 0, len(c.Tasks))
	for name := range c.Tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
