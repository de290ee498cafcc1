package supervisor

import (
	"sort"

	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/problems"
)

// Problems returns the aggregated diagnostics of all live instances.
func (r *Registry) Problems() problems.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	report, _ := r.aggregateLocked()
	return report
}

func (r *Registry) aggregateLocked() (problems.Report, []string) {
	var sets [][]problems.Diagnostic
	var owners []string
	for _, id := range r.order {
		m := r.instances[id].task.Matcher()
		if m == nil {
			continue
		}
		owners = append(owners, m.Owner())
		sets = append(sets, m.Diagnostics())
	}
	return problems.Aggregate(sets...), owners
}

// reportProblems publishes the aggregated report and writes the text
// markers. Owners seen in earlier reports are always written, possibly
// empty, so consumers drop diagnostics of closed instances.
func (r *Registry) reportProblems() {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()

	r.mu.Lock()
	report, owners := r.aggregateLocked()
	r.publishLocked(events.KindProblems, events.ProblemsData{Problems: report})
	r.mu.Unlock()

	if r.reportedOwners == nil {
		r.reportedOwners = make(map[string]struct{})
	}
	for _, owner := range owners {
		r.reportedOwners[owner] = struct{}{}
	}
	all := make([]string, 0, len(r.reportedOwners))
	for owner := range r.reportedOwners {
		all = append(all, owner)
	}
	sort.Strings(all)

	if err := report.Render(r.report, all); err != nil {
		r.logger.Warn("Failed to write problems report", "error", err)
	}
}
