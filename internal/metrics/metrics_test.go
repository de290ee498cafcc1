package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func intPtr(i int) *int { return &i }

func TestTaskLifecycleMetrics(t *testing.T) {
	task := "metrics-test-lifecycle"
	defer DeleteTaskMetrics(task)

	TaskStarted(task)
	TaskStarted(task)
	TaskStopped(task)

	if got := testutil.ToFloat64(taskStarts.WithLabelValues(task)); got != 2 {
		t.Errorf("starts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(taskRunning.WithLabelValues(task)); got != 1 {
		t.Errorf("running = %v, want 1", got)
	}

	TaskExited(task, intPtr(0))
	TaskExited(task, intPtr(2))
	TaskExited(task, nil)
	TaskFailed(task)

	for outcome, want := range map[string]float64{OutcomeSuccess: 1, OutcomeFailure: 1, OutcomeSignal: 1} {
		if got := testutil.ToFloat64(taskExits.WithLabelValues(task, outcome)); got != want {
			t.Errorf("exits{%s} = %v, want %v", outcome, got, want)
		}
	}
	if got := testutil.ToFloat64(taskErrors.WithLabelValues(task)); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}

	AddOutput(task, "stdout", 5)
	AddOutput(task, "stdout", 7)
	if got := testutil.ToFloat64(taskOutputBytes.WithLabelValues(task, "stdout")); got != 12 {
		t.Errorf("output bytes = %v, want 12", got)
	}
}

func TestSetProblemsReplacesSeries(t *testing.T) {
	SetProblems(map[string][]string{
		"typescript": {"error;a.ts;1,1;TS1;x", "error;b.ts;2,1;TS2;y", "warning;c.ts;3;;z"},
	})

	if got := testutil.ToFloat64(problemCount.WithLabelValues("typescript", "error")); got != 2 {
		t.Errorf("errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(problemCount.WithLabelValues("typescript", "warning")); got != 1 {
		t.Errorf("warnings = %v, want 1", got)
	}

	SetProblems(map[string][]string{"go": {"error;main.go;1;;bad"}})
	if n := testutil.CollectAndCount(problemCount); n != 1 {
		t.Errorf("expected stale owners to be dropped, got %d series", n)
	}
}

func TestViewerGauge(t *testing.T) {
	ViewerConnected("metrics-test")
	ViewerConnected("metrics-test")
	ViewerDisconnected("metrics-test")

	if got := testutil.ToFloat64(viewers.WithLabelValues("metrics-test")); got != 1 {
		t.Errorf("viewers = %v, want 1", got)
	}
	viewers.DeleteLabelValues("metrics-test")
}
