// Package metrics provides Prometheus metrics for supervised tasks,
// problem matchers and connected viewers.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "biu"

// Exit outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSignal  = "signal"
)

var (
	taskInstances = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "instances",
		Help:      "Live task instances",
	})

	taskRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "running",
		Help:      "Instances with a running process",
	}, []string{"task"})

	taskStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "starts_total",
		Help:      "Process starts",
	}, []string{"task"})

	taskExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "exits_total",
		Help:      "Process exits by outcome",
	}, []string{"task", "outcome"})

	taskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "errors_total",
		Help:      "Spawn and runtime failures",
	}, []string{"task"})

	taskOutputBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tasks",
		Name:      "output_bytes_total",
		Help:      "Bytes of output forwarded to viewers",
	}, []string{"task", "stream"})

	problemCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "problems",
		Name:      "current",
		Help:      "Diagnostics in the latest problems report",
	}, []string{"owner", "severity"})

	viewers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "viewers",
		Name:      "connected",
		Help:      "Connected viewers by transport",
	}, []string{"transport"})
)

// SetInstances sets the number of live task instances.
func SetInstances(n int) {
	taskInstances.Set(float64(n))
}

// TaskStarted records a process start.
func TaskStarted(task string) {
	taskStarts.WithLabelValues(task).Inc()
	taskRunning.WithLabelValues(task).Inc()
}

// TaskStopped records the end of a run.
func TaskStopped(task string) {
	taskRunning.WithLabelValues(task).Dec()
}

// TaskExited records a process exit. A nil code means killed by a signal.
func TaskExited(task string, code *int) {
	outcome := OutcomeSuccess
	switch {
	case code == nil:
		outcome = OutcomeSignal
	case *code != 0:
		outcome = OutcomeFailure
	}
	taskExits.WithLabelValues(task, outcome).Inc()
}

// TaskFailed records a spawn or runtime failure.
func TaskFailed(task string) {
	taskErrors.WithLabelValues(task).Inc()
}

// AddOutput records forwarded output.
func AddOutput(task, stream string, n int) {
	taskOutputBytes.WithLabelValues(task, stream).Add(float64(n))
}

// SetProblems replaces the problem gauges with the counts in report. Lines
// start with the severity field.
func SetProblems(report map[string][]string) {
	problemCount.Reset()
	for owner, lines := range report {
		counts := make(map[string]int)
		for _, line := range lines {
			severity, _, _ := strings.Cut(line, ";")
			counts[severity]++
		}
		for severity, n := range counts {
			problemCount.WithLabelValues(owner, severity).Set(float64(n))
		}
	}
}

// ViewerConnected increments the viewer gauge for transport.
func ViewerConnected(transport string) {
	viewers.WithLabelValues(transport).Inc()
}

// ViewerDisconnected decrements the viewer gauge for transport.
func ViewerDisconnected(transport string) {
	viewers.WithLabelValues(transport).Dec()
}

// DeleteTaskMetrics removes all series for a task definition.
func DeleteTaskMetrics(task string) {
	taskRunning.DeleteLabelValues(task)
	taskStarts.DeleteLabelValues(task)
	taskErrors.DeleteLabelValues(task)
	taskExits.DeletePartialMatch(prometheus.Labels{"task": task})
	taskOutputBytes.DeletePartialMatch(prometheus.Labels{"task": task})
}
