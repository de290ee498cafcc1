// Package collectors feeds metrics from the supervisor's event stream.
package collectors

import (
	"context"
	"sync"

	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/logging"
	"github.com/smazurov/biu/internal/metrics"
)

// Source is the late-join feed of the supervisor.
type Source interface {
	Connect() (events.InitializeData, *events.Subscription)
}

// SupervisorCollector turns control-plane messages into metrics.
type SupervisorCollector struct {
	source Source
	logger logging.Logger

	// names maps instance ids to task names. Only touched by run.
	names map[string]string

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewSupervisorCollector creates a collector for source.
func NewSupervisorCollector(source Source) *SupervisorCollector {
	return &SupervisorCollector{
		source: source,
		logger: logging.GetLogger("metrics"),
		names:  make(map[string]string),
		done:   make(chan struct{}),
	}
}

// Start seeds the instance gauges from the current snapshot and follows
// live messages until ctx ends or Stop is called.
func (c *SupervisorCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	init, sub := c.source.Connect()
	for _, info := range init.CreatedTasks {
		c.names[info.ID] = info.Name
		if info.Running {
			metrics.TaskStarted(info.Name)
		}
	}
	metrics.SetInstances(len(c.names))

	go c.run(ctx, sub)
}

// Stop ends collection and waits for the loop to exit.
func (c *SupervisorCollector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}

func (c *SupervisorCollector) run(ctx context.Context, sub *events.Subscription) {
	defer close(c.done)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C:
			c.apply(msg)
		}
	}
}

func (c *SupervisorCollector) apply(msg events.Message) {
	switch d := msg.Data.(type) {
	case events.CreateData:
		c.names[d.ID] = d.Name
		metrics.SetInstances(len(c.names))

	case events.IDData:
		name := c.names[d.ID]
		switch msg.Kind {
		case events.KindStart:
			metrics.TaskStarted(name)
		case events.KindStop:
			metrics.TaskStopped(name)
		case events.KindClose:
			delete(c.names, d.ID)
			metrics.SetInstances(len(c.names))
		}

	case events.ExitData:
		metrics.TaskExited(c.names[d.ID], d.Code)

	case events.ErrorData:
		metrics.TaskFailed(c.names[d.ID])

	case events.OutputData:
		metrics.AddOutput(c.names[d.ID], msg.Kind, len(d.Data))

	case events.ProblemsData:
		metrics.SetProblems(d.Problems)

	case events.ReloadData:
		c.logger.Debug("Task definitions reloaded", "tasks", len(d.TaskNames))
	}
}
