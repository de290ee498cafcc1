// Package logging provides structured logging with per-module log levels.
//
// Records fan out to the console (stderr), the systemd journal when it is
// reachable, and an in-memory ring buffer that backs the log stream
// endpoint.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",   // debug, info, warn, error
//		Format: "pretty", // text, json or pretty
//		Modules: map[string]string{
//			"supervisor": "debug",
//			"api":        "warn",
//		},
//	})
//
// and get a logger per module:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Task created", "id", id, "name", name)
//
// The pretty format uses colored output when stderr is a terminal and
// falls back to text otherwise.
//
// Journal entries carry SYSLOG_IDENTIFIER=biu:
//
//	journalctl -t biu -f
//	journalctl -t biu MODULE=supervisor
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	supervisor = "debug"
//	nats = "warn"
package logging
