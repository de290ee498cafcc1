// Package nats exposes the supervisor over an embedded NATS server.
//
//   - Server: embedded NATS server started by biu serve
//   - Bridge: publishes every control-plane message and executes commands
//   - Client: request/reply client used by biu ctl
//
// # Subject Hierarchy
//
//	biu.events.{type}          # every viewer message, JSON envelope {"type","data"}
//	biu.control.{command}      # create, close, close-all, start, stop, restart
//	biu.control.initialize     # request/reply, returns the initialize envelope
//
// Control payloads are the command's data object, e.g. {"names":["build"]}
// for create or {"id":"3"} for restart. Requests get a reply
// {"ok":true,"ids":[...]} or {"ok":false,"error":"..."}.
//
// Core NATS only, no JetStream: events published while nobody listens
// are gone, and late joiners use biu.control.initialize.
//
// # Debugging with nats CLI
//
//	nats sub "biu.events.>"
//	nats sub "biu.events.problems-update"
//	nats req biu.control.initialize ''
//	nats req biu.control.create '{"names":["build"],"closeAll":true}'
//	nats req biu.control.restart '{"id":"1"}'
package nats
