package nats

import (
	"encoding/json"
	"strings"
)

// Subject prefixes for NATS topics.
const (
	SubjectEventsPrefix  = "biu.events"
	SubjectControlPrefix = "biu.control"
)

// CommandInitialize requests the late-join snapshot.
const CommandInitialize = "initialize"

// SubjectEvent returns the subject a message kind is published on.
func SubjectEvent(kind string) string {
	return SubjectEventsPrefix + "." + kind
}

// SubjectControl returns the subject a command is sent to.
func SubjectControl(command string) string {
	return SubjectControlPrefix + "." + command
}

// commandFromSubject returns the last token of a control subject.
func commandFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, SubjectControlPrefix+".")
	if !ok {
		return ""
	}
	return rest
}

// Envelope is a message as received off the wire, with data left raw.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// UnmarshalEnvelope deserializes an event envelope.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}

// Reply answers a control request.
type Reply struct {
	OK    bool     `json:"ok"`
	IDs   []string `json:"ids,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Marshal serializes the reply to JSON.
func (r Reply) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalReply deserializes a Reply from JSON.
func UnmarshalReply(data []byte) (Reply, error) {
	var r Reply
	err := json.Unmarshal(data, &r)
	return r, err
}
