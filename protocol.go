package bidi

import "github.com/go-json-experiment/json/jsontext"

// MessageType represents the type of an incoming protocol message.
type MessageType string

const (
	TypeSuccess MessageType = "success"
	TypeError   MessageType = "error"
	TypeEvent   MessageType = "event"
)

// Command is implemented by every command parameter type. The parameter
// value itself is encoded as the command's "params".
type Command interface {
	Method() string
}

// IncomingMessage represents any message from the remote end: a command
// reply (success or error) or an event.
type IncomingMessage struct {
	Type       MessageType    `json:"type"`
	ID         *uint64        `json:"id,omitzero"`
	Result     jsontext.Value `json:"result,omitzero"`
	Error      string         `json:"error,omitzero"`
	Message    string         `json:"message,omitzero"`
	Stacktrace string         `json:"stacktrace,omitzero"`
	Method     string         `json:"method,omitzero"`
	Params     jsontext.Value `json:"params,omitzero"`
	Extra      jsontext.Value `json:",unknown"`
}

// Event is a decoded-on-demand event as delivered to subscribers.
type Event struct {
	Method string
	Params jsontext.Value
}

// Decode decodes the event params into target.
func (e *Event) Decode(target any) error {
	return Decode(e.Params, target)
}

// EmptyResult is the result of commands that return nothing.
type EmptyResult struct {
	Extra jsontext.Value `json:",unknown"`
}
