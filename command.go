package cqrs

// Command is a request to change the state of one aggregate instance. It
// carries the data needed to decide, never the resulting state.
type Command interface {
	CommandType() string
}
