package domain

// Messages exchanged between the bridge actors.

// SubmitCommandRequest is a write intent for one device attribute. The
// response is sent as soon as the optimistic phase completes; terminal
// confirmation is published later as a CommandResolvedEvent.
type SubmitCommandRequest struct {
	ActorRequestMixIn
	Attribute Attribute
	Value     float64
}

type SubmitCommandResponse struct {
	ActorResponseMixIn
	Token string
	// Applied is true when the mutation acknowledged synchronously and the
	// value was optimistically merged into the state store.
	Applied bool
}

// OpenStreamRequest tells the stream actor to establish a new connection
// for the given epoch. Sent by the reconnect supervisor only.
type OpenStreamRequest struct {
	Epoch uint64
}

// CloseStreamRequest tears down the active connection, if any.
type CloseStreamRequest struct{}

// StreamUp reports a successfully established connection.
type StreamUp struct {
	Epoch uint64
}

// StreamDown reports connection loss or a failed connect attempt.
// AuthSuspect is set when the failure looks token-related, so the
// supervisor forces a session refresh before the next attempt.
type StreamDown struct {
	Epoch       uint64
	Err         error
	AuthSuspect bool
}
