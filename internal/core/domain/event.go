package domain

import "time"

// Events published on the actor system's event stream. The accessory
// adapter and the dispatcher subscribe to these; nothing mutates shared
// state through them.

// StateUpdatedEvent is published after a delta has been merged into the
// state store. Current is the full post-merge snapshot.
type StateUpdatedEvent struct {
	Previous DeviceState
	Current  DeviceState
	Delta    StateDelta
}

// LinkStateEvent reports connectivity transitions of the cloud stream.
type LinkStateEvent struct {
	Connected bool
	At        time.Time
}

// CommandResolvedEvent is published when a pending command reaches a
// terminal status. Err is nil iff the command was acknowledged.
type CommandResolvedEvent struct {
	Command PendingCommand
	Err     error
}
