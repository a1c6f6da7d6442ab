package events

import "time"

// EventType enumerates the lifecycle notifications emitted by the stream
// engine.
type EventType string

const (
	// EventTypeStreamStarted fires when an encoder process begins pushing a
	// video to the configured destination.
	EventTypeStreamStarted EventType = "stream.started"
	// EventTypeStreamStopped fires after an operator-requested shutdown
	// completes.
	EventTypeStreamStopped EventType = "stream.stopped"
	// EventTypeStreamAdvanced fires when playback loops to the next video in
	// the playlist.
	EventTypeStreamAdvanced EventType = "stream.advanced"
	// EventTypeStreamErrored fires when an encoder exits unexpectedly and no
	// successor video takes over.
	EventTypeStreamErrored EventType = "stream.errored"
)

// Event is the wire representation published to subscribers whenever the
// engine transitions between videos or states.
type Event struct {
	Type       EventType `json:"type"`
	Slot       string    `json:"slot,omitempty"`
	VideoID    string    `json:"videoId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
