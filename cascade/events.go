package cascade

import (
	"fmt"

	"ingresso-cascade-cli/seats"
)

// EventKind names a controller notification.
type EventKind int

const (
	EventStageChanged EventKind = iota
	EventSeatMapReady
	EventPipelineBlocked
	EventAuthExpired
)

func (k EventKind) String() string {
	switch k {
	case EventStageChanged:
		return "stage_changed"
	case EventSeatMapReady:
		return "seat_map_ready"
	case EventPipelineBlocked:
		return "pipeline_blocked"
	case EventAuthExpired:
		return "auth_expired_notified"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is delivered to the Observer on the owner goroutine.
type Event struct {
	Kind       EventKind
	SearchID   string
	Generation uint64

	// Stage and Slot are set for EventStageChanged.
	Stage Stage
	Slot  StageSlot

	// SeatMap is set for EventSeatMapReady.
	SeatMap *seats.SeatMap

	// Reason is set for EventPipelineBlocked and EventAuthExpired.
	Reason string

	// Err carries the auth error for EventAuthExpired and the anomaly, if
	// any, for EventSeatMapReady.
	Err error
}

// Observer receives controller events. It runs on the owner goroutine and
// may call back into the controller.
type Observer func(Event)
