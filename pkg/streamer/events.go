package streamer

import (
	"fmt"
	"time"

	"github.com/rs/xid"
)

// EventKind discriminates the notifications a [Supervisor] publishes.
type EventKind int

const (
	// EventStart fires just before the process is spawned and carries the
	// full command line.
	EventStart EventKind = iota

	// EventSpawn fires once the process is alive and carries its PID.
	EventSpawn

	// EventProgress carries a merged snapshot of the progress fields
	// scraped from standard error. Progress events are droppable: when
	// the channel is congested, snapshots are skipped rather than
	// blocking the scraper.
	EventProgress

	// EventEnd fires when a run resolves successfully after a natural
	// process exit.
	EventEnd

	// EventTerminated fires when a run resolves successfully after an
	// intentional, signal-induced termination. Carries the signal name.
	EventTerminated

	// EventError fires when a run rejects. Carries the typed error.
	EventError
)

// String returns the kind name for logs.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventSpawn:
		return "spawn"
	case EventProgress:
		return "progress"
	case EventEnd:
		return "end"
	case EventTerminated:
		return "terminated"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notification from a supervisor. Only the fields relevant to
// Kind are populated; Run identifies which run the event belongs to.
type Event struct {
	Kind EventKind
	Run  xid.ID
	Time time.Time

	Command  string   // EventStart
	PID      int      // EventSpawn
	Progress Progress // EventProgress
	Signal   string   // EventTerminated
	Err      error    // EventError
}
