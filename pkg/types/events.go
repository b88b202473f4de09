package types

import "time"

type EventKind string

const (
	EventScanStarted   EventKind = "scan.started"
	EventScanProgress  EventKind = "scan.progress"
	EventScanCompleted EventKind = "scan.completed"
	EventScanError     EventKind = "scan.error"
)

// Event is one lifecycle notification handed to subscribers. Fields beyond
// Kind, ScanID and Time are populated per kind: started carries Target,
// progress carries the counters, completed carries the final State, error
// carries Reason.
type Event struct {
	Kind       EventKind  `json:"kind"`
	ScanID     string     `json:"scan_id"`
	Time       time.Time  `json:"time"`
	Target     string     `json:"target,omitempty"`
	Discovered int        `json:"discovered,omitempty"`
	Completed  int        `json:"completed,omitempty"`
	Findings   int        `json:"findings,omitempty"`
	State      *ScanState `json:"state,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}
