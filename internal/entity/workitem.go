package entity

import "time"

const (
	StatePending           ItemState = "Pending"
	StateInFlight          ItemState = "InFlight"
	StateSucceeded         ItemState = "Succeeded"
	StateFailed            ItemState = "Failed"
	StatePermanentlyFailed ItemState = "PermanentlyFailed"
)

type ItemState string

// WorkItem is one descriptor moving through the download queue. Failed means
// parked in the retry queue; Succeeded and PermanentlyFailed are terminal.
type WorkItem struct {
	ID            string
	Descriptor    FileDescriptor
	State         ItemState
	Attempts      int
	LastError     string
	EnqueuedAt    time.Time
	NextAttemptAt time.Time
}

func (w *WorkItem) Key() string {
	return w.Descriptor.ItemKey()
}

func (w *WorkItem) Terminal() bool {
	return w.State == StateSucceeded || w.State == StatePermanentlyFailed
}
