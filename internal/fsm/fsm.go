package fsm

const (
	PollStateIdle       = "idle"
	PollStateReading    = "reading"
	PollStatePublishing = "publishing"
)

const (
	PollEventTick         = "tick"
	PollEventSnapshotRead = "snapshot_read"
	PollEventDone         = "done"
)
