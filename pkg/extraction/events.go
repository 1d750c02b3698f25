package extraction

type EventType string

const (
	EventStarted     EventType = "started"
	EventPage        EventType = "page"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventStale       EventType = "stale"
	EventInvalidated EventType = "invalidated"
	EventBatch       EventType = "batch"
)

// Event reports extraction progress. Done and Total count pages for a single
// comic, or comics for EventBatch.
type Event struct {
	Type    EventType
	ComicID int
	Done    int
	Total   int
	Err     error
}

// Observer receives progress events. Page events are emitted from thumbnail
// workers, so an Observer must be safe for concurrent use.
type Observer func(Event)
