package embedding

// EventKind enumerates the staged pipeline's status events.
type EventKind string

// EventKind values.
const (
	EventInit              EventKind = "init"
	EventStagingProgress   EventKind = "staging_progress"
	EventDeduplicating     EventKind = "deduplicating"
	EventEmbeddingProgress EventKind = "embedding_progress"
	EventCompleted         EventKind = "completed"
	EventErrored           EventKind = "errored"
)

// Event is one status update emitted while Run executes.
type Event struct {
	Kind      EventKind
	Processed int
	Total     int
	// NewlyEmbedded and Reused are populated on EventCompleted.
	NewlyEmbedded int
	Reused        int
	// ErroredRows is populated on EventErrored with a batch's failed chunk count.
	ErroredRows int
	Err         error
}
