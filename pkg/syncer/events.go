package syncer

// EventOp is the kind of filesystem change the watcher observed.
type EventOp string

const (
	OpCreated  EventOp = "created"
	OpModified EventOp = "modified"
	OpDeleted  EventOp = "deleted"
)

// Event is one observed filesystem change. Moves are decomposed by the
// watcher into a delete of the source and a create of the destination.
type Event struct {
	Op    EventOp
	Path  string
	IsDir bool
}
