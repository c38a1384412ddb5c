package bridge

import "context"

type EventType string

const (
	EventFolderGranted EventType = "folder-granted"
	EventEntryWritten  EventType = "entry-written"
	EventEntryDeleted  EventType = "entry-deleted"
	// EventEntryWriting is only passed to Config.PreWriteCallback and never
	// sent on the Events channel.
	EventEntryWriting EventType = "entry-writing"
)

// Event represents an operation of the bridge. It is sent on the Events
// channel and passed to the callbacks in Config.
type Event struct {
	Type EventType
	// Context provides access to the context from the operation that caused
	// the event. It is excluded from serialization.
	Context context.Context `json:"-"`
	// TreeURI identifies the granted folder.
	TreeURI string
	// Entry is set for entry events. For EventEntryWriting, only Name and
	// Size are known.
	Entry Entry
}

func newEvent(ctx context.Context, typ EventType, treeURI string, entry Entry) Event {
	return Event{
		Type:    typ,
		Context: context.WithoutCancel(ctx),
		TreeURI: treeURI,
		Entry:   entry,
	}
}
