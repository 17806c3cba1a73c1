package coordinator

import (
	"fmt"
	"log/slog"

	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/tree"
)

// EventKind tags an inbound adapter event.
type EventKind uint8

const (
	// remote collaboration server
	RemoteConnected EventKind = iota
	RemoteDisconnected
	ExploreBegin
	ExploreEnd
	NodeAdded
	NodeRemoved
	SessionSubscribed
	SyncBegin
	SyncSegment
	SyncEnd
	UserJoined
	RemoteInsert
	RemoteDelete
	SessionClosed

	// local editor
	LocalOpened
	LocalInsert
	LocalDelete
	LocalClosed
	LocalCreate
	LocalRemove
	LocalExplore

	numEventKinds
)

var eventKindNames = [numEventKinds]string{
	RemoteConnected:    "remote-connected",
	RemoteDisconnected: "remote-disconnected",
	ExploreBegin:       "explore-begin",
	ExploreEnd:         "explore-end",
	NodeAdded:          "node-added",
	NodeRemoved:        "node-removed",
	SessionSubscribed:  "session-subscribed",
	SyncBegin:          "sync-begin",
	SyncSegment:        "sync-segment",
	SyncEnd:            "sync-end",
	UserJoined:         "user-joined",
	RemoteInsert:       "remote-insert",
	RemoteDelete:       "remote-delete",
	SessionClosed:      "session-closed",
	LocalOpened:        "local-opened",
	LocalInsert:        "local-insert",
	LocalDelete:        "local-delete",
	LocalClosed:        "local-closed",
	LocalCreate:        "local-create",
	LocalRemove:        "local-remove",
	LocalExplore:       "local-explore",
}

func (k EventKind) String() string {
	if k < numEventKinds {
		return eventKindNames[k]
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

// Event is a decoded adapter event. Which fields are meaningful depends on Kind.
type Event struct {
	Kind EventKind

	// remote side
	Node     identity.NodeID // explored, added, removed or subscribed node
	Parent   identity.NodeID // NodeAdded
	Name     string          // NodeAdded; UserJoined: display name
	NodeKind tree.Kind       // NodeAdded, LocalCreate
	Session  string
	User     string // server-assigned user id, or the name when the server sent none
	Self     bool // UserJoined: the join is our own

	// local side
	Handle identity.BufferID
	Path   string

	// edits and sync content
	Offset int
	Length int
	Text   string
}

// LogValue keeps log lines small by only emitting the fields that are set.
func (ev Event) LogValue() slog.Value {
	attrs := []slog.Attr{slog.String("kind", ev.Kind.String())}
	if ev.Node != identity.NoNode && ev.Node != 0 {
		attrs = append(attrs, slog.String("node", ev.Node.String()))
	}
	if ev.Name != "" {
		attrs = append(attrs, slog.String("name", ev.Name))
	}
	if ev.Session != "" {
		attrs = append(attrs, slog.String("session", ev.Session))
	}
	if ev.User != "" {
		attrs = append(attrs, slog.String("user", ev.User))
	}
	if ev.Handle != identity.NoBuffer {
		attrs = append(attrs, slog.String("handle", ev.Handle.String()))
	}
	if ev.Path != "" {
		attrs = append(attrs, slog.String("path", ev.Path))
	}
	switch ev.Kind {
	case RemoteInsert, LocalInsert:
		attrs = append(attrs, slog.Int("offset", ev.Offset), slog.Int("chars", len([]rune(ev.Text))))
	case RemoteDelete, LocalDelete:
		attrs = append(attrs, slog.Int("offset", ev.Offset), slog.Int("length", ev.Length))
	case SyncSegment:
		attrs = append(attrs, slog.Int("chars", len([]rune(ev.Text))))
	}
	return slog.GroupValue(attrs...)
}
