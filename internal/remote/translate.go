package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/tree"
)

// handle translates one server message and posts it to the sink. Protocol
// replies owed by the adapter itself (sync-ack, user-join) are sent here.
func (c *Client) handle(ctx context.Context, msg *infmsg.Message) error {
	ev, ok, err := c.translate(msg)
	if err != nil || !ok {
		return err
	}

	if msg.Type == infmsg.MsgSyncEnd {
		if err := c.send(infmsg.NewSyncAck(msg.Group)); err != nil {
			return fmt.Errorf("sync-ack: %w", err)
		}
		if err := c.join(msg.Group); err != nil {
			return fmt.Errorf("user-join: %w", err)
		}
	}

	return c.sink.Post(ctx, ev)
}

// translate maps a message onto a coordinator event. ok is false for
// messages that carry nothing for the coordinator.
func (c *Client) translate(msg *infmsg.Message) (coordinator.Event, bool, error) {
	ev := coordinator.Event{Node: identity.NoNode, Parent: identity.NoNode}
	if msg.IsSession() {
		ev.Session = msg.Group
	}

	switch data := msg.Data.(type) {
	case *infmsg.Welcome:
		slog.Info("remote welcome", "protocol", data.ProtocolVersion)
		ev.Kind = coordinator.RemoteConnected

	case *infmsg.Error:
		slog.Warn("remote error", "group", msg.Group, "code", data.Code, "error", data)
		return ev, false, nil

	case *infmsg.ExploreBegin:
		ev.Kind = coordinator.ExploreBegin
		ev.Node = identity.NodeID(data.ID)

	case *infmsg.ExploreEnd:
		ev.Kind = coordinator.ExploreEnd
		ev.Node = identity.NodeID(data.ID)

	case *infmsg.AddNode:
		ev.Kind = coordinator.NodeAdded
		ev.Parent = identity.NodeID(data.Parent)
		ev.Node = identity.NodeID(data.ID)
		ev.Name = data.Name
		ev.NodeKind = tree.KindFile
		if data.IsDirectory() {
			ev.NodeKind = tree.KindDirectory
		}

	case *infmsg.RemoveNode:
		ev.Kind = coordinator.NodeRemoved
		ev.Node = identity.NodeID(data.ID)

	case *infmsg.SubscribeSession:
		if data.Group == "" {
			return ev, false, fmt.Errorf("subscribe-session for node %d without a group", data.ID)
		}
		ev.Kind = coordinator.SessionSubscribed
		ev.Node = identity.NodeID(data.ID)
		ev.Session = data.Group

	case *infmsg.SyncBegin:
		ev.Kind = coordinator.SyncBegin

	case *infmsg.SyncSegment:
		ev.Kind = coordinator.SyncSegment
		ev.Text = data.Text

	case *infmsg.UserJoin:
		if msg.Type != infmsg.MsgUserJoined {
			return ev, false, nil
		}
		ev.Kind = coordinator.UserJoined
		ev.Name = data.Name
		ev.User = data.Name
		if data.ID != 0 {
			ev.User = strconv.FormatUint(uint64(data.ID), 10)
		}
		ev.Self = c.ownJoin(msg.Group, data.Seq)

	case *infmsg.Request:
		ev.User = data.User
		ev.Offset = data.Pos
		switch data.Op {
		case infmsg.OpInsert:
			ev.Kind = coordinator.RemoteInsert
			ev.Text = data.Text
		case infmsg.OpDelete:
			ev.Kind = coordinator.RemoteDelete
			ev.Length = data.Len
		default:
			return ev, false, fmt.Errorf("unknown request op %q", data.Op)
		}

	case *infmsg.Empty:
		switch msg.Type {
		case infmsg.MsgSyncEnd:
			ev.Kind = coordinator.SyncEnd
		case infmsg.MsgSessionClose:
			ev.Kind = coordinator.SessionClosed
		default:
			return ev, false, nil
		}

	default:
		return ev, false, nil
	}

	if ev.Session == "" && isSessionEvent(ev.Kind) {
		return ev, false, fmt.Errorf("%s outside a session group", msg.Type)
	}
	return ev, true, nil
}

func isSessionEvent(kind coordinator.EventKind) bool {
	switch kind {
	case coordinator.SyncBegin, coordinator.SyncSegment, coordinator.SyncEnd,
		coordinator.UserJoined, coordinator.RemoteInsert, coordinator.RemoteDelete,
		coordinator.SessionClosed:
		return true
	}
	return false
}
