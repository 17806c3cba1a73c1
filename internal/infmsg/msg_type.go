package infmsg

import "fmt"

type MessageType uint16

const (
	MsgWelcome MessageType = iota
	MsgError
	MsgExploreNode
	MsgExploreBegin
	MsgExploreEnd
	MsgAddNode
	MsgRemoveNode
	MsgSubscribeSession
	MsgSyncBegin
	MsgSyncSegment
	MsgSyncEnd
	MsgSyncAck
	MsgUserJoin
	MsgUserJoined
	MsgRequest
	MsgUnsubscribe
	MsgSessionClose
)

func (t MessageType) String() string {
	switch t {
	case MsgWelcome:
		return "WELCOME"
	case MsgError:
		return "ERROR"
	case MsgExploreNode:
		return "EXPLORE_NODE"
	case MsgExploreBegin:
		return "EXPLORE_BEGIN"
	case MsgExploreEnd:
		return "EXPLORE_END"
	case MsgAddNode:
		return "ADD_NODE"
	case MsgRemoveNode:
		return "REMOVE_NODE"
	case MsgSubscribeSession:
		return "SUBSCRIBE_SESSION"
	case MsgSyncBegin:
		return "SYNC_BEGIN"
	case MsgSyncSegment:
		return "SYNC_SEGMENT"
	case MsgSyncEnd:
		return "SYNC_END"
	case MsgSyncAck:
		return "SYNC_ACK"
	case MsgUserJoin:
		return "USER_JOIN"
	case MsgUserJoined:
		return "USER_JOINED"
	case MsgRequest:
		return "REQUEST"
	case MsgUnsubscribe:
		return "UNSUBSCRIBE"
	case MsgSessionClose:
		return "SESSION_CLOSE"
	default:
		return fmt.Sprintf("???(%d)", t)
	}
}

// NewPayload returns a pointer to a zero payload for t, ready to decode into.
func NewPayload(t MessageType) (any, error) {
	switch t {
	case MsgWelcome:
		return &Welcome{}, nil
	case MsgError:
		return &Error{}, nil
	case MsgExploreNode:
		return &ExploreNode{}, nil
	case MsgExploreBegin:
		return &ExploreBegin{}, nil
	case MsgExploreEnd:
		return &ExploreEnd{}, nil
	case MsgAddNode:
		return &AddNode{}, nil
	case MsgRemoveNode:
		return &RemoveNode{}, nil
	case MsgSubscribeSession:
		return &SubscribeSession{}, nil
	case MsgSyncBegin:
		return &SyncBegin{}, nil
	case MsgSyncSegment:
		return &SyncSegment{}, nil
	case MsgSyncEnd, MsgSyncAck, MsgUnsubscribe, MsgSessionClose:
		return &Empty{}, nil
	case MsgUserJoin, MsgUserJoined:
		return &UserJoin{}, nil
	case MsgRequest:
		return &Request{}, nil
	default:
		return nil, fmt.Errorf("unknown message type: %d", t)
	}
}
