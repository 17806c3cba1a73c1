package infmsg

// Request operations.
const (
	OpInsert = "insert-caret"
	OpDelete = "delete-caret"
)

type SyncBegin struct {
	Items int `json:"num"`
}

func NewSyncBegin(group string, items int) *Message {
	return newMessage(MsgSyncBegin, group, &SyncBegin{Items: items})
}

type SyncSegment struct {
	Author string `json:"aut,omitempty"`
	Text   string `json:"txt"`
}

func NewSyncSegment(group, author, text string) *Message {
	return newMessage(MsgSyncSegment, group, &SyncSegment{Author: author, Text: text})
}

func NewSyncEnd(group string) *Message {
	return newMessage(MsgSyncEnd, group, &Empty{})
}

func NewSyncAck(group string) *Message {
	return newMessage(MsgSyncAck, group, &Empty{})
}

// UserJoin is a join request (MsgUserJoin) or its announcement (MsgUserJoined).
// The server echoes Seq back to the requester.
type UserJoin struct {
	ID     uint32 `json:"id,omitempty"`
	Name   string `json:"nam"`
	Status string `json:"sta,omitempty"`
	Seq    string `json:"seq,omitempty"`
}

func NewUserJoin(group, name, seq string) *Message {
	return newMessage(MsgUserJoin, group, &UserJoin{Name: name, Status: "active", Seq: seq})
}

func NewUserJoined(group string, id uint32, name, seq string) *Message {
	return newMessage(MsgUserJoined, group, &UserJoin{ID: id, Name: name, Status: "active", Seq: seq})
}

// Request is one edit inside a session. Positions count characters.
type Request struct {
	User string `json:"usr"`
	Time string `json:"tim"`
	Op   string `json:"op"`
	Pos  int    `json:"pos"`
	Len  int    `json:"len,omitempty"`
	Text string `json:"txt,omitempty"`
}

func NewInsertRequest(group, user, time string, pos int, text string) *Message {
	return newMessage(MsgRequest, group, &Request{User: user, Time: time, Op: OpInsert, Pos: pos, Text: text})
}

func NewDeleteRequest(group, user, time string, pos, length int) *Message {
	return newMessage(MsgRequest, group, &Request{User: user, Time: time, Op: OpDelete, Pos: pos, Len: length})
}

func NewUnsubscribe(group string) *Message {
	return newMessage(MsgUnsubscribe, group, &Empty{})
}

func NewSessionClose(group string) *Message {
	return newMessage(MsgSessionClose, group, &Empty{})
}
