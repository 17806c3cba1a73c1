package infmsg

// ProtocolVersion is announced by servers in their welcome message.
const ProtocolVersion = "1.0"

type Welcome struct {
	ProtocolVersion string `json:"ver"`
	SequenceID      int    `json:"seq"`
}

func NewWelcome(sequenceID int) *Message {
	return newMessage(MsgWelcome, GroupDirectory, &Welcome{
		ProtocolVersion: ProtocolVersion,
		SequenceID:      sequenceID,
	})
}

type Error struct {
	Code    int    `json:"cod"`
	Domain  string `json:"dom"`
	Message string `json:"msg"`
}

func NewError(group string, code int, domain, msg string) *Message {
	return newMessage(MsgError, group, &Error{
		Code:    code,
		Domain:  domain,
		Message: msg,
	})
}

func (e *Error) Error() string {
	return e.Domain + ": " + e.Message
}

// Empty is the payload of messages that carry nothing but their type and group.
type Empty struct{}
