package infmsg

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// GroupDirectory is the group carrying directory traffic. Every other group
// name is a session.
const GroupDirectory = "InfDirectory"

type Message struct {
	Id    string      `json:"id"`
	Type  MessageType `json:"typ"`
	Group string      `json:"grp"`
	Data  any         `json:"dat"`
}

// UnmarshalJSON decodes Data into the payload type that matches Type.
func (m *Message) UnmarshalJSON(data []byte) error {
	type tempMessage struct {
		Id    string          `json:"id"`
		Type  MessageType     `json:"typ"`
		Group string          `json:"grp"`
		Data  json.RawMessage `json:"dat"`
	}

	var temp tempMessage
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}

	payload, err := NewPayload(temp.Type)
	if err != nil {
		return err
	}
	if len(temp.Data) > 0 && string(temp.Data) != "null" {
		if err := json.Unmarshal(temp.Data, payload); err != nil {
			return fmt.Errorf("%s payload: %w", temp.Type, err)
		}
	}

	m.Id = temp.Id
	m.Type = temp.Type
	m.Group = temp.Group
	m.Data = payload
	return nil
}

// IsSession reports whether the message belongs to a session group.
func (m *Message) IsSession() bool {
	return m.Group != "" && m.Group != GroupDirectory
}

func (m *Message) String() string {
	return fmt.Sprintf("%s[%s](%s)", m.Type, m.Group, m.Id)
}

func generateID() string {
	return uuid.NewString()
}

func newMessage(t MessageType, group string, data any) *Message {
	return &Message{
		Id:    generateID(),
		Type:  t,
		Group: group,
		Data:  data,
	}
}
