package wsproto

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/coder/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/vobby/vobby/internal/infmsg"
)

// Encoding indicates which wire encoding is used for WebSocket messages.
type Encoding uint8

const (
	EncodingJSON Encoding = iota
	EncodingMsgPack
)

func (e Encoding) String() string {
	switch e {
	case EncodingMsgPack:
		return "msgpack"
	default:
		return "json"
	}
}

// Negotiation headers: the client offers a preference list, the server
// answers with the encoding it picked.
const (
	HeaderEncodings = "X-Vobby-WS-Encodings"
	HeaderEncoding  = "X-Vobby-WS-Encoding"
)

const (
	magic0  = byte('V')
	magic1  = byte('B')
	version = byte(1)
)

// PreferredEncoding parses a comma-separated preference list (e.g. "msgpack,json").
// Returns EncodingJSON if list is empty/unknown.
func PreferredEncoding(list string) Encoding {
	for _, p := range strings.Split(list, ",") {
		switch strings.ToLower(strings.TrimSpace(p)) {
		case "msgpack":
			return EncodingMsgPack
		case "json":
			return EncodingJSON
		}
	}
	return EncodingJSON
}

// Marshal encodes msg for WebSocket transport.
// JSON uses TextMessage frames without an envelope.
// MsgPack uses BinaryMessage with an envelope: [magic][version][encoding][payload].
func Marshal(msg *infmsg.Message, enc Encoding) (websocket.MessageType, []byte, error) {
	if enc == EncodingJSON {
		data, err := jsonMarshal(msg)
		return websocket.MessageText, data, err
	}

	payload, err := marshalMsgpack(msg)
	if err != nil {
		return websocket.MessageBinary, nil, err
	}

	buf := make([]byte, 4+len(payload))
	buf[0], buf[1], buf[2], buf[3] = magic0, magic1, version, byte(enc)
	copy(buf[4:], payload)
	return websocket.MessageBinary, buf, nil
}

// Unmarshal decodes a WebSocket frame into an infmsg.Message.
func Unmarshal(typ websocket.MessageType, data []byte) (*infmsg.Message, Encoding, error) {
	switch typ {
	case websocket.MessageText:
		var msg infmsg.Message
		if err := jsonUnmarshal(data, &msg); err != nil {
			return nil, EncodingJSON, err
		}
		return &msg, EncodingJSON, nil

	case websocket.MessageBinary:
		if len(data) < 4 || data[0] != magic0 || data[1] != magic1 {
			return nil, EncodingMsgPack, errors.New("binary message missing VB envelope")
		}
		if data[2] != version {
			return nil, EncodingMsgPack, fmt.Errorf("unsupported ws envelope version: %d", data[2])
		}
		enc := Encoding(data[3])
		payload := data[4:]
		switch enc {
		case EncodingMsgPack:
			msg, err := unmarshalMsgpack(payload)
			return msg, enc, err
		case EncodingJSON:
			var msg infmsg.Message
			if err := jsonUnmarshal(payload, &msg); err != nil {
				return nil, enc, err
			}
			return &msg, enc, nil
		default:
			return nil, enc, fmt.Errorf("unknown ws encoding: %d", enc)
		}

	default:
		return nil, EncodingJSON, fmt.Errorf("unsupported websocket message type: %v", typ)
	}
}

type wireMessage struct {
	Id    string             `msgpack:"id"`
	Type  infmsg.MessageType `msgpack:"typ"`
	Group string             `msgpack:"grp"`
	Data  []byte             `msgpack:"dat"`
}

func marshalMsgpack(msg *infmsg.Message) ([]byte, error) {
	want, err := infmsg.NewPayload(msg.Type)
	if err != nil {
		return nil, err
	}

	// payloads may be held by value or by pointer
	got := reflect.TypeOf(msg.Data)
	if got != reflect.TypeOf(want) && got != reflect.TypeOf(want).Elem() {
		return nil, fmt.Errorf("invalid %s payload type: %T", msg.Type, msg.Data)
	}

	dat, err := msgpack.Marshal(msg.Data)
	if err != nil {
		return nil, err
	}

	w := wireMessage{Id: msg.Id, Type: msg.Type, Group: msg.Group, Data: dat}
	return msgpack.Marshal(&w)
}

func unmarshalMsgpack(payload []byte) (*infmsg.Message, error) {
	var w wireMessage
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.SetCustomStructTag("msgpack")
	if err := dec.Decode(&w); err != nil {
		return nil, err
	}

	data, err := infmsg.NewPayload(w.Type)
	if err != nil {
		return nil, err
	}
	if err := msgpack.Unmarshal(w.Data, data); err != nil {
		return nil, err
	}

	return &infmsg.Message{Id: w.Id, Type: w.Type, Group: w.Group, Data: data}, nil
}
