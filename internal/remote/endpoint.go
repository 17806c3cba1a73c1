package remote

import (
	"fmt"

	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/mirror"
)

// sessionEndpoint is the remote leg of a mirror: every op becomes a request
// in the session group.
type sessionEndpoint struct {
	client  *Client
	session string
}

func (e *sessionEndpoint) ID() string        { return "session:" + e.session }
func (e *sessionEndpoint) Kind() mirror.Kind { return mirror.Remote }

func (e *sessionEndpoint) Send(op mirror.Op) error {
	var msg *infmsg.Message
	switch op.Type {
	case mirror.Insert:
		msg = infmsg.NewInsertRequest(e.session, op.User, op.Time, op.Offset, op.Text)
	case mirror.Delete:
		msg = infmsg.NewDeleteRequest(e.session, op.User, op.Time, op.Offset, op.Length)
	default:
		return fmt.Errorf("unknown op type %d", op.Type)
	}
	return e.client.send(msg)
}
