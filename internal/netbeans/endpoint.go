package netbeans

import (
	"fmt"
	"strconv"

	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
)

// bufferEndpoint is the local leg of a mirror. Ops are applied to the
// adapter's copy of the text first so the byte offsets sent to Vim match
// what Vim will hold after earlier commands.
type bufferEndpoint struct {
	server *Server
	handle identity.BufferID
}

func (e *bufferEndpoint) ID() string        { return "vim:" + e.handle.String() }
func (e *bufferEndpoint) Kind() mirror.Kind { return mirror.Local }

func (e *bufferEndpoint) Len() int {
	n := 0
	_ = e.server.edit(e.handle, func(b *buffer) error {
		n = b.text.len()
		return nil
	})
	return n
}

func (e *bufferEndpoint) Send(op mirror.Op) error {
	return e.server.edit(e.handle, func(b *buffer) error {
		buf := int(e.handle)
		switch op.Type {
		case mirror.Insert:
			if op.Text == "" {
				return nil
			}
			off := b.text.byteOffset(op.Offset)
			if err := b.conn.function(buf, "insert", strconv.Itoa(off), quote(op.Text)); err != nil {
				return err
			}
			b.text.insert(op.Offset, op.Text)
		case mirror.Delete:
			off := b.text.byteOffset(op.Offset)
			n := b.text.byteSpan(op.Offset, op.Length)
			if n == 0 {
				return nil
			}
			if err := b.conn.function(buf, "remove", strconv.Itoa(off), strconv.Itoa(n)); err != nil {
				return err
			}
			b.text.remove(op.Offset, op.Length)
		default:
			return fmt.Errorf("unknown op type %d", op.Type)
		}
		return nil
	})
}
