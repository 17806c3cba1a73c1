package netbeans

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
)

const txQueueSize = 256

var (
	ErrConnClosed = errors.New("netbeans: connection closed")
	ErrQueueFull  = errors.New("netbeans: transmit queue full")
	ErrAuth       = errors.New("netbeans: authentication failed")
)

// conn is one Vim instance. Reads happen on the serve goroutine, writes on
// writeLoop so that commands never block the coordinator.
type conn struct {
	s  *Server
	nc net.Conn

	seq    atomic.Int64
	tx     chan []byte
	closed chan struct{}
	once   sync.Once
	authed bool
}

func newConn(s *Server, nc net.Conn) *conn {
	return &conn{
		s:      s,
		nc:     nc,
		tx:     make(chan []byte, txQueueSize),
		closed: make(chan struct{}),
	}
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.closed:
		}
		c.close()
	}()
	go c.writeLoop()

	r := bufio.NewReader(c.nc)
	for {
		raw, err := r.ReadBytes('\n')
		if len(raw) > 0 {
			if herr := c.handleRaw(ctx, raw); herr != nil {
				if errors.Is(herr, ErrAuth) || errors.Is(herr, io.EOF) {
					return
				}
				slog.Warn("netbeans message ignored", "error", herr)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("netbeans read", "error", err)
			}
			return
		}
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
		c.nc.Close()
	})
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case line := <-c.tx:
			if _, err := c.nc.Write(line); err != nil {
				slog.Debug("netbeans write", "error", err)
				c.close()
				return
			}
		}
	}
}

// send queues one line for the editor without blocking.
func (c *conn) send(line string) error {
	raw, err := c.s.cs.encode(line + "\n")
	if err != nil {
		return fmt.Errorf("netbeans: encode: %w", err)
	}
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.tx <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

func (c *conn) nextSeq() int64 { return c.seq.Add(1) }

// command sends bufID:name!seqno args. Commands have no reply.
func (c *conn) command(buf int, name string, args ...string) error {
	return c.send(format(buf, name, '!', c.nextSeq(), args))
}

// function sends bufID:name/seqno args. The reply is read and ignored.
func (c *conn) function(buf int, name string, args ...string) error {
	return c.send(format(buf, name, '/', c.nextSeq(), args))
}

func format(buf int, name string, sep byte, seq int64, args []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d:%s%c%d", buf, name, sep, seq)
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(a)
	}
	return sb.String()
}

func (c *conn) handleRaw(ctx context.Context, raw []byte) error {
	line, err := c.s.cs.decode(raw)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	msg, err := parseLine(line)
	if err != nil {
		return err
	}

	if !c.authed {
		if msg.kind != msgAuth {
			slog.Warn("netbeans message before AUTH", "line", strings.TrimSpace(line))
			return ErrAuth
		}
		if c.s.opts.Password != "" && msg.args[0] != c.s.opts.Password {
			slog.Warn("netbeans authentication failed", "remote", c.nc.RemoteAddr().String())
			return ErrAuth
		}
		c.authed = true
		return nil
	}

	switch msg.kind {
	case msgReply:
		slog.Debug("netbeans reply", "seq", msg.seq, "args", msg.args)
		return nil
	case msgDetach:
		return io.EOF
	case msgAuth:
		return nil
	}
	return c.handleEvent(ctx, msg)
}

func (c *conn) handleEvent(ctx context.Context, msg message) error {
	h := identity.BufferID(msg.buf)

	switch msg.name {
	case "version":
		v, _ := msg.stringArg(0)
		slog.Info("netbeans editor", "version", v)
	case "startupDone":
		slog.Debug("netbeans startup done")
	case "disconnect":
		return io.EOF
	case "fileOpened":
		return c.onFileOpened(ctx, msg)
	case "insert":
		return c.onInsert(ctx, h, msg)
	case "remove":
		return c.onRemove(ctx, h, msg)
	case "killed":
		if b, ok := c.s.killed(h); ok {
			c.s.post(ctx, coordinator.Event{Kind: coordinator.LocalClosed, Handle: h, Path: b.path})
		}
	default:
		slog.Debug("netbeans event ignored", "event", msg.name, "buf", msg.buf)
	}
	return nil
}

func (c *conn) onFileOpened(ctx context.Context, msg message) error {
	full, err := msg.stringArg(0)
	if err != nil {
		return err
	}
	path, err := c.s.canonical(full)
	if err != nil {
		slog.Debug("netbeans file not shared", "path", full)
		return nil
	}

	h, created := c.s.opened(c, path)
	if created {
		if err := c.command(int(h), "putBufferNumber", quote(full)); err != nil {
			return err
		}
		if err := c.command(int(h), "startDocumentListen"); err != nil {
			return err
		}
	}
	c.s.post(ctx, coordinator.Event{Kind: coordinator.LocalOpened, Handle: h, Path: path})
	return nil
}

func (c *conn) onInsert(ctx context.Context, h identity.BufferID, msg message) error {
	off, err := msg.intArg(0)
	if err != nil {
		return err
	}
	s, err := msg.stringArg(1)
	if err != nil {
		return err
	}

	var ev coordinator.Event
	err = c.s.edit(h, func(b *buffer) error {
		pos := b.text.charOffset(off)
		b.text.insert(pos, s)
		ev = coordinator.Event{Kind: coordinator.LocalInsert, Handle: h, Path: b.path, Offset: pos, Text: s}
		return nil
	})
	if err != nil {
		return err
	}
	c.s.post(ctx, ev)
	return nil
}

func (c *conn) onRemove(ctx context.Context, h identity.BufferID, msg message) error {
	off, err := msg.intArg(0)
	if err != nil {
		return err
	}
	n, err := msg.intArg(1)
	if err != nil {
		return err
	}

	var ev coordinator.Event
	err = c.s.edit(h, func(b *buffer) error {
		start := b.text.charOffset(off)
		end := b.text.charOffset(off + n)
		removed := b.text.remove(start, end-start)
		ev = coordinator.Event{Kind: coordinator.LocalDelete, Handle: h, Path: b.path, Offset: start, Length: removed}
		return nil
	})
	if err != nil {
		return err
	}
	if ev.Length == 0 {
		return nil
	}
	c.s.post(ctx, ev)
	return nil
}
