package remote

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/wsproto"
)

const (
	socketChannelSize  = 256
	socketPingPeriod   = 15 * time.Second
	socketPingTimeout  = 5 * time.Second
	socketWriteTimeout = 5 * time.Second
	socketMaxMessage   = 4 * 1024 * 1024 // 4MB
)

// socket is one live connection to the collaboration server.
type socket struct {
	conn      *websocket.Conn      // websocket connection
	msgRx     chan *infmsg.Message // messages received from the websocket
	msgTx     chan *infmsg.Message // messages sent to the websocket
	closed    chan struct{}        // websocket is closed
	closing   chan struct{}        // websocket is closing
	encoding  wsproto.Encoding     // negotiated encoding for this connection
	closeOnce sync.Once            // closeOnce ensures the connection is closed only once
	wg        sync.WaitGroup       // waitGroup for the read and write loops
}

func newSocket(conn *websocket.Conn, enc wsproto.Encoding) *socket {
	conn.SetReadLimit(socketMaxMessage)
	return &socket{
		conn:     conn,
		msgRx:    make(chan *infmsg.Message, socketChannelSize),
		msgTx:    make(chan *infmsg.Message, socketChannelSize),
		closed:   make(chan struct{}),
		closing:  make(chan struct{}),
		encoding: enc,
	}
}

func (s *socket) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.writeLoop(ctx)
	go s.readLoop(ctx)
}

func (s *socket) Close() {
	s.closeConnection(websocket.StatusNormalClosure, "shutdown")
	s.wg.Wait()
}

// Send queues msg without blocking.
func (s *socket) Send(msg *infmsg.Message) error {
	select {
	case <-s.closing:
		return ErrNotConnected
	default:
	}

	select {
	case s.msgTx <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// closeConnection tears the connection down once. msgTx stays open so that a
// racing Send never panics; the write loop stops on closing instead.
func (s *socket) closeConnection(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.closing)
		s.conn.Close(status, reason)

		go func() {
			s.wg.Wait()
			close(s.msgRx)
			close(s.closed)
		}()
	})
}

func (s *socket) readLoop(ctx context.Context) {
	defer func() {
		slog.Debug("socket reader shutdown")
		s.wg.Done()
		s.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, raw, err := s.conn.Read(ctx)
		if err != nil {
			if !isExpectedCloseError(err) {
				slog.Warn("socket RECV", "error", err)
			}
			return
		}

		msg, _, err := wsproto.Unmarshal(typ, raw)
		if err != nil {
			slog.Warn("socket RECV decode", "error", err)
			continue
		}

		// inbound order matters, so wait for the consumer rather than drop
		select {
		case <-s.closing:
			return
		case s.msgRx <- msg:
		}
	}
}

func (s *socket) writeLoop(ctx context.Context) {
	pingTicker := time.NewTicker(socketPingPeriod)
	defer func() {
		slog.Debug("socket writer shutdown")
		pingTicker.Stop()
		s.wg.Done()
		s.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.closing:
			return

		case msg := <-s.msgTx:
			slog.Debug("socket SEND", "id", msg.Id, "type", msg.Type, "group", msg.Group)

			ctxWrite, cancel := context.WithTimeout(ctx, socketWriteTimeout)
			typ, payload, err := wsproto.Marshal(msg, s.encoding)
			if err == nil {
				err = s.conn.Write(ctxWrite, typ, payload)
			}
			cancel()

			if err != nil {
				slog.Error("socket SEND", "error", err)
				return
			}

		case <-pingTicker.C:
			ctxPing, cancel := context.WithTimeout(ctx, socketPingTimeout)
			err := s.conn.Ping(ctxPing)
			cancel()

			if err != nil {
				slog.Error("socket PING", "error", err)
				return
			}
		}
	}
}

// isExpectedCloseError returns true if the error is an expected connection closure
func isExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
