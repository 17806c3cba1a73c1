package remote

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/mirror"
	"github.com/vobby/vobby/internal/tree"
	"github.com/vobby/vobby/internal/version"
	"github.com/vobby/vobby/internal/wsproto"
)

const (
	defaultReconnectDelay    = 1 * time.Second
	defaultMaxReconnectDelay = 8 * time.Second
	dialTimeout              = 10 * time.Second
)

// Sink receives the decoded server events.
type Sink interface {
	Post(ctx context.Context, ev coordinator.Event) error
}

type Options struct {
	ServerURL string
	User      string
	// Encodings is the preference list offered to the server, e.g. "msgpack,json".
	Encodings string

	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Client is the collaboration server side of the bridge. It keeps one
// WebSocket connection alive, turns server messages into coordinator events
// and implements coordinator.RemoteAdapter.
type Client struct {
	opts Options
	sink Sink

	mu    sync.RWMutex
	sock  *socket
	joins map[string]string // session group -> pending user-join seq

	joinSeq   atomic.Uint64
	attempts  atomic.Int64
	connected atomic.Bool
}

var _ coordinator.RemoteAdapter = (*Client)(nil)

func NewClient(opts Options, sink Sink) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, ErrNoServerURL
	}
	if opts.Encodings == "" {
		opts.Encodings = "msgpack,json"
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = max(defaultMaxReconnectDelay, opts.ReconnectDelay)
	}
	opts.ServerURL = toWebsocketURL(opts.ServerURL)

	return &Client{
		opts:  opts,
		sink:  sink,
		joins: make(map[string]string),
	}, nil
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Run keeps a connection to the server until ctx is done, reconnecting with
// exponential backoff and jitter.
func (c *Client) Run(ctx context.Context) error {
	delay := c.opts.ReconnectDelay

	for {
		sock, err := c.dial(ctx)
		if err == nil {
			delay = c.opts.ReconnectDelay
			c.attempts.Store(0)
			c.serve(ctx, sock)
		} else if ctx.Err() == nil {
			slog.Warn("remote connect failed", "url", c.opts.ServerURL, "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}

		attempt := c.attempts.Add(1)
		slog.Info("remote reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay = min(delay*2, c.opts.MaxReconnectDelay)
		jitterFactor := 0.75 + (rand.Float64() * 0.5)
		delay = time.Duration(float64(delay) * jitterFactor)
	}
}

func (c *Client) dial(ctx context.Context) (*socket, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set(wsproto.HeaderEncodings, c.opts.Encodings)
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := websocket.Dial(dialCtx, c.opts.ServerURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", c.opts.ServerURL, err)
	}

	enc := wsproto.EncodingJSON
	if resp != nil {
		enc = wsproto.PreferredEncoding(resp.Header.Get(wsproto.HeaderEncoding))
	}

	sock := newSocket(conn, enc)
	sock.Start(ctx)

	c.mu.Lock()
	c.sock = sock
	c.joins = make(map[string]string)
	c.mu.Unlock()
	c.connected.Store(true)

	slog.Info("remote connected", "url", c.opts.ServerURL, "encoding", enc)
	return sock, nil
}

// serve feeds every received message to the coordinator until the socket closes.
func (c *Client) serve(ctx context.Context, sock *socket) {
	for msg := range sock.msgRx {
		slog.Debug("remote rx", "msg", msg)
		if err := c.handle(ctx, msg); err != nil {
			slog.Warn("remote rx dropped", "msg", msg, "error", err)
		}
	}

	c.mu.Lock()
	if c.sock == sock {
		c.sock = nil
	}
	c.mu.Unlock()
	c.connected.Store(false)
	slog.Info("remote disconnected")

	if ctx.Err() == nil {
		_ = c.sink.Post(ctx, coordinator.Event{Kind: coordinator.RemoteDisconnected})
	}
}

// Close drops the current connection; Run reconnects.
func (c *Client) Close() {
	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()
	if sock != nil {
		sock.Close()
	}
}

func (c *Client) send(msg *infmsg.Message) error {
	c.mu.RLock()
	sock := c.sock
	c.mu.RUnlock()

	if sock == nil {
		return ErrNotConnected
	}
	if err := sock.Send(msg); err != nil {
		return err
	}
	slog.Debug("remote tx", "msg", msg)
	return nil
}

func (c *Client) SendExplore(id identity.NodeID) error {
	return c.send(infmsg.NewExploreNode(uint32(id)))
}

func (c *Client) SendSubscribe(id identity.NodeID) error {
	return c.send(infmsg.NewSubscribeSession(uint32(id)))
}

func (c *Client) SendUnsubscribe(session string) error {
	return c.send(infmsg.NewUnsubscribe(session))
}

func (c *Client) SendAddNode(parent identity.NodeID, name string, kind tree.Kind) error {
	nodeType := infmsg.NodeText
	if kind == tree.KindDirectory {
		nodeType = infmsg.NodeSubdirectory
	}
	return c.send(infmsg.NewAddNode(uint32(parent), 0, name, nodeType))
}

func (c *Client) SendRemoveNode(id identity.NodeID) error {
	return c.send(infmsg.NewRemoveNode(uint32(id)))
}

// Endpoint returns the mirror leg for a subscribed session.
func (c *Client) Endpoint(session string) mirror.Endpoint {
	return &sessionEndpoint{client: c, session: session}
}

// join announces our user to a freshly synchronized session.
func (c *Client) join(session string) error {
	seq := strconv.FormatUint(c.joinSeq.Add(1), 10)

	c.mu.Lock()
	c.joins[session] = seq
	c.mu.Unlock()

	return c.send(infmsg.NewUserJoin(session, c.opts.User, seq))
}

// ownJoin reports whether seq answers our pending join for session.
func (c *Client) ownJoin(session, seq string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq == "" || c.joins[session] != seq {
		return false
	}
	delete(c.joins, session)
	return true
}

// toWebsocketURL converts an HTTP URL to a WebSocket URL
func toWebsocketURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + url[8:]
	} else if strings.HasPrefix(url, "http://") {
		return "ws://" + url[7:]
	}
	return url
}
