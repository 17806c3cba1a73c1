package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/infmsg"
	"github.com/vobby/vobby/internal/mirror"
	"github.com/vobby/vobby/internal/tree"
	"github.com/vobby/vobby/internal/wsproto"
)

type chanSink struct {
	events chan coordinator.Event
}

func newChanSink() *chanSink {
	return &chanSink{events: make(chan coordinator.Event, 64)}
}

func (s *chanSink) Post(ctx context.Context, ev coordinator.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chanSink) next(t *testing.T) coordinator.Event {
	t.Helper()
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return coordinator.Event{}
	}
}

type fakeServer struct {
	url   string
	conns chan *websocket.Conn
}

func newFakeServer(t *testing.T, encoding string) *fakeServer {
	fs := &fakeServer{conns: make(chan *websocket.Conn, 4)}
	stop := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(wsproto.HeaderEncoding, encoding)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
		<-stop
	}))
	t.Cleanup(func() {
		close(stop)
		srv.Close()
	})

	fs.url = srv.URL
	return fs
}

func (fs *fakeServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func write(t *testing.T, conn *websocket.Conn, enc wsproto.Encoding, msg *infmsg.Message) {
	t.Helper()
	typ, data, err := wsproto.Marshal(msg, enc)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, typ, data))
}

func read(t *testing.T, conn *websocket.Conn) *infmsg.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, _, err := wsproto.Unmarshal(typ, data)
	require.NoError(t, err)
	return msg
}

func startClient(t *testing.T, url string) (*Client, *chanSink) {
	t.Helper()
	sink := newChanSink()
	client, err := NewClient(Options{
		ServerURL:         url,
		User:              "alice",
		ReconnectDelay:    10 * time.Millisecond,
		MaxReconnectDelay: 20 * time.Millisecond,
	}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return client, sink
}

func TestClient_WelcomeAndDirectoryTraffic(t *testing.T) {
	for _, enc := range []wsproto.Encoding{wsproto.EncodingJSON, wsproto.EncodingMsgPack} {
		t.Run(enc.String(), func(t *testing.T) {
			fs := newFakeServer(t, enc.String())
			client, sink := startClient(t, fs.url)
			conn := fs.accept(t)

			write(t, conn, enc, infmsg.NewWelcome(1))
			ev := sink.next(t)
			assert.Equal(t, coordinator.RemoteConnected, ev.Kind)
			assert.True(t, client.IsConnected())

			require.NoError(t, client.SendExplore(identity.RootNode))
			msg := read(t, conn)
			require.Equal(t, infmsg.MsgExploreNode, msg.Type)
			assert.Equal(t, uint32(0), msg.Data.(*infmsg.ExploreNode).ID)

			require.NoError(t, client.SendAddNode(3, "notes", tree.KindDirectory))
			msg = read(t, conn)
			add := msg.Data.(*infmsg.AddNode)
			assert.Equal(t, uint32(3), add.Parent)
			assert.True(t, add.IsDirectory())

			write(t, conn, enc, infmsg.NewAddNode(3, 9, "a.txt", infmsg.NodeText))
			ev = sink.next(t)
			assert.Equal(t, coordinator.NodeAdded, ev.Kind)
			assert.Equal(t, identity.NodeID(3), ev.Parent)
			assert.Equal(t, identity.NodeID(9), ev.Node)
			assert.Equal(t, tree.KindFile, ev.NodeKind)
		})
	}
}

func TestClient_SyncEndRepliesAndJoins(t *testing.T) {
	fs := newFakeServer(t, "json")
	_, sink := startClient(t, fs.url)
	conn := fs.accept(t)
	write(t, conn, wsproto.EncodingJSON, infmsg.NewWelcome(1))
	sink.next(t)

	write(t, conn, wsproto.EncodingJSON, infmsg.NewSubscribeAck(9, "s9"))
	ev := sink.next(t)
	assert.Equal(t, coordinator.SessionSubscribed, ev.Kind)
	assert.Equal(t, "s9", ev.Session)

	write(t, conn, wsproto.EncodingJSON, infmsg.NewSyncEnd("s9"))
	ev = sink.next(t)
	assert.Equal(t, coordinator.SyncEnd, ev.Kind)
	assert.Equal(t, "s9", ev.Session)

	ack := read(t, conn)
	assert.Equal(t, infmsg.MsgSyncAck, ack.Type)
	assert.Equal(t, "s9", ack.Group)

	join := read(t, conn)
	require.Equal(t, infmsg.MsgUserJoin, join.Type)
	req := join.Data.(*infmsg.UserJoin)
	assert.Equal(t, "alice", req.Name)
	require.NotEmpty(t, req.Seq)

	write(t, conn, wsproto.EncodingJSON, infmsg.NewUserJoined("s9", 2, "alice 2", req.Seq))
	ev = sink.next(t)
	assert.Equal(t, coordinator.UserJoined, ev.Kind)
	assert.Equal(t, "2", ev.User)
	assert.Equal(t, "alice 2", ev.Name)
	assert.True(t, ev.Self)

	write(t, conn, wsproto.EncodingJSON, infmsg.NewUserJoined("s9", 3, "bob", ""))
	ev = sink.next(t)
	assert.Equal(t, "3", ev.User)
	assert.False(t, ev.Self)

	// servers that assign no id leave the name as the acting user
	write(t, conn, wsproto.EncodingJSON, infmsg.NewUserJoined("s9", 0, "carol", ""))
	ev = sink.next(t)
	assert.Equal(t, "carol", ev.User)
}

func TestClient_RequestsBothWays(t *testing.T) {
	fs := newFakeServer(t, "msgpack")
	client, sink := startClient(t, fs.url)
	conn := fs.accept(t)
	write(t, conn, wsproto.EncodingMsgPack, infmsg.NewWelcome(1))
	sink.next(t)

	write(t, conn, wsproto.EncodingMsgPack, infmsg.NewDeleteRequest("s1", "bob", "", 2, 3))
	ev := sink.next(t)
	assert.Equal(t, coordinator.RemoteDelete, ev.Kind)
	assert.Equal(t, "s1", ev.Session)
	assert.Equal(t, 2, ev.Offset)
	assert.Equal(t, 3, ev.Length)
	assert.Equal(t, "bob", ev.User)

	ep := client.Endpoint("s1")
	assert.Equal(t, mirror.Remote, ep.Kind())
	require.NoError(t, ep.Send(mirror.Op{Type: mirror.Insert, Offset: 4, Text: "hi", User: "alice"}))

	msg := read(t, conn)
	require.Equal(t, infmsg.MsgRequest, msg.Type)
	assert.Equal(t, "s1", msg.Group)
	req := msg.Data.(*infmsg.Request)
	assert.Equal(t, infmsg.OpInsert, req.Op)
	assert.Equal(t, 4, req.Pos)
	assert.Equal(t, "hi", req.Text)
	assert.Equal(t, "alice", req.User)
}

func TestClient_Reconnects(t *testing.T) {
	fs := newFakeServer(t, "json")
	_, sink := startClient(t, fs.url)

	conn := fs.accept(t)
	write(t, conn, wsproto.EncodingJSON, infmsg.NewWelcome(1))
	assert.Equal(t, coordinator.RemoteConnected, sink.next(t).Kind)

	_ = conn.Close(websocket.StatusGoingAway, "restart")
	assert.Equal(t, coordinator.RemoteDisconnected, sink.next(t).Kind)

	conn = fs.accept(t)
	write(t, conn, wsproto.EncodingJSON, infmsg.NewWelcome(2))
	assert.Equal(t, coordinator.RemoteConnected, sink.next(t).Kind)
}

func TestClient_SendWithoutConnection(t *testing.T) {
	client, err := NewClient(Options{ServerURL: "http://127.0.0.1:1"}, newChanSink())
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:1", client.opts.ServerURL)

	assert.ErrorIs(t, client.SendSubscribe(4), ErrNotConnected)
	assert.ErrorIs(t, client.Endpoint("s").Send(mirror.InsertOp(0, "x")), ErrNotConnected)

	_, err = NewClient(Options{}, newChanSink())
	assert.ErrorIs(t, err, ErrNoServerURL)
}

func TestClient_Translate(t *testing.T) {
	client, err := NewClient(Options{ServerURL: "ws://example.invalid"}, newChanSink())
	require.NoError(t, err)

	cases := []struct {
		name string
		msg  *infmsg.Message
		ok   bool
		err  bool
		kind coordinator.EventKind
	}{
		{"explore begin", infmsg.NewExploreBegin(0, 3), true, false, coordinator.ExploreBegin},
		{"remove node", infmsg.NewRemoveNode(4), true, false, coordinator.NodeRemoved},
		{"sync begin", infmsg.NewSyncBegin("s", 1), true, false, coordinator.SyncBegin},
		{"segment", infmsg.NewSyncSegment("s", "", "abc"), true, false, coordinator.SyncSegment},
		{"session close", infmsg.NewSessionClose("s"), true, false, coordinator.SessionClosed},
		{"error", infmsg.NewError("s", 1, "INF", "boom"), false, false, 0},
		{"stray sync ack", infmsg.NewSyncAck("s"), false, false, 0},
		{"segment outside session", infmsg.NewSyncSegment(infmsg.GroupDirectory, "", "x"), false, true, 0},
		{"subscribe without group", infmsg.NewSubscribeSession(3), false, true, 0},
		{"bad op", &infmsg.Message{Type: infmsg.MsgRequest, Group: "s", Data: &infmsg.Request{Op: "noop"}}, false, true, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok, err := client.translate(tc.msg)
			assert.Equal(t, tc.ok, ok)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if ok {
				assert.Equal(t, tc.kind, ev.Kind)
			}
		})
	}
}
