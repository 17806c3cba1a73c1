package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
	"github.com/vobby/vobby/internal/session"
	"github.com/vobby/vobby/internal/tree"
)

// recordingEndpoint keeps the ops it was sent and the length of the content
// they produce, like an editor buffer would.
type recordingEndpoint struct {
	id     string
	kind   mirror.Kind
	ops    []mirror.Op
	length int
}

func (e *recordingEndpoint) ID() string        { return e.id }
func (e *recordingEndpoint) Kind() mirror.Kind { return e.kind }
func (e *recordingEndpoint) Len() int          { return e.length }

func (e *recordingEndpoint) Send(op mirror.Op) error {
	e.ops = append(e.ops, op)
	e.length += op.Size()
	return nil
}

type fakeLocal struct {
	next        identity.BufferID
	created     []string
	closed      []identity.BufferID
	endpointErr error
	buffers     map[identity.BufferID]*recordingEndpoint
}

func newFakeLocal() *fakeLocal {
	return &fakeLocal{next: 100, buffers: make(map[identity.BufferID]*recordingEndpoint)}
}

func (l *fakeLocal) CreateBuffer(path string) (identity.BufferID, error) {
	l.next++
	l.created = append(l.created, path)
	return l.next, nil
}

func (l *fakeLocal) CloseBuffer(handle identity.BufferID) error {
	l.closed = append(l.closed, handle)
	return nil
}

func (l *fakeLocal) Endpoint(handle identity.BufferID) (mirror.Endpoint, error) {
	if l.endpointErr != nil {
		return nil, l.endpointErr
	}
	ep, ok := l.buffers[handle]
	if !ok {
		ep = &recordingEndpoint{id: handle.String(), kind: mirror.Local}
		l.buffers[handle] = ep
	}
	return ep, nil
}

type fakeRemote struct {
	explored     []identity.NodeID
	subscribed   []identity.NodeID
	unsubscribed []string
	added        []string
	removed      []identity.NodeID
	sessions     map[string]*recordingEndpoint
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{sessions: make(map[string]*recordingEndpoint)}
}

func (r *fakeRemote) SendExplore(id identity.NodeID) error {
	r.explored = append(r.explored, id)
	return nil
}

func (r *fakeRemote) SendSubscribe(id identity.NodeID) error {
	r.subscribed = append(r.subscribed, id)
	return nil
}

func (r *fakeRemote) SendUnsubscribe(session string) error {
	r.unsubscribed = append(r.unsubscribed, session)
	return nil
}

func (r *fakeRemote) SendAddNode(parent identity.NodeID, name string, kind tree.Kind) error {
	r.added = append(r.added, fmt.Sprintf("%s/%s:%s", parent, name, kind))
	return nil
}

func (r *fakeRemote) SendRemoveNode(id identity.NodeID) error {
	r.removed = append(r.removed, id)
	return nil
}

func (r *fakeRemote) Endpoint(session string) mirror.Endpoint {
	ep, ok := r.sessions[session]
	if !ok {
		ep = &recordingEndpoint{id: "session:" + session, kind: mirror.Remote}
		r.sessions[session] = ep
	}
	return ep
}

type harness struct {
	t      *testing.T
	c      *Coordinator
	local  *fakeLocal
	remote *fakeRemote
}

func newHarness(t *testing.T, opts Options) *harness {
	if opts.User == "" {
		opts.User = "alice"
	}
	h := &harness{t: t, c: New(opts), local: newFakeLocal(), remote: newFakeRemote()}
	h.c.SetAdapters(h.local, h.remote)
	h.must(Event{Kind: RemoteConnected})
	return h
}

func (h *harness) must(ev Event) {
	h.t.Helper()
	require.NoError(h.t, h.c.Dispatch(ev), ev.Kind.String())
}

func (h *harness) addFile(parent identity.NodeID, id identity.NodeID, name string) {
	h.t.Helper()
	h.must(Event{Kind: NodeAdded, Parent: parent, Node: id, Name: name, NodeKind: tree.KindFile})
}

func (h *harness) addDir(parent identity.NodeID, id identity.NodeID, name string) {
	h.t.Helper()
	h.must(Event{Kind: NodeAdded, Parent: parent, Node: id, Name: name, NodeKind: tree.KindDirectory})
}

func (h *harness) syncSession(id identity.NodeID, sess string, segments ...string) {
	h.t.Helper()
	h.must(Event{Kind: SessionSubscribed, Node: id, Session: sess})
	h.must(Event{Kind: SyncBegin, Session: sess})
	for _, seg := range segments {
		h.must(Event{Kind: SyncSegment, Session: sess, Text: seg})
	}
	h.must(Event{Kind: SyncEnd, Session: sess})
}

func (h *harness) document(path string) mirror.Info {
	h.t.Helper()
	for _, doc := range h.c.Documents() {
		if doc.Path == path {
			return doc
		}
	}
	h.t.Fatalf("no document %q", path)
	return mirror.Info{}
}

func TestCoordinator_EveryEventKindHasAHandler(t *testing.T) {
	c := New(Options{})
	for k := EventKind(0); k < numEventKinds; k++ {
		assert.Contains(t, c.handlers, k, k.String())
		assert.NotContains(t, k.String(), "event(", "missing name for kind %d", k)
	}

	err := c.Dispatch(Event{Kind: numEventKinds})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestCoordinator_ConnectExploresRoot(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, []identity.NodeID{identity.RootNode}, h.remote.explored)
	assert.True(t, h.c.Status().Connected)

	h.must(Event{Kind: ExploreBegin, Node: identity.RootNode})
	h.addFile(identity.RootNode, 1, "a.txt")
	h.addDir(identity.RootNode, 2, "sub")
	h.addFile(2, 3, "b.txt")
	h.must(Event{Kind: ExploreEnd, Node: identity.RootNode})

	nodes := h.c.Tree()
	require.Len(t, nodes, 3)
	assert.Equal(t, "sub", nodes[0].Path)
	assert.Equal(t, "a.txt", nodes[1].Path)
	assert.Equal(t, "sub/b.txt", nodes[2].Path)
	require.NotNil(t, nodes[2].ID)
	assert.Equal(t, identity.NodeID(3), *nodes[2].ID)

	// explore-end without a begin is a protocol violation
	err := h.c.Dispatch(Event{Kind: ExploreEnd, Node: identity.RootNode})
	assert.ErrorIs(t, err, session.ErrIllegalTransition)
}

func TestCoordinator_NodeAddedErrors(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 1, "a.txt")

	err := h.c.Dispatch(Event{Kind: NodeAdded, Parent: identity.RootNode, Node: 9, Name: "a.txt", NodeKind: tree.KindFile})
	assert.ErrorIs(t, err, tree.ErrAlreadyExists)

	err = h.c.Dispatch(Event{Kind: NodeAdded, Parent: 42, Node: 10, Name: "x", NodeKind: tree.KindFile})
	assert.ErrorIs(t, err, identity.ErrNotFound)

	// the same id announced under a second name
	err = h.c.Dispatch(Event{Kind: NodeAdded, Parent: identity.RootNode, Node: 1, Name: "dup.txt", NodeKind: tree.KindFile})
	assert.ErrorIs(t, err, identity.ErrConflictingBinding)
	assert.Len(t, h.c.Tree(), 1)
}

func TestCoordinator_LocalEditQueuedUntilSyncEnd(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")

	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	assert.Equal(t, []identity.NodeID{5}, h.remote.subscribed)
	assert.Equal(t, "syncing", h.document("doc").State)

	h.must(Event{Kind: LocalInsert, Handle: 1, Offset: 0, Text: "hi"})

	h.must(Event{Kind: SessionSubscribed, Node: 5, Session: "s5"})
	h.must(Event{Kind: SyncBegin, Session: "s5"})
	srv := h.remote.sessions["s5"]
	require.NotNil(t, srv)
	assert.Empty(t, srv.ops)

	h.must(Event{Kind: SyncEnd, Session: "s5"})

	require.Len(t, srv.ops, 1)
	assert.Equal(t, mirror.Insert, srv.ops[0].Type)
	assert.Equal(t, 0, srv.ops[0].Offset)
	assert.Equal(t, "hi", srv.ops[0].Text)
	assert.Equal(t, "alice", srv.ops[0].User)
	assert.Equal(t, "live", h.document("doc").State)
}

func TestCoordinator_RemoteEditsReachTheEditor(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5", "hello ", "world")

	ed := h.local.buffers[1]
	require.Len(t, ed.ops, 1)
	assert.Equal(t, "hello world", ed.ops[0].Text)

	h.must(Event{Kind: RemoteDelete, Session: "s5", Offset: 2, Length: 3, User: "bob"})
	h.must(Event{Kind: RemoteInsert, Session: "s5", Offset: 0, Text: ">", User: "bob"})

	require.Len(t, ed.ops, 3)
	assert.Equal(t, mirror.DeleteOp(2, 3).Length, ed.ops[1].Length)
	assert.Equal(t, ">", ed.ops[2].Text)
	assert.Equal(t, len([]rune(">he world")), h.document("doc").Length)

	err := h.c.Dispatch(Event{Kind: RemoteInsert, Session: "unknown", Text: "x"})
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCoordinator_IllegalTransitionClosesDocument(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5")

	err := h.c.Dispatch(Event{Kind: SyncSegment, Session: "s5", Text: "late"})
	assert.ErrorIs(t, err, session.ErrIllegalTransition)

	assert.Empty(t, h.c.Documents())
	assert.Equal(t, []string{"s5"}, h.remote.unsubscribed)

	entry := h.c.Identities()
	require.Len(t, entry, 1)
	assert.False(t, entry[0].HasSession())
	assert.False(t, entry[0].HasHandle())

	// dispatch keeps working
	h.addFile(identity.RootNode, 6, "other")
}

func TestCoordinator_SecondHandleConflicts(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})

	// same handle again is idempotent
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	assert.Len(t, h.c.Documents(), 1)

	err := h.c.Dispatch(Event{Kind: LocalOpened, Path: "doc", Handle: 2})
	assert.ErrorIs(t, err, identity.ErrConflictingBinding)
	assert.Empty(t, h.c.Documents())
}

func TestCoordinator_LocalCloseLeavesSession(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5", "x")

	h.must(Event{Kind: LocalClosed, Handle: 1})
	assert.Empty(t, h.c.Documents())
	assert.Equal(t, []string{"s5"}, h.remote.unsubscribed)

	err := h.c.Dispatch(Event{Kind: LocalInsert, Handle: 1, Text: "x"})
	assert.ErrorIs(t, err, identity.ErrNotFound)

	// and it can be opened again
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 3})
	assert.Equal(t, []identity.NodeID{5, 5}, h.remote.subscribed)
}

func TestCoordinator_SessionClosedByServer(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5")

	h.must(Event{Kind: SessionClosed, Session: "s5"})
	assert.Empty(t, h.c.Documents())
	assert.Empty(t, h.remote.unsubscribed)

	err := h.c.Dispatch(Event{Kind: SyncBegin, Session: "s5"})
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCoordinator_AutoOpen(t *testing.T) {
	h := newHarness(t, Options{AutoOpen: []string{"notes/**/*.md"}})
	h.addDir(identity.RootNode, 1, "notes")
	h.addFile(1, 2, "todo.md")
	h.addFile(1, 3, "todo.txt")

	assert.Equal(t, []identity.NodeID{2}, h.remote.subscribed)

	h.syncSession(2, "s2", "- milk")
	assert.Equal(t, []string{"notes/todo.md"}, h.local.created)

	doc := h.document("notes/todo.md")
	assert.Equal(t, "live", doc.State)
	require.Len(t, doc.Endpoints, 2)

	ed := h.local.buffers[101]
	require.NotNil(t, ed)
	require.Len(t, ed.ops, 1)
	assert.Equal(t, "- milk", ed.ops[0].Text)

	// edits typed in the new buffer flow to the server
	h.must(Event{Kind: LocalInsert, Handle: 101, Offset: 6, Text: "\n- eggs"})
	srv := h.remote.sessions["s2"]
	require.Len(t, srv.ops, 1)
	assert.Equal(t, "\n- eggs", srv.ops[0].Text)

	// and the server's echo of them is not sent back
	h.must(Event{Kind: RemoteInsert, Session: "s2", Offset: 6, Text: "\n- eggs", User: "alice"})
	assert.Len(t, ed.ops, 1)
}

func TestCoordinator_ExploreAll(t *testing.T) {
	h := newHarness(t, Options{ExploreAll: true})
	h.addDir(identity.RootNode, 1, "a")
	h.addFile(identity.RootNode, 2, "f")
	assert.Equal(t, []identity.NodeID{identity.RootNode, 1}, h.remote.explored)
}

func TestCoordinator_LocalExplore(t *testing.T) {
	h := newHarness(t, Options{})
	h.addDir(identity.RootNode, 1, "a")
	h.addFile(identity.RootNode, 2, "f")

	h.must(Event{Kind: LocalExplore, Path: "a"})
	assert.Equal(t, []identity.NodeID{identity.RootNode, 1}, h.remote.explored)

	err := h.c.Dispatch(Event{Kind: LocalExplore, Path: "f"})
	assert.ErrorIs(t, err, tree.ErrNotDirectory)

	err = h.c.Dispatch(Event{Kind: LocalExplore, Path: "missing"})
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestCoordinator_NodeRemoved(t *testing.T) {
	h := newHarness(t, Options{})
	h.addDir(identity.RootNode, 1, "sub")
	h.addFile(1, 2, "open.txt")
	h.addFile(1, 3, "closed.txt")
	h.must(Event{Kind: LocalOpened, Path: "sub/open.txt", Handle: 1})

	err := h.c.Dispatch(Event{Kind: NodeRemoved, Node: 1})
	assert.ErrorIs(t, err, tree.ErrNotEmpty)
	assert.Len(t, h.c.Tree(), 3)

	h.must(Event{Kind: NodeRemoved, Node: 2})
	assert.Empty(t, h.c.Documents())
	assert.Len(t, h.c.Tree(), 2)

	h.must(Event{Kind: NodeRemoved, Node: 1})
	assert.Empty(t, h.c.Tree())
	assert.Empty(t, h.c.Identities())

	err = h.c.Dispatch(Event{Kind: NodeRemoved, Node: 3})
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCoordinator_LocalCreateAndRemove(t *testing.T) {
	h := newHarness(t, Options{})
	h.addDir(identity.RootNode, 1, "sub")
	h.addFile(1, 2, "b.txt")

	h.must(Event{Kind: LocalCreate, Path: "sub/new.txt", NodeKind: tree.KindFile})
	h.must(Event{Kind: LocalCreate, Path: "dir", NodeKind: tree.KindDirectory})
	assert.Equal(t, []string{"1/new.txt:file", "0/dir:dir"}, h.remote.added)

	err := h.c.Dispatch(Event{Kind: LocalCreate, Path: "sub/b.txt", NodeKind: tree.KindFile})
	assert.ErrorIs(t, err, tree.ErrAlreadyExists)

	err = h.c.Dispatch(Event{Kind: LocalCreate, Path: "nope/x", NodeKind: tree.KindFile})
	assert.ErrorIs(t, err, tree.ErrNotFound)

	err = h.c.Dispatch(Event{Kind: LocalRemove, Path: "sub"})
	assert.ErrorIs(t, err, tree.ErrNotEmpty)

	h.must(Event{Kind: LocalRemove, Path: "sub/b.txt"})
	assert.Equal(t, []identity.NodeID{2}, h.remote.removed)
}

func TestCoordinator_OpenUnknownFileCreatesItFirst(t *testing.T) {
	h := newHarness(t, Options{})

	h.must(Event{Kind: LocalOpened, Path: "fresh.txt", Handle: 4})
	assert.Equal(t, []string{"0/fresh.txt:file"}, h.remote.added)
	assert.Empty(t, h.remote.subscribed)
	assert.Equal(t, "idle", h.document("fresh.txt").State)

	h.must(Event{Kind: LocalInsert, Handle: 4, Text: "draft"})

	h.addFile(identity.RootNode, 8, "fresh.txt")
	assert.Equal(t, []identity.NodeID{8}, h.remote.subscribed)

	h.syncSession(8, "s8")
	srv := h.remote.sessions["s8"]
	require.Len(t, srv.ops, 1)
	assert.Equal(t, "draft", srv.ops[0].Text)
}

func TestCoordinator_ReconnectReopensBuffers(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5", "abc")

	h.must(Event{Kind: RemoteDisconnected})
	assert.False(t, h.c.Status().Connected)

	h.must(Event{Kind: RemoteConnected})
	assert.Empty(t, h.c.Tree())
	assert.Equal(t, "idle", h.document("doc").State)

	// ids may change across connections
	h.addFile(identity.RootNode, 50, "doc")
	assert.Equal(t, []identity.NodeID{5, 50}, h.remote.subscribed)

	h.syncSession(50, "s50", "abcd")
	ed := h.local.buffers[1]
	last := ed.ops[len(ed.ops)-2:]
	assert.Equal(t, mirror.Delete, last[0].Type)
	assert.Equal(t, "abcd", last[1].Text)
}

func TestCoordinator_ReconnectReopensNestedBuffers(t *testing.T) {
	h := newHarness(t, Options{})
	h.addDir(identity.RootNode, 2, "sub")
	h.addFile(2, 5, "x.txt")
	h.must(Event{Kind: LocalOpened, Path: "sub/x.txt", Handle: 1})
	h.syncSession(5, "s5", "abc")

	h.must(Event{Kind: RemoteConnected})
	h.addDir(identity.RootNode, 20, "sub")
	h.addDir(identity.RootNode, 21, "other")
	assert.Equal(t, []identity.NodeID{identity.RootNode, identity.RootNode, 20}, h.remote.explored)

	for _, text := range []string{"d", "e", "f"} {
		h.must(Event{Kind: LocalInsert, Handle: 1, Offset: 3, Text: text})
	}
	assert.Equal(t, 3, h.document("sub/x.txt").Queued)

	h.addFile(20, 50, "x.txt")
	assert.Equal(t, []identity.NodeID{5, 50}, h.remote.subscribed)

	h.syncSession(50, "s50", "abc")
	assert.Equal(t, "live", h.document("sub/x.txt").State)
	assert.Equal(t, 0, h.document("sub/x.txt").Queued)

	srv := h.remote.sessions["s50"]
	require.Len(t, srv.ops, 3)
	assert.Equal(t, "d", srv.ops[0].Text)
	assert.Equal(t, "f", srv.ops[2].Text)
}

func TestCoordinator_ActingUserFromServer(t *testing.T) {
	h := newHarness(t, Options{})
	h.addFile(identity.RootNode, 5, "doc")
	h.must(Event{Kind: LocalOpened, Path: "doc", Handle: 1})
	h.syncSession(5, "s5")

	h.must(Event{Kind: UserJoined, Session: "s5", User: "7", Name: "alice", Self: true})
	h.must(Event{Kind: UserJoined, Session: "s5", User: "8", Name: "bob"})

	h.must(Event{Kind: LocalInsert, Handle: 1, Offset: 0, Text: "hi"})
	srv := h.remote.sessions["s5"]
	require.Len(t, srv.ops, 1)
	assert.Equal(t, "7", srv.ops[0].User)

	ed := h.local.buffers[1]
	n := len(ed.ops)

	// the server's echo carries our id and is consumed
	h.must(Event{Kind: RemoteInsert, Session: "s5", Offset: 0, Text: "hi", User: "7"})
	assert.Len(t, ed.ops, n)

	h.must(Event{Kind: RemoteInsert, Session: "s5", Offset: 2, Text: "!", User: "8"})
	require.Len(t, ed.ops, n+1)
	assert.Equal(t, "!", ed.ops[n].Text)
}

func TestCoordinator_AutoOpenClosesUnattachedBuffer(t *testing.T) {
	h := newHarness(t, Options{AutoOpen: []string{"*.md"}})
	h.addFile(identity.RootNode, 2, "a.md")
	h.local.endpointErr = errors.New("editor gone")

	err := h.c.Dispatch(Event{Kind: SessionSubscribed, Node: 2, Session: "s2"})
	assert.Error(t, err)

	assert.Equal(t, []string{"a.md"}, h.local.created)
	assert.Equal(t, []identity.BufferID{101}, h.local.closed)
	assert.Equal(t, []string{"s2"}, h.remote.unsubscribed)
	assert.Empty(t, h.c.Documents())

	entries := h.c.Identities()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].HasHandle())
	assert.False(t, entries[0].HasSession())
}

func TestCoordinator_AutoOpenHandleConflict(t *testing.T) {
	h := newHarness(t, Options{AutoOpen: []string{"*.md"}})
	h.addFile(identity.RootNode, 1, "other.txt")
	h.must(Event{Kind: LocalOpened, Path: "other.txt", Handle: 101})
	h.addFile(identity.RootNode, 2, "a.md")

	// the editor hands out a handle that is already in use
	err := h.c.Dispatch(Event{Kind: SessionSubscribed, Node: 2, Session: "s2"})
	assert.ErrorIs(t, err, identity.ErrConflictingBinding)

	assert.Empty(t, h.local.closed)
	assert.Equal(t, []string{"s2"}, h.remote.unsubscribed)
	docs := h.c.Documents()
	require.Len(t, docs, 1)
	assert.Equal(t, "other.txt", docs[0].Path)
}

func TestCoordinator_PostAndRun(t *testing.T) {
	c := New(Options{User: "alice"})
	remote := newFakeRemote()
	c.SetAdapters(newFakeLocal(), remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, c.Post(ctx, Event{Kind: RemoteConnected}))
	// failing events are logged, not fatal
	require.NoError(t, c.Post(ctx, Event{Kind: SyncEnd, Session: "nope"}))
	require.NoError(t, c.Post(ctx, Event{Kind: NodeAdded, Parent: identity.RootNode, Node: 1, Name: "a", NodeKind: tree.KindFile}))

	assert.Eventually(t, func() bool { return len(c.Tree()) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}

	err := c.Post(ctx, Event{Kind: RemoteConnected})
	if err != nil {
		assert.True(t, errors.Is(err, context.Canceled))
	}
}
