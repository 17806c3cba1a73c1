package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
	"github.com/vobby/vobby/internal/session"
	"github.com/vobby/vobby/internal/tree"
)

var ErrUnknownEvent = errors.New("coordinator: unknown event kind")

const eventBacklog = 256

// LocalAdapter is the editor side of the bridge.
type LocalAdapter interface {
	// CreateBuffer opens a new editor buffer for path and returns its handle.
	CreateBuffer(path string) (identity.BufferID, error)
	// Endpoint returns the mirror leg for an open buffer.
	Endpoint(handle identity.BufferID) (mirror.Endpoint, error)
	// CloseBuffer closes a buffer created with CreateBuffer.
	CloseBuffer(handle identity.BufferID) error
}

// RemoteAdapter is the collaboration server side of the bridge. Sends hand
// the request to the transport and must not block.
type RemoteAdapter interface {
	SendExplore(id identity.NodeID) error
	SendSubscribe(id identity.NodeID) error
	SendUnsubscribe(session string) error
	SendAddNode(parent identity.NodeID, name string, kind tree.Kind) error
	SendRemoveNode(id identity.NodeID) error
	Endpoint(session string) mirror.Endpoint
}

type Options struct {
	// User is the acting user remote-bound edits are sent as.
	User string
	// AutoOpen lists glob patterns of files to open as soon as they are announced.
	AutoOpen []string
	// ExploreAll explores every directory the server announces.
	ExploreAll bool
}

// Coordinator owns the namespace, the identity registry and every mirror,
// and serializes all adapter events onto them.
type Coordinator struct {
	opts   Options
	local  LocalAdapter
	remote RemoteAdapter

	mu               sync.Mutex
	connected        bool
	tree             *tree.Tree
	ids              *identity.Registry
	mirrors          map[string]*mirror.Mirror
	endpoints        map[identity.BufferID]mirror.Endpoint
	explorations     map[identity.NodeID]*session.Machine
	pendingSubscribe mapset.Set[identity.NodeID]

	events   chan Event
	handlers map[EventKind]func(Event) error
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		opts:             opts,
		tree:             tree.New(),
		ids:              identity.NewRegistry(),
		mirrors:          make(map[string]*mirror.Mirror),
		endpoints:        make(map[identity.BufferID]mirror.Endpoint),
		explorations:     make(map[identity.NodeID]*session.Machine),
		pendingSubscribe: mapset.NewThreadUnsafeSet[identity.NodeID](),
		events:           make(chan Event, eventBacklog),
	}
	c.registerHandlers()
	return c
}

// SetAdapters wires the two sides of the bridge. It must be called before Run.
func (c *Coordinator) SetAdapters(local LocalAdapter, remote RemoteAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = local
	c.remote = remote
}

// Post queues ev for the dispatch loop.
func (c *Coordinator) Post(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains posted events until ctx is done. Handler errors are logged and
// never stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	slog.Info("coordinator started", "user", c.opts.User, "autoOpen", c.opts.AutoOpen)
	defer slog.Info("coordinator stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := c.Dispatch(ev); err != nil {
				slog.Warn("coordinator event failed", "event", ev, "error", err)
			}
		}
	}
}

// Dispatch runs the handler for ev synchronously and returns its error.
func (c *Coordinator) Dispatch(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	handler, ok := c.handlers[ev.Kind]
	if !ok {
		return fmt.Errorf("%s: %w", ev.Kind, ErrUnknownEvent)
	}
	return handler(ev)
}

// abort reports an identity or lifecycle disagreement between the endpoints
// and force-closes the affected document.
func (c *Coordinator) abort(path string, ev Event, err error) error {
	if !errors.Is(err, identity.ErrConflictingBinding) && !errors.Is(err, session.ErrIllegalTransition) {
		return err
	}

	slog.Error("endpoints disagree, closing document", "path", path, "event", ev, "error", err)
	if _, ok := c.mirrors[path]; ok {
		c.closeDocument(path, true)
	}
	return err
}

// pathOf maps a remote node id to its canonical path.
func (c *Coordinator) pathOf(id identity.NodeID) (string, error) {
	if id == identity.RootNode {
		return "", nil
	}
	return c.ids.LookupByRemoteID(id)
}

// idOf maps a canonical path to its remote node id.
func (c *Coordinator) idOf(path string) (identity.NodeID, error) {
	if path == "" {
		return identity.RootNode, nil
	}
	entry, err := c.ids.LookupByPath(path)
	if err != nil {
		return identity.NoNode, err
	}
	if !entry.HasRemoteID() {
		return identity.NoNode, fmt.Errorf("%q has no remote id: %w", path, identity.ErrNotFound)
	}
	return entry.RemoteID, nil
}

func (c *Coordinator) mirrorForSession(session string) (string, *mirror.Mirror, error) {
	path, err := c.ids.LookupBySession(session)
	if err != nil {
		return "", nil, err
	}
	m, ok := c.mirrors[path]
	if !ok {
		return path, nil, fmt.Errorf("no open document at %q: %w", path, identity.ErrNotFound)
	}
	return path, m, nil
}

func (c *Coordinator) mirrorForHandle(handle identity.BufferID) (string, *mirror.Mirror, mirror.Endpoint, error) {
	path, err := c.ids.LookupByLocalHandle(handle)
	if err != nil {
		return "", nil, nil, err
	}
	m, ok := c.mirrors[path]
	ep, hasEp := c.endpoints[handle]
	if !ok || !hasEp {
		return path, nil, nil, fmt.Errorf("no open document for %s: %w", handle, identity.ErrNotFound)
	}
	return path, m, ep, nil
}

func (c *Coordinator) newMirror(path string) *mirror.Mirror {
	m := mirror.New(path, c.opts.User)
	c.mirrors[path] = m
	return m
}

// closeDocument destroys the mirror at path and drops its session and handle.
func (c *Coordinator) closeDocument(path string, unsubscribe bool) {
	if m, ok := c.mirrors[path]; ok {
		m.Close()
		delete(c.mirrors, path)
	}

	entry, err := c.ids.LookupByPath(path)
	if err != nil {
		return
	}
	if entry.HasSession() {
		if unsubscribe {
			if err := c.remote.SendUnsubscribe(entry.Session); err != nil {
				slog.Warn("unsubscribe failed", "path", path, "session", entry.Session, "error", err)
			}
		}
		c.ids.UnbindSession(path)
	}
	if entry.HasHandle() {
		delete(c.endpoints, entry.Handle)
		c.ids.UnbindLocalHandle(path)
	}
	if entry.HasRemoteID() {
		c.pendingSubscribe.Remove(entry.RemoteID)
	}
	slog.Info("document closed", "path", path)
}

// reap closes the document once every endpoint has gone.
func (c *Coordinator) reap(path string, m *mirror.Mirror) {
	if m.Len() == 0 {
		c.closeDocument(path, true)
	}
}

// explore asks the server to list the directory id, unless a listing of it
// is already in flight.
func (c *Coordinator) explore(id identity.NodeID) error {
	machine, ok := c.explorations[id]
	if ok && machine.State() == session.Exploring {
		return nil
	}
	if !ok {
		c.explorations[id] = session.NewMachine()
	}
	return c.remote.SendExplore(id)
}

// subscribe asks the server to join the session of file id.
func (c *Coordinator) subscribe(id identity.NodeID) error {
	if c.pendingSubscribe.Contains(id) {
		return nil
	}
	if err := c.remote.SendSubscribe(id); err != nil {
		return fmt.Errorf("subscribe %s: %w", id, err)
	}
	c.pendingSubscribe.Add(id)
	return nil
}

// startSync moves an idle mirror into the sync window and subscribes.
func (c *Coordinator) startSync(path string, m *mirror.Mirror, id identity.NodeID, ev Event) error {
	if err := m.Subscribe(); err != nil {
		return c.abort(path, ev, err)
	}
	return c.subscribe(id)
}

// hasDocumentsUnder reports whether an open document lives at or below path.
func (c *Coordinator) hasDocumentsUnder(path string) bool {
	if path == "" {
		return len(c.mirrors) > 0
	}
	for p := range c.mirrors {
		if p == path || strings.HasPrefix(p, path+"/") {
			return true
		}
	}
	return false
}

// NodeInfo is a read-only view of a tree node.
type NodeInfo struct {
	Path string           `json:"path"`
	Kind string           `json:"kind"`
	ID   *identity.NodeID `json:"id,omitempty"`
}

// Tree returns every node below the root in walk order.
func (c *Coordinator) Tree() []NodeInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	nodes := []NodeInfo{}
	for entry := range c.tree.Walk() {
		for _, group := range [][]*tree.Node{entry.Dirs, entry.Files} {
			for _, n := range group {
				info := NodeInfo{Path: n.Path(), Kind: n.Kind().String()}
				if id, ok := n.RemoteID(); ok {
					info.ID = &id
				}
				nodes = append(nodes, info)
			}
		}
	}
	return nodes
}

// TreeString renders the namespace like tree(1).
func (c *Coordinator) TreeString() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.String()
}

// Documents returns a snapshot of every open mirror, ordered by path.
func (c *Coordinator) Documents() []mirror.Info {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := make([]mirror.Info, 0, len(c.mirrors))
	for _, m := range c.mirrors {
		docs = append(docs, m.Info())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

// Identities returns a snapshot of the identity registry.
func (c *Coordinator) Identities() []identity.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids.Entries()
}

type Status struct {
	Connected bool   `json:"connected"`
	User      string `json:"user"`
	Documents int    `json:"documents"`
	Bindings  int    `json:"bindings"`
	Backlog   int    `json:"backlog"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected: c.connected,
		User:      c.opts.User,
		Documents: len(c.mirrors),
		Bindings:  c.ids.Len(),
		Backlog:   len(c.events),
	}
}
