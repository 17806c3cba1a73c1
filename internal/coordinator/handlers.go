package coordinator

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
	"github.com/vobby/vobby/internal/session"
	"github.com/vobby/vobby/internal/tree"
)

func (c *Coordinator) registerHandlers() {
	c.handlers = map[EventKind]func(Event) error{
		RemoteConnected:    c.onRemoteConnected,
		RemoteDisconnected: c.onRemoteDisconnected,
		ExploreBegin:       c.onExploreBegin,
		ExploreEnd:         c.onExploreEnd,
		NodeAdded:          c.onNodeAdded,
		NodeRemoved:        c.onNodeRemoved,
		SessionSubscribed:  c.onSessionSubscribed,
		SyncBegin:          c.onSyncBegin,
		SyncSegment:        c.onSyncSegment,
		SyncEnd:            c.onSyncEnd,
		UserJoined:         c.onUserJoined,
		RemoteInsert:       c.onRemoteEdit,
		RemoteDelete:       c.onRemoteEdit,
		SessionClosed:      c.onSessionClosed,
		LocalOpened:        c.onLocalOpened,
		LocalInsert:        c.onLocalEdit,
		LocalDelete:        c.onLocalEdit,
		LocalClosed:        c.onLocalClosed,
		LocalCreate:        c.onLocalCreate,
		LocalRemove:        c.onLocalRemove,
		LocalExplore:       c.onLocalExplore,
	}
}

// onRemoteConnected rebuilds all state from scratch for the new connection.
// Buffers still open in the editor get a fresh idle mirror that subscribes
// again once the server announces their node.
func (c *Coordinator) onRemoteConnected(ev Event) error {
	reopen := make(map[string]identity.BufferID)
	for path, m := range c.mirrors {
		if entry, err := c.ids.LookupByPath(path); err == nil && entry.HasHandle() {
			reopen[path] = entry.Handle
		}
		m.Close()
	}

	c.connected = true
	c.tree = tree.New()
	c.ids = identity.NewRegistry()
	c.mirrors = make(map[string]*mirror.Mirror)
	c.explorations = make(map[identity.NodeID]*session.Machine)
	c.pendingSubscribe.Clear()

	endpoints := c.endpoints
	c.endpoints = make(map[identity.BufferID]mirror.Endpoint)
	for path, handle := range reopen {
		ep, ok := endpoints[handle]
		if !ok {
			continue
		}
		if err := c.ids.BindLocalHandle(path, handle); err != nil {
			slog.Warn("reopen failed", "path", path, "handle", handle, "error", err)
			continue
		}
		m := c.newMirror(path)
		if err := m.Attach(ep); err != nil {
			slog.Warn("reopen failed", "path", path, "handle", handle, "error", err)
			continue
		}
		c.endpoints[handle] = ep
	}

	slog.Info("remote connected", "reopen", len(reopen))
	return c.explore(identity.RootNode)
}

func (c *Coordinator) onRemoteDisconnected(ev Event) error {
	c.connected = false
	slog.Warn("remote disconnected", "documents", len(c.mirrors))
	return nil
}

func (c *Coordinator) exploration(id identity.NodeID) *session.Machine {
	machine, ok := c.explorations[id]
	if !ok {
		machine = session.NewMachine()
		c.explorations[id] = machine
	}
	return machine
}

func (c *Coordinator) onExploreBegin(ev Event) error {
	path, err := c.pathOf(ev.Node)
	if err != nil {
		return err
	}
	if _, err := c.exploration(ev.Node).Advance(session.ExploreBegin); err != nil {
		return c.abort(path, ev, err)
	}
	return nil
}

func (c *Coordinator) onExploreEnd(ev Event) error {
	path, err := c.pathOf(ev.Node)
	if err != nil {
		return err
	}
	if _, err := c.exploration(ev.Node).Advance(session.ExploreEnd); err != nil {
		return c.abort(path, ev, err)
	}
	if node, err := c.tree.Resolve(path); err == nil {
		slog.Debug("explored", "path", path, "children", node.Len())
	}
	return nil
}

func (c *Coordinator) onNodeAdded(ev Event) error {
	parent, err := c.pathOf(ev.Parent)
	if err != nil {
		return err
	}

	if ev.NodeKind == tree.KindDirectory {
		_, err = c.tree.CreateDirectory(parent, ev.Name, ev.Node)
	} else {
		_, err = c.tree.CreateFile(parent, ev.Name, ev.Node)
	}
	if err != nil {
		return err
	}

	path := tree.JoinPath(parent, ev.Name)
	if err := c.ids.BindRemoteID(path, ev.Node); err != nil {
		_ = c.tree.Remove(path)
		return c.abort(path, ev, err)
	}
	slog.Debug("node added", "path", path, "id", ev.Node, "kind", ev.NodeKind)

	if ev.NodeKind == tree.KindDirectory {
		// open buffers below it wait for their nodes
		if c.opts.ExploreAll || c.hasDocumentsUnder(path) {
			return c.explore(ev.Node)
		}
		return nil
	}

	// a buffer is waiting for this node: opened locally before the server
	// knew the file, or carried over from a previous connection
	if m, ok := c.mirrors[path]; ok {
		if m.State() == session.Idle {
			return c.startSync(path, m, ev.Node, ev)
		}
		return nil
	}

	if c.autoOpen(path) {
		slog.Info("auto-opening", "path", path)
		return c.subscribe(ev.Node)
	}
	return nil
}

func (c *Coordinator) autoOpen(path string) bool {
	for _, pattern := range c.opts.AutoOpen {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

func (c *Coordinator) onNodeRemoved(ev Event) error {
	path, err := c.pathOf(ev.Node)
	if err != nil {
		return err
	}
	node, err := c.tree.Resolve(path)
	if err != nil {
		return err
	}

	if node.IsDir() {
		if c.hasDocumentsUnder(path) {
			err := fmt.Errorf("%q has open documents: %w", path, tree.ErrNotEmpty)
			slog.Error("refusing to remove directory", "event", ev, "error", err)
			return err
		}
	} else if _, ok := c.mirrors[path]; ok {
		c.closeDocument(path, false)
	}

	var released []string
	for entry := range node.Walk() {
		for _, group := range [][]*tree.Node{entry.Dirs, entry.Files} {
			for _, n := range group {
				released = append(released, n.Path())
			}
		}
	}
	if err := c.tree.RemoveAll(path); err != nil {
		return err
	}
	for _, p := range append(released, path) {
		if entry, err := c.ids.LookupByPath(p); err == nil {
			delete(c.explorations, entry.RemoteID)
		}
		c.ids.Release(p)
	}
	slog.Info("node removed", "path", path, "released", len(released)+1)
	return nil
}

// onSessionSubscribed handles the server's subscribe-ack. A document nobody
// opened locally yet (auto-open) gets a new editor buffer.
func (c *Coordinator) onSessionSubscribed(ev Event) error {
	path, err := c.pathOf(ev.Node)
	if err != nil {
		return err
	}
	c.pendingSubscribe.Remove(ev.Node)

	if err := c.ids.BindSession(path, ev.Session); err != nil {
		return c.abort(path, ev, err)
	}

	m, ok := c.mirrors[path]
	if !ok {
		m = c.newMirror(path)
		if err := m.Subscribe(); err != nil {
			return c.abort(path, ev, err)
		}

		if err := c.openBuffer(path, m); err != nil {
			c.closeDocument(path, true)
			return c.abort(path, ev, fmt.Errorf("open buffer for %q: %w", path, err))
		}
	} else if m.State() != session.Syncing {
		if err := m.Subscribe(); err != nil {
			return c.abort(path, ev, err)
		}
	}

	if err := m.Attach(c.remote.Endpoint(ev.Session)); err != nil {
		return err
	}
	slog.Info("subscribed", "path", path, "session", ev.Session)
	return nil
}

// openBuffer creates an editor buffer for path and attaches it to m. The
// buffer is closed again if it cannot be attached.
func (c *Coordinator) openBuffer(path string, m *mirror.Mirror) (err error) {
	handle, err := c.local.CreateBuffer(path)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		// a handle already bound elsewhere belongs to another document
		if other, lerr := c.ids.LookupByLocalHandle(handle); lerr == nil && other != path {
			return
		}
		if cerr := c.local.CloseBuffer(handle); cerr != nil {
			slog.Warn("close buffer failed", "path", path, "handle", handle, "error", cerr)
		}
	}()

	if err := c.ids.BindLocalHandle(path, handle); err != nil {
		return err
	}
	ep, err := c.local.Endpoint(handle)
	if err != nil {
		return err
	}
	c.endpoints[handle] = ep
	return m.Attach(ep)
}

func (c *Coordinator) onSyncBegin(ev Event) error {
	path, m, err := c.mirrorForSession(ev.Session)
	if err != nil {
		return err
	}
	if err := m.BeginSync(); err != nil {
		return c.abort(path, ev, err)
	}
	return nil
}

func (c *Coordinator) onSyncSegment(ev Event) error {
	path, m, err := c.mirrorForSession(ev.Session)
	if err != nil {
		return err
	}
	if err := m.AppendSegment(ev.Text); err != nil {
		return c.abort(path, ev, err)
	}
	return nil
}

func (c *Coordinator) onSyncEnd(ev Event) error {
	path, m, err := c.mirrorForSession(ev.Session)
	if err != nil {
		return err
	}
	if err := m.FinishSync(); err != nil {
		return c.abort(path, ev, err)
	}
	c.reap(path, m)
	return nil
}

func (c *Coordinator) onUserJoined(ev Event) error {
	path, m, err := c.mirrorForSession(ev.Session)
	if err != nil {
		return err
	}
	if ev.Self && ev.User != "" {
		m.SetActingUser(ev.User)
	}
	slog.Info("user joined", "path", path, "user", ev.User, "name", ev.Name, "self", ev.Self)
	return nil
}

func (c *Coordinator) onRemoteEdit(ev Event) error {
	path, m, err := c.mirrorForSession(ev.Session)
	if err != nil {
		return err
	}
	if ev.Kind == RemoteInsert {
		err = m.OnRemoteInsert(ev.Offset, ev.Text, ev.User)
	} else {
		err = m.OnRemoteDelete(ev.Offset, ev.Length, ev.User)
	}
	if err != nil {
		return c.abort(path, ev, err)
	}
	c.reap(path, m)
	return nil
}

func (c *Coordinator) onSessionClosed(ev Event) error {
	path, err := c.ids.LookupBySession(ev.Session)
	if err != nil {
		return err
	}
	c.closeDocument(path, false)
	return nil
}

// onLocalOpened starts watching a file the editor opened. Files unknown to the
// server are created there first; the subscribe follows their NodeAdded.
func (c *Coordinator) onLocalOpened(ev Event) error {
	path := tree.Clean(ev.Path)

	if m, ok := c.mirrors[path]; ok {
		if err := c.ids.BindLocalHandle(path, ev.Handle); err != nil {
			return c.abort(path, ev, err)
		}
		if _, ok := c.endpoints[ev.Handle]; ok {
			return nil
		}
		ep, err := c.local.Endpoint(ev.Handle)
		if err != nil {
			return err
		}
		c.endpoints[ev.Handle] = ep
		return m.Attach(ep)
	}

	node, err := c.tree.Resolve(path)
	switch {
	case errors.Is(err, tree.ErrNotFound):
		node = nil
		if err := c.requestCreate(path, tree.KindFile); err != nil {
			return err
		}
	case err != nil:
		return err
	case node.IsDir():
		return fmt.Errorf("%q: %w", path, tree.ErrNotDirectory)
	}

	if err := c.ids.BindLocalHandle(path, ev.Handle); err != nil {
		return c.abort(path, ev, err)
	}
	ep, err := c.local.Endpoint(ev.Handle)
	if err != nil {
		c.ids.UnbindLocalHandle(path)
		return err
	}
	c.endpoints[ev.Handle] = ep

	m := c.newMirror(path)
	if err := m.Attach(ep); err != nil {
		return err
	}
	slog.Info("document opened", "path", path, "handle", ev.Handle)

	if node == nil {
		return nil
	}
	id, _ := node.RemoteID()
	return c.startSync(path, m, id, ev)
}

func (c *Coordinator) onLocalEdit(ev Event) error {
	path, m, ep, err := c.mirrorForHandle(ev.Handle)
	if err != nil {
		return err
	}
	if ev.Kind == LocalInsert {
		err = m.OnLocalInsert(ev.Offset, ev.Text, ep.ID())
	} else {
		err = m.OnLocalDelete(ev.Offset, ev.Length, ep.ID())
	}
	if err != nil {
		return c.abort(path, ev, err)
	}
	c.reap(path, m)
	return nil
}

// onLocalClosed detaches the editor buffer. The last one closes the document
// and leaves the remote session.
func (c *Coordinator) onLocalClosed(ev Event) error {
	path, m, ep, err := c.mirrorForHandle(ev.Handle)
	if err != nil {
		return err
	}

	m.Detach(ep.ID())
	delete(c.endpoints, ev.Handle)
	c.ids.UnbindLocalHandle(path)

	if m.Count(mirror.Local) == 0 {
		c.closeDocument(path, true)
	}
	return nil
}

func (c *Coordinator) onLocalCreate(ev Event) error {
	path := tree.Clean(ev.Path)
	if _, err := c.tree.Resolve(path); err == nil {
		return fmt.Errorf("%q: %w", path, tree.ErrAlreadyExists)
	}
	return c.requestCreate(path, ev.NodeKind)
}

// requestCreate asks the server to add path. The parent must already exist.
func (c *Coordinator) requestCreate(path string, kind tree.Kind) error {
	parentPath, name := tree.Split(path)
	if name == "" {
		return fmt.Errorf("%q: %w", path, tree.ErrInvalidName)
	}

	parent, err := c.tree.Resolve(parentPath)
	if err != nil {
		return err
	}
	if !parent.IsDir() {
		return fmt.Errorf("%q: %w", parentPath, tree.ErrNotDirectory)
	}
	parentID, err := c.idOf(parentPath)
	if err != nil {
		return err
	}
	return c.remote.SendAddNode(parentID, name, kind)
}

func (c *Coordinator) onLocalRemove(ev Event) error {
	path := tree.Clean(ev.Path)
	node, err := c.tree.Resolve(path)
	if err != nil {
		return err
	}
	if node == c.tree.Root() {
		return fmt.Errorf("cannot remove root: %w", tree.ErrInvalidName)
	}
	if node.IsDir() && node.Len() > 0 {
		return fmt.Errorf("%q: %w", path, tree.ErrNotEmpty)
	}

	id, err := c.idOf(path)
	if err != nil {
		return err
	}
	return c.remote.SendRemoveNode(id)
}

func (c *Coordinator) onLocalExplore(ev Event) error {
	path := tree.Clean(ev.Path)
	node, err := c.tree.Resolve(path)
	if err != nil {
		return err
	}
	if !node.IsDir() {
		return fmt.Errorf("%q: %w", path, tree.ErrNotDirectory)
	}
	id, err := c.idOf(path)
	if err != nil {
		return err
	}
	return c.explore(id)
}
