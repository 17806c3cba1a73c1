package identity

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound           = errors.New("identity: not found")
	ErrConflictingBinding = errors.New("identity: conflicting binding")
	ErrUnassigned         = errors.New("identity: unassigned identifier")
)

// Entry is the set of identifiers known for one canonical path.
type Entry struct {
	Path     string
	RemoteID NodeID
	Session  string
	Handle   BufferID
}

func (e Entry) HasRemoteID() bool { return e.RemoteID != NoNode }
func (e Entry) HasSession() bool  { return e.Session != "" }
func (e Entry) HasHandle() bool   { return e.Handle != NoBuffer }

// Registry maps remote node ids, session names and editor handles onto canonical paths.
// It is not safe for concurrent use; the coordinator is its only writer.
type Registry struct {
	byPath    map[string]*Entry
	byRemote  map[NodeID]string
	bySession map[string]string
	byHandle  map[BufferID]string
}

func NewRegistry() *Registry {
	return &Registry{
		byPath:    make(map[string]*Entry),
		byRemote:  make(map[NodeID]string),
		bySession: make(map[string]string),
		byHandle:  make(map[BufferID]string),
	}
}

func (r *Registry) entry(path string) *Entry {
	e, ok := r.byPath[path]
	if !ok {
		e = &Entry{Path: path, RemoteID: NoNode, Handle: NoBuffer}
		r.byPath[path] = e
	}
	return e
}

// BindRemoteID associates the server node id with path.
func (r *Registry) BindRemoteID(path string, id NodeID) error {
	if id == NoNode {
		return fmt.Errorf("bind remote id for %q: %w", path, ErrUnassigned)
	}
	if owner, ok := r.byRemote[id]; ok && owner != path {
		return fmt.Errorf("remote id %s already bound to %q, not %q: %w", id, owner, path, ErrConflictingBinding)
	}
	if e, ok := r.byPath[path]; ok && e.HasRemoteID() && e.RemoteID != id {
		return fmt.Errorf("%q already bound to remote id %s, not %s: %w", path, e.RemoteID, id, ErrConflictingBinding)
	}

	r.entry(path).RemoteID = id
	r.byRemote[id] = path
	return nil
}

// BindSession associates the server session (group) name with path.
func (r *Registry) BindSession(path string, session string) error {
	if session == "" {
		return fmt.Errorf("bind session for %q: %w", path, ErrUnassigned)
	}
	if owner, ok := r.bySession[session]; ok && owner != path {
		return fmt.Errorf("session %q already bound to %q, not %q: %w", session, owner, path, ErrConflictingBinding)
	}
	if e, ok := r.byPath[path]; ok && e.HasSession() && e.Session != session {
		return fmt.Errorf("%q already bound to session %q, not %q: %w", path, e.Session, session, ErrConflictingBinding)
	}

	r.entry(path).Session = session
	r.bySession[session] = path
	return nil
}

// BindLocalHandle associates the editor buffer handle with path.
func (r *Registry) BindLocalHandle(path string, handle BufferID) error {
	if handle == NoBuffer {
		return fmt.Errorf("bind handle for %q: %w", path, ErrUnassigned)
	}
	if owner, ok := r.byHandle[handle]; ok && owner != path {
		return fmt.Errorf("handle %s already bound to %q, not %q: %w", handle, owner, path, ErrConflictingBinding)
	}
	if e, ok := r.byPath[path]; ok && e.HasHandle() && e.Handle != handle {
		return fmt.Errorf("%q already bound to handle %s, not %s: %w", path, e.Handle, handle, ErrConflictingBinding)
	}

	r.entry(path).Handle = handle
	r.byHandle[handle] = path
	return nil
}

// UnbindSession clears the session of path. It is a no-op if none is bound.
func (r *Registry) UnbindSession(path string) {
	e, ok := r.byPath[path]
	if !ok || !e.HasSession() {
		return
	}
	delete(r.bySession, e.Session)
	e.Session = ""
}

// UnbindLocalHandle clears the editor handle of path. It is a no-op if none is bound.
func (r *Registry) UnbindLocalHandle(path string) {
	e, ok := r.byPath[path]
	if !ok || !e.HasHandle() {
		return
	}
	delete(r.byHandle, e.Handle)
	e.Handle = NoBuffer
}

func (r *Registry) LookupByRemoteID(id NodeID) (string, error) {
	path, ok := r.byRemote[id]
	if !ok {
		return "", fmt.Errorf("remote id %s: %w", id, ErrNotFound)
	}
	return path, nil
}

func (r *Registry) LookupBySession(session string) (string, error) {
	path, ok := r.bySession[session]
	if !ok {
		return "", fmt.Errorf("session %q: %w", session, ErrNotFound)
	}
	return path, nil
}

func (r *Registry) LookupByLocalHandle(handle BufferID) (string, error) {
	path, ok := r.byHandle[handle]
	if !ok {
		return "", fmt.Errorf("handle %s: %w", handle, ErrNotFound)
	}
	return path, nil
}

func (r *Registry) LookupByPath(path string) (Entry, error) {
	e, ok := r.byPath[path]
	if !ok {
		return Entry{}, fmt.Errorf("path %q: %w", path, ErrNotFound)
	}
	return *e, nil
}

// Release removes every identifier bound to path.
// Callers must have detached both the editor and the server side first.
func (r *Registry) Release(path string) {
	e, ok := r.byPath[path]
	if !ok {
		return
	}
	if e.HasRemoteID() {
		delete(r.byRemote, e.RemoteID)
	}
	if e.HasSession() {
		delete(r.bySession, e.Session)
	}
	if e.HasHandle() {
		delete(r.byHandle, e.Handle)
	}
	delete(r.byPath, path)
}

func (r *Registry) Len() int {
	return len(r.byPath)
}

// Entries returns a copy of all entries ordered by path.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.byPath))
	for _, e := range r.byPath {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
	return entries
}
