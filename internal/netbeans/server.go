package netbeans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vobby/vobby/internal/coordinator"
	"github.com/vobby/vobby/internal/identity"
	"github.com/vobby/vobby/internal/mirror"
)

const DefaultAddr = "localhost:3219"

var (
	ErrNoEditor      = errors.New("netbeans: no editor connected")
	ErrUnknownBuffer = errors.New("netbeans: unknown buffer")
	ErrOutsideRoot   = errors.New("netbeans: path outside of the workspace root")
)

// Sink receives the editor events.
type Sink interface {
	Post(ctx context.Context, ev coordinator.Event) error
}

type Options struct {
	Addr     string
	Password string
	// Root is the local directory mirrored into the server's tree.
	Root string
	// Encoding is Vim's 'encoding' option: utf-8 or latin1.
	Encoding string
}

type buffer struct {
	handle identity.BufferID
	path   string // canonical
	conn   *conn
	text   *text
}

// Server accepts Vim NetBeans connections and implements
// coordinator.LocalAdapter. Buffer handles are global across connections
// and double as Vim buffer numbers.
type Server struct {
	opts Options
	sink Sink
	cs   charset

	mu       sync.Mutex
	listener net.Listener
	conns    map[*conn]struct{}
	latest   *conn
	buffers  map[identity.BufferID]*buffer
	byPath   map[string]identity.BufferID
	nextBuf  identity.BufferID
}

var _ coordinator.LocalAdapter = (*Server)(nil)

func NewServer(opts Options, sink Sink) (*Server, error) {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	cs, err := newCharset(opts.Encoding)
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("netbeans: root: %w", err)
	}
	opts.Root = root

	return &Server{
		opts:    opts,
		sink:    sink,
		cs:      cs,
		conns:   make(map[*conn]struct{}),
		buffers: make(map[identity.BufferID]*buffer),
		byPath:  make(map[string]identity.BufferID),
	}, nil
}

// Listen binds the configured address. Run calls it when needed.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("netbeans: listen: %w", err)
	}
	s.listener = ln
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run accepts editor connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	ln := s.listener
	slog.Info("netbeans listening", "addr", ln.Addr().String(), "root", s.opts.Root, "encoding", s.opts.Encoding)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("netbeans: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Serve(ctx, nc)
		}()
	}
}

// Serve runs one editor connection until it ends or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, nc net.Conn) {
	c := newConn(s, nc)

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.latest = c
	s.mu.Unlock()

	slog.Info("netbeans connected", "remote", nc.RemoteAddr().String())
	c.serve(ctx)
	slog.Info("netbeans disconnected", "remote", nc.RemoteAddr().String())

	s.mu.Lock()
	delete(s.conns, c)
	if s.latest == c {
		s.latest = nil
		for other := range s.conns {
			s.latest = other
		}
	}
	var closed []*buffer
	for h, b := range s.buffers {
		if b.conn == c {
			closed = append(closed, b)
			delete(s.buffers, h)
			delete(s.byPath, b.path)
		}
	}
	s.mu.Unlock()

	for _, b := range closed {
		s.post(ctx, coordinator.Event{Kind: coordinator.LocalClosed, Handle: b.handle, Path: b.path})
	}
}

// CreateBuffer opens a new, empty buffer for path in the most recently
// connected editor.
func (s *Server) CreateBuffer(path string) (identity.BufferID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.latest
	if c == nil {
		return identity.NoBuffer, ErrNoEditor
	}
	if h, ok := s.byPath[path]; ok {
		return h, nil
	}

	s.nextBuf++
	h := s.nextBuf
	full := s.absPath(path)

	cmds := []struct {
		name string
		args []string
	}{
		{"create", nil},
		{"setTitle", []string{quote(path)}},
		{"setFullName", []string{quote(full)}},
		{"setCaretListener", nil},
		{"setModified", []string{"F"}},
		{"setContentType", []string{quote("text/plain")}},
		{"startDocumentListen", nil},
		{"initDone", nil},
	}
	for _, cmd := range cmds {
		if err := c.command(int(h), cmd.name, cmd.args...); err != nil {
			return identity.NoBuffer, err
		}
	}

	s.buffers[h] = &buffer{handle: h, path: path, conn: c, text: newText(s.cs, "")}
	s.byPath[path] = h
	slog.Debug("netbeans buffer created", "handle", h.String(), "path", path)
	return h, nil
}

// CloseBuffer closes a buffer in its editor and forgets it. No LocalClosed
// is posted for it.
func (s *Server) CloseBuffer(h identity.BufferID) error {
	b, ok := s.killed(h)
	if !ok {
		return fmt.Errorf("%s: %w", h, ErrUnknownBuffer)
	}
	slog.Debug("netbeans buffer closed", "handle", h.String(), "path", b.path)
	return b.conn.command(int(h), "close")
}

func (s *Server) Endpoint(h identity.BufferID) (mirror.Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buffers[h]; !ok {
		return nil, fmt.Errorf("%s: %w", h, ErrUnknownBuffer)
	}
	return &bufferEndpoint{server: s, handle: h}, nil
}

// Buffers returns the canonical paths of the open buffers keyed by handle.
func (s *Server) Buffers() map[identity.BufferID]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[identity.BufferID]string, len(s.buffers))
	for h, b := range s.buffers {
		out[h] = b.path
	}
	return out
}

// canonical turns an editor path into a root-relative, slash-separated path.
func (s *Server) canonical(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.opts.Root, p)
	}
	rel, err := filepath.Rel(s.opts.Root, filepath.Clean(p))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	return filepath.ToSlash(rel), nil
}

func (s *Server) absPath(canonical string) string {
	return filepath.Join(s.opts.Root, filepath.FromSlash(canonical))
}

// opened registers a buffer Vim opened on its own. The returned handle is
// new unless the path is already open.
func (s *Server) opened(c *conn, path string) (identity.BufferID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.byPath[path]; ok {
		return h, false
	}

	content := ""
	if raw, err := os.ReadFile(s.absPath(path)); err == nil {
		if decoded, err := s.cs.decode(raw); err == nil {
			content = decoded
		}
	}

	s.nextBuf++
	h := s.nextBuf
	s.buffers[h] = &buffer{handle: h, path: path, conn: c, text: newText(s.cs, content)}
	s.byPath[path] = h
	return h, true
}

func (s *Server) killed(h identity.BufferID) (*buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return nil, false
	}
	delete(s.buffers, h)
	delete(s.byPath, b.path)
	return b, true
}

// edit runs fn on the buffer's text under the server lock.
func (s *Server) edit(h identity.BufferID, fn func(b *buffer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[h]
	if !ok {
		return fmt.Errorf("%s: %w", h, ErrUnknownBuffer)
	}
	return fn(b)
}

func (s *Server) post(ctx context.Context, ev coordinator.Event) {
	if err := s.sink.Post(ctx, ev); err != nil {
		slog.Warn("netbeans event dropped", "event", ev, "error", err)
	}
}
