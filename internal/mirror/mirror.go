package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/vobby/vobby/internal/queue"
	"github.com/vobby/vobby/internal/session"
)

var (
	ErrEndpointUnavailable = errors.New("mirror: endpoint unavailable")
	ErrUnknownEndpoint     = errors.New("mirror: unknown endpoint")
	ErrDuplicateEndpoint   = errors.New("mirror: endpoint already attached")
)

// maxPendingEchoes bounds the echo list when the server never confirms.
const maxPendingEchoes = 1024

type queuedOp struct {
	origin string
	op     Op
}

type echo struct {
	origin    string
	signature string
}

// Mirror keeps the copies of one document in step across its endpoints.
// It must only be used from the coordinator's dispatch context.
type Mirror struct {
	path      string
	user      string
	machine   *session.Machine
	endpoints []*attachment
	text      []rune
	segments  strings.Builder
	queued    *queue.Queue[queuedOp]
	echoes    []echo
	log       *slog.Logger
}

func New(path, user string) *Mirror {
	return &Mirror{
		path:    path,
		user:    user,
		machine: session.NewMachine(),
		queued:  queue.New[queuedOp](),
		log:     slog.With("path", path),
	}
}

func (m *Mirror) Path() string {
	return m.path
}

func (m *Mirror) State() session.State {
	return m.machine.State()
}

// SetActingUser sets the user that remote-bound ops are sent as.
func (m *Mirror) SetActingUser(user string) {
	m.user = user
}

// Len is the number of attached endpoints.
func (m *Mirror) Len() int {
	return len(m.endpoints)
}

// Count is the number of attached endpoints of kind k.
func (m *Mirror) Count(k Kind) int {
	n := 0
	for _, att := range m.endpoints {
		if att.ep.Kind() == k {
			n++
		}
	}
	return n
}

// Text returns the mirror's copy of the document.
func (m *Mirror) Text() string {
	return string(m.text)
}

// Attach adds ep to the fan-out set with a fresh sequence counter. A local
// endpoint attached to a live mirror is seeded with the current text.
func (m *Mirror) Attach(ep Endpoint) error {
	if m.find(ep.ID()) != nil {
		return fmt.Errorf("%s: %w", ep.ID(), ErrDuplicateEndpoint)
	}

	att := &attachment{ep: ep}
	if sized, ok := ep.(Sized); ok {
		att.length = sized.Len()
	}
	m.endpoints = append(m.endpoints, att)
	m.log.Debug("mirror attach", "endpoint", ep.ID(), "kind", ep.Kind(), "state", m.State())

	if ep.Kind() == Local && m.State() == session.Live {
		m.replace(att)
	}
	return nil
}

// Detach removes the endpoint called id. Unknown ids are ignored.
func (m *Mirror) Detach(id string) {
	idx := slices.IndexFunc(m.endpoints, func(att *attachment) bool { return att.ep.ID() == id })
	if idx < 0 {
		return
	}
	m.endpoints = slices.Delete(m.endpoints, idx, idx+1)
	m.echoes = slices.DeleteFunc(m.echoes, func(e echo) bool { return e.origin == id })
	m.log.Debug("mirror detach", "endpoint", id, "remaining", len(m.endpoints))
}

// Subscribe moves the mirror into the sync window.
func (m *Mirror) Subscribe() error {
	_, err := m.machine.Advance(session.Subscribe)
	return err
}

// BeginSync marks the start of the initial content transfer.
func (m *Mirror) BeginSync() error {
	if _, err := m.machine.Advance(session.SyncBegin); err != nil {
		return err
	}
	m.segments.Reset()
	return nil
}

// AppendSegment buffers one chunk of initial content. Chunks are concatenated
// in arrival order and applied by FinishSync.
func (m *Mirror) AppendSegment(content string) error {
	if _, err := m.machine.Advance(session.SyncSegment); err != nil {
		return err
	}
	if m.State() == session.Closed {
		return nil
	}
	m.segments.WriteString(content)
	return nil
}

// FinishSync applies the buffered content, goes live and replays every local
// op that was queued during the sync window, in submission order.
func (m *Mirror) FinishSync() error {
	if _, err := m.machine.Advance(session.SyncEnd); err != nil {
		return err
	}
	if m.State() == session.Closed {
		return nil
	}

	content := m.segments.String()
	m.segments.Reset()
	m.Sync(content)

	pending := m.queued.DequeueAll()
	for _, q := range pending {
		m.apply(q.op)
		m.fanOut(q.origin, q.op, true)
	}

	m.log.Info("mirror live",
		"size", humanize.Bytes(uint64(len(content))),
		"replayed", len(pending),
		"endpoints", len(m.endpoints),
	)
	return nil
}

// Sync replaces the visible content of every local endpoint with content,
// by deleting everything the endpoint holds and inserting content.
func (m *Mirror) Sync(content string) {
	m.text = []rune(content)
	for _, att := range slices.Clone(m.endpoints) {
		if att.ep.Kind() == Local {
			m.replace(att)
		}
	}
}

func (m *Mirror) replace(att *attachment) {
	if att.length > 0 {
		if !m.send(att, DeleteOp(0, att.length)) {
			return
		}
	}
	if len(m.text) > 0 {
		m.send(att, InsertOp(0, string(m.text)))
	}
}

// OnRemoteInsert handles an insert reported by the collaboration server.
func (m *Mirror) OnRemoteInsert(offset int, text, user string) error {
	return m.onRemote(InsertOp(offset, text), user)
}

// OnRemoteDelete handles a delete reported by the collaboration server.
func (m *Mirror) OnRemoteDelete(offset, length int, user string) error {
	return m.onRemote(DeleteOp(offset, length), user)
}

func (m *Mirror) onRemote(op Op, user string) error {
	switch m.State() {
	case session.Closed:
		return nil
	case session.Live:
	default:
		return fmt.Errorf("remote %s in state %s: %w", op.Type, m.State(), session.ErrIllegalTransition)
	}

	if m.consumeEcho(op, user) {
		m.log.Debug("mirror echo suppressed", "op", op)
		return nil
	}

	m.apply(op)
	for _, att := range slices.Clone(m.endpoints) {
		if att.ep.Kind() == Local {
			m.send(att, op)
		}
	}
	return nil
}

// OnLocalInsert handles an insert made in the local editor buffer id.
func (m *Mirror) OnLocalInsert(offset int, text, id string) error {
	return m.onLocal(InsertOp(offset, text), id)
}

// OnLocalDelete handles a delete made in the local editor buffer id.
func (m *Mirror) OnLocalDelete(offset, length int, id string) error {
	return m.onLocal(DeleteOp(offset, length), id)
}

func (m *Mirror) onLocal(op Op, id string) error {
	if m.State() == session.Closed {
		return nil
	}

	origin := m.find(id)
	if origin == nil {
		return fmt.Errorf("%s: %w", id, ErrUnknownEndpoint)
	}
	origin.applied(op)

	if m.State() != session.Live {
		m.queued.Push(queuedOp{origin: id, op: op})
		m.log.Debug("mirror queued local op", "op", op, "state", m.State(), "queued", m.queued.Len())
		return nil
	}

	m.apply(op)
	m.fanOut(id, op, false)
	return nil
}

// fanOut forwards a local-origin op to the remote endpoint and to the other
// local endpoints. With toOrigin set the origin receives it as well.
func (m *Mirror) fanOut(origin string, op Op, toOrigin bool) {
	for _, att := range slices.Clone(m.endpoints) {
		switch {
		case att.ep.Kind() == Remote:
			out := op
			out.User = m.user
			out.Time = ""
			if m.send(att, out) {
				m.recordEcho(origin, op)
			}
		case att.ep.ID() != origin || toOrigin:
			m.send(att, op)
		}
	}
}

func (m *Mirror) send(att *attachment, op Op) bool {
	op.Seq = att.next()
	if err := att.ep.Send(op); err != nil {
		m.log.Warn("mirror forward failed, detaching endpoint",
			"endpoint", att.ep.ID(),
			"op", op,
			"error", fmt.Errorf("%w: %w", ErrEndpointUnavailable, err),
		)
		m.Detach(att.ep.ID())
		return false
	}
	att.applied(op)
	return true
}

func (m *Mirror) recordEcho(origin string, op Op) {
	if len(m.echoes) >= maxPendingEchoes {
		m.echoes = m.echoes[1:]
	}
	m.echoes = append(m.echoes, echo{origin: origin, signature: op.signature()})
}

func (m *Mirror) consumeEcho(op Op, user string) bool {
	if user != "" && user != m.user {
		return false
	}
	sig := op.signature()
	idx := slices.IndexFunc(m.echoes, func(e echo) bool { return e.signature == sig })
	if idx < 0 {
		return false
	}
	m.echoes = slices.Delete(m.echoes, idx, idx+1)
	return true
}

// apply edits the mirror's copy, clamping out-of-range positions.
func (m *Mirror) apply(op Op) {
	offset := min(max(op.Offset, 0), len(m.text))
	switch op.Type {
	case Insert:
		m.text = slices.Insert(m.text, offset, []rune(op.Text)...)
	case Delete:
		end := min(offset+max(op.Length, 0), len(m.text))
		m.text = slices.Delete(m.text, offset, end)
	}
}

// Close forces the mirror into the terminal state and drops every endpoint.
func (m *Mirror) Close() {
	m.machine.Close()
	m.endpoints = nil
	m.echoes = nil
	m.queued.Clear()
	m.segments.Reset()
}

func (m *Mirror) find(id string) *attachment {
	for _, att := range m.endpoints {
		if att.ep.ID() == id {
			return att
		}
	}
	return nil
}

// Info is a read-only view of a mirror.
type Info struct {
	Path          string         `json:"path"`
	State         string         `json:"state"`
	Length        int            `json:"length"`
	Queued        int            `json:"queued"`
	PendingEchoes int            `json:"pendingEchoes"`
	Endpoints     []EndpointInfo `json:"endpoints"`
}

func (m *Mirror) Info() Info {
	info := Info{
		Path:          m.path,
		State:         m.State().String(),
		Length:        len(m.text),
		Queued:        m.queued.Len(),
		PendingEchoes: len(m.echoes),
		Endpoints:     make([]EndpointInfo, 0, len(m.endpoints)),
	}
	for _, att := range m.endpoints {
		info.Endpoints = append(info.Endpoints, EndpointInfo{
			ID:     att.ep.ID(),
			Kind:   att.ep.Kind().String(),
			Seq:    att.seq,
			Length: att.length,
		})
	}
	return info
}
