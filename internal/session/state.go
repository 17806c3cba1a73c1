package session

import (
	"errors"
	"fmt"
	"time"
)

var ErrIllegalTransition = errors.New("session: illegal transition")

type State uint8

const (
	Idle State = iota
	Exploring
	Syncing
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Exploring:
		return "exploring"
	case Syncing:
		return "syncing"
	case Live:
		return "live"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

type Event uint8

const (
	ExploreBegin Event = iota
	ExploreEnd
	Subscribe
	SyncBegin
	SyncSegment
	SyncEnd
	Detach
	Error
)

func (e Event) String() string {
	switch e {
	case ExploreBegin:
		return "explore-begin"
	case ExploreEnd:
		return "explore-end"
	case Subscribe:
		return "subscribe"
	case SyncBegin:
		return "sync-begin"
	case SyncSegment:
		return "sync-segment"
	case SyncEnd:
		return "sync-end"
	case Detach:
		return "detach"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

type transition struct {
	from  State
	event Event
}

// transitions lists every legal move. Detach and Error are handled separately
// since they are legal from every non-terminal state.
var transitions = map[transition]State{
	{Idle, ExploreBegin}:    Exploring,
	{Idle, Subscribe}:       Syncing,
	{Exploring, ExploreEnd}: Idle,
	{Exploring, Subscribe}:  Syncing,
	{Syncing, SyncBegin}:    Syncing,
	{Syncing, SyncSegment}:  Syncing,
	{Syncing, SyncEnd}:      Live,
}

// Machine gates which operations may flow for one document or exploration.
// It is not safe for concurrent use.
type Machine struct {
	state   State
	changed time.Time
}

func NewMachine() *Machine {
	return &Machine{
		state:   Idle,
		changed: time.Now(),
	}
}

func (m *Machine) State() State {
	return m.state
}

// Since reports when the machine last changed state.
func (m *Machine) Since() time.Time {
	return m.changed
}

// Advance consumes ev and returns the new state. Events delivered to a Closed
// machine are ignored.
func (m *Machine) Advance(ev Event) (State, error) {
	if m.state == Closed {
		return Closed, nil
	}

	next, ok := transitions[transition{m.state, ev}]
	if ev == Detach || ev == Error {
		next, ok = Closed, true
	}
	if !ok {
		return m.state, fmt.Errorf("%s in state %s: %w", ev, m.state, ErrIllegalTransition)
	}

	if next != m.state {
		m.changed = time.Now()
	}
	m.state = next
	return next, nil
}

// Close forces the machine into the terminal state.
func (m *Machine) Close() {
	if m.state != Closed {
		m.state = Closed
		m.changed = time.Now()
	}
}
