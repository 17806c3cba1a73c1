package mirror

// Endpoint is one leg of a mirror: a local editor buffer or a remote session.
// Send must not block on network I/O; a transport that cannot accept the op
// returns an error and the mirror detaches it.
type Endpoint interface {
	ID() string
	Kind() Kind
	Send(op Op) error
}

// Sized is implemented by endpoints that already hold content when they are
// attached, so that the first wholesale sync clears it.
type Sized interface {
	Len() int
}

type attachment struct {
	ep     Endpoint
	seq    uint64
	length int
}

func (a *attachment) next() uint64 {
	a.seq++
	return a.seq
}

func (a *attachment) applied(op Op) {
	a.length = max(a.length+op.Size(), 0)
}

// EndpointInfo is a read-only view of one attachment.
type EndpointInfo struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Seq    uint64 `json:"seq"`
	Length int    `json:"length"`
}
