package identity

import (
	"fmt"
	"strconv"
)

// NodeID is the numeric identifier the collaboration server assigns to a node.
type NodeID uint32

// BufferID is the handle the local editor uses for an open buffer.
type BufferID int

const (
	// NoNode marks a path whose node id has not been assigned by the server yet.
	NoNode NodeID = ^NodeID(0)

	// RootNode is the id of the server's root directory. It is never bound in
	// the registry; the root's canonical path is "".
	RootNode NodeID = 0

	// NoBuffer marks a path that is not open in the editor. Editor handles start at 1.
	NoBuffer BufferID = 0
)

func (id NodeID) String() string {
	if id == NoNode {
		return "none"
	}
	return strconv.FormatUint(uint64(id), 10)
}

func (b BufferID) String() string {
	if b == NoBuffer {
		return "none"
	}
	return fmt.Sprintf("buf%d", int(b))
}
