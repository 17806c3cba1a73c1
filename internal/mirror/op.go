package mirror

import "fmt"

// Kind is the side of the bridge an endpoint lives on.
type Kind uint8

const (
	Local Kind = iota
	Remote
)

func (k Kind) String() string {
	if k == Remote {
		return "remote"
	}
	return "local"
}

type OpType uint8

const (
	Insert OpType = iota
	Delete
)

func (t OpType) String() string {
	if t == Delete {
		return "delete"
	}
	return "insert"
}

// Op is one edit handed to an endpoint. Offsets and lengths count characters,
// with a line terminator counting as one.
type Op struct {
	Type   OpType
	Offset int
	Text   string // Insert only
	Length int    // Delete only

	// Seq is the next value of the receiving attachment's outbound counter.
	Seq uint64

	// User and Time are the remote envelope. They are only set on ops bound
	// for a Remote endpoint; Time is left empty for the server to stamp.
	User string
	Time string
}

func InsertOp(offset int, text string) Op {
	return Op{Type: Insert, Offset: offset, Text: text}
}

func DeleteOp(offset, length int) Op {
	return Op{Type: Delete, Offset: offset, Length: length}
}

// Size is the number of characters the op adds (positive) or removes (negative).
func (op Op) Size() int {
	if op.Type == Delete {
		return -op.Length
	}
	return len([]rune(op.Text))
}

func (op Op) signature() string {
	if op.Type == Delete {
		return fmt.Sprintf("del:%d:%d", op.Offset, op.Length)
	}
	return fmt.Sprintf("ins:%d:%s", op.Offset, op.Text)
}

func (op Op) String() string {
	if op.Type == Delete {
		return fmt.Sprintf("delete(%d,%d)#%d", op.Offset, op.Length, op.Seq)
	}
	return fmt.Sprintf("insert(%d,%q)#%d", op.Offset, op.Text, op.Seq)
}
