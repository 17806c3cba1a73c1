package netbeans

// text mirrors the content of one Vim buffer. Vim addresses it in bytes of
// its own encoding, the coordinator in characters. widths[i] is the byte
// size of runes[i] as Vim stores it.
type text struct {
	runes  []rune
	widths []int
	cs     charset
}

func newText(cs charset, s string) *text {
	runes, widths := cs.split(s)
	return &text{runes: runes, widths: widths, cs: cs}
}

func (t *text) len() int { return len(t.runes) }

// charOffset converts a byte offset to a character offset. Offsets inside a
// multi-byte character round down; offsets past the end clamp to len.
func (t *text) charOffset(b int) int {
	if b <= 0 {
		return 0
	}
	n := 0
	for i, w := range t.widths {
		n += w
		if n > b {
			return i
		}
	}
	return len(t.runes)
}

// byteOffset converts a character offset to a byte offset.
func (t *text) byteOffset(c int) int {
	return t.byteSpan(0, c)
}

// byteSpan returns the number of bytes covered by length characters at c.
func (t *text) byteSpan(c, length int) int {
	c = min(max(c, 0), len(t.runes))
	end := min(c+max(length, 0), len(t.runes))
	n := 0
	for _, w := range t.widths[c:end] {
		n += w
	}
	return n
}

// insert places s at character offset c.
func (t *text) insert(c int, s string) {
	c = min(max(c, 0), len(t.runes))
	runes, widths := t.cs.split(s)
	t.runes = splice(t.runes, c, c, runes)
	t.widths = splice(t.widths, c, c, widths)
}

// remove drops length characters at c and returns how many were removed.
func (t *text) remove(c, length int) int {
	c = min(max(c, 0), len(t.runes))
	end := min(c+max(length, 0), len(t.runes))
	t.runes = splice(t.runes, c, end, nil)
	t.widths = splice(t.widths, c, end, nil)
	return end - c
}

func (t *text) String() string { return string(t.runes) }

func splice[T any](s []T, from, to int, ins []T) []T {
	out := make([]T, 0, len(s)-(to-from)+len(ins))
	out = append(out, s[:from]...)
	out = append(out, ins...)
	return append(out, s[to:]...)
}
