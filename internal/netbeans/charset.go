package netbeans

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// charset converts between Vim's 'encoding' and Go strings, and measures
// characters in the byte units Vim reports offsets in.
type charset interface {
	decode(b []byte) (string, error)
	encode(s string) ([]byte, error)
	// split returns the characters of s and the bytes each one takes in Vim.
	split(s string) ([]rune, []int)
}

func newCharset(name string) (charset, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8":
		return utf8Charset{}, nil
	case "latin1", "iso88591":
		return latin1Charset{}, nil
	default:
		return nil, fmt.Errorf("netbeans: unsupported encoding %q", name)
	}
}

type utf8Charset struct{}

func (utf8Charset) decode(b []byte) (string, error) { return string(b), nil }
func (utf8Charset) encode(s string) ([]byte, error) { return []byte(s), nil }

// split keeps the source width of every character, so an invalid byte
// counts as one byte even though it decodes to utf8.RuneError.
func (utf8Charset) split(s string) ([]rune, []int) {
	runes := make([]rune, 0, len(s))
	widths := make([]int, 0, len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		runes = append(runes, r)
		widths = append(widths, size)
		s = s[size:]
	}
	return runes, widths
}

type latin1Charset struct{}

func (latin1Charset) decode(b []byte) (string, error) {
	return charmap.ISO8859_1.NewDecoder().String(string(b))
}

func (latin1Charset) encode(s string) ([]byte, error) {
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}

func (latin1Charset) split(s string) ([]rune, []int) {
	runes := []rune(s)
	widths := make([]int, len(runes))
	for i := range widths {
		widths[i] = 1
	}
	return runes, widths
}
