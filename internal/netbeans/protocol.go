package netbeans

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("netbeans: malformed message")

type msgKind uint8

const (
	msgEvent msgKind = iota // bufID:name=seqno args
	msgReply                // seqno args
	msgAuth                 // AUTH password
	msgDetach               // DETACH
)

// message is one decoded line sent by Vim.
type message struct {
	kind msgKind
	buf  int
	name string
	seq  int
	args []string
}

func parseLine(line string) (message, error) {
	line = strings.TrimRight(line, "\r\n")

	switch {
	case strings.HasPrefix(line, "AUTH "):
		return message{kind: msgAuth, args: []string{strings.TrimPrefix(line, "AUTH ")}}, nil
	case line == "DETACH":
		return message{kind: msgDetach}, nil
	}

	head, rest, _ := strings.Cut(line, " ")
	colon := strings.IndexByte(head, ':')
	if colon < 0 {
		seq, err := strconv.Atoi(head)
		if err != nil {
			return message{}, fmt.Errorf("%q: %w", line, ErrMalformed)
		}
		args, err := tokenize(rest)
		return message{kind: msgReply, seq: seq, args: args}, err
	}

	buf, err := strconv.Atoi(head[:colon])
	if err != nil {
		return message{}, fmt.Errorf("%q: bad buffer number: %w", line, ErrMalformed)
	}
	name, seqStr, ok := strings.Cut(head[colon+1:], "=")
	if !ok || name == "" {
		return message{}, fmt.Errorf("%q: %w", line, ErrMalformed)
	}
	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return message{}, fmt.Errorf("%q: bad sequence number: %w", line, ErrMalformed)
	}

	args, err := tokenize(rest)
	if err != nil {
		return message{}, fmt.Errorf("%q: %w", line, err)
	}
	return message{kind: msgEvent, buf: buf, name: name, seq: seq, args: args}, nil
}

// tokenize splits event arguments. Quoted strings are unescaped; everything
// else is split on spaces.
func tokenize(s string) ([]string, error) {
	var args []string
	for i := 0; i < len(s); {
		switch s[i] {
		case ' ':
			i++
		case '"':
			var sb strings.Builder
			j := i + 1
			for ; j < len(s) && s[j] != '"'; j++ {
				if s[j] != '\\' {
					sb.WriteByte(s[j])
					continue
				}
				j++
				if j == len(s) {
					return nil, fmt.Errorf("dangling escape: %w", ErrMalformed)
				}
				switch s[j] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case 'r':
					sb.WriteByte('\r')
				default:
					sb.WriteByte(s[j])
				}
			}
			if j == len(s) {
				return nil, fmt.Errorf("unterminated string: %w", ErrMalformed)
			}
			args = append(args, sb.String())
			i = j + 1
		default:
			j := strings.IndexByte(s[i:], ' ')
			if j < 0 {
				j = len(s) - i
			}
			args = append(args, s[i:i+j])
			i += j
		}
	}
	return args, nil
}

var quoter = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
	"\r", `\r`,
)

func quote(s string) string {
	return `"` + quoter.Replace(s) + `"`
}

func (m message) intArg(i int) (int, error) {
	if i >= len(m.args) {
		return 0, fmt.Errorf("%s: missing argument %d: %w", m.name, i, ErrMalformed)
	}
	n, err := strconv.Atoi(m.args[i])
	if err != nil {
		return 0, fmt.Errorf("%s: argument %d: %w", m.name, i, ErrMalformed)
	}
	return n, nil
}

func (m message) stringArg(i int) (string, error) {
	if i >= len(m.args) {
		return "", fmt.Errorf("%s: missing argument %d: %w", m.name, i, ErrMalformed)
	}
	return m.args[i], nil
}
