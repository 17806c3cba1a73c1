package netbeans

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want message
	}{
		{"AUTH secret\n", message{kind: msgAuth, args: []string{"secret"}}},
		{"DETACH", message{kind: msgDetach}},
		{"0:version=0 \"2.5\"", message{kind: msgEvent, name: "version", args: []string{"2.5"}}},
		{"0:startupDone=0", message{kind: msgEvent, name: "startupDone"}},
		{"3:insert=12 4 \"a \\\"b\\\"\\n\"", message{kind: msgEvent, buf: 3, name: "insert", seq: 12, args: []string{"4", "a \"b\"\n"}}},
		{"3:remove=13 4 2\r\n", message{kind: msgEvent, buf: 3, name: "remove", seq: 13, args: []string{"4", "2"}}},
		{"0:fileOpened=0 \"/tmp/x y.txt\" T F", message{kind: msgEvent, name: "fileOpened", args: []string{"/tmp/x y.txt", "T", "F"}}},
		{"7 !error", message{kind: msgReply, seq: 7, args: []string{"!error"}}},
		{"8", message{kind: msgReply, seq: 8}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := parseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineMalformed(t *testing.T) {
	for _, line := range []string{
		"hello",
		"x:insert=1",
		"1:insert=x",
		"1:=3",
		"1:insert",
		"1:insert=2 \"open",
		"1:insert=2 \"dangling\\",
	} {
		_, err := parseLine(line)
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestQuote(t *testing.T) {
	s := "tab\there \"quoted\" back\\slash\r\nend"
	q := quote(s)
	assert.Equal(t, `"tab\there \"quoted\" back\\slash\r\nend"`, q)

	args, err := tokenize(q)
	require.NoError(t, err)
	assert.Equal(t, []string{s}, args)
}

func TestMessageArgs(t *testing.T) {
	msg, err := parseLine(`1:insert=2 5 "x"`)
	require.NoError(t, err)

	n, err := msg.intArg(0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = msg.intArg(1)
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = msg.stringArg(2)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "2:insert/9 0 \"a\"", format(2, "insert", '/', 9, []string{"0", quote("a")}))
	assert.Equal(t, "2:create!1", format(2, "create", '!', 1, nil))
}
