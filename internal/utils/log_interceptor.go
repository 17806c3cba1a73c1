// Package utils holds the small helpers shared by the bridge and its CLI.
package utils

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LogInterceptor prefixes every complete line written to it with a line
// number and a timestamp before passing it on. Partial lines are held until
// their newline arrives or Close is called.
type LogInterceptor struct {
	target io.Writer
	seq    atomic.Uint64

	mu      sync.Mutex
	pending bytes.Buffer
	now     func() time.Time
}

func NewLogInterceptor(target io.Writer) *LogInterceptor {
	return &LogInterceptor{target: target, now: time.Now}
}

func (i *LogInterceptor) writeLine(line []byte) error {
	prefix := slog.Uint64("line", i.seq.Add(1)).String() + " " +
		slog.String("time", i.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(i.target, prefix); err != nil {
		return err
	}
	_, err := i.target.Write(line)
	return err
}

// Write always reports len(p) on success since prefixes are not part of the
// caller's data.
func (i *LogInterceptor) Write(p []byte) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pending.Write(p)
	for {
		idx := bytes.IndexByte(i.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := i.pending.Next(idx + 1)
		if err := i.writeLine(line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (i *LogInterceptor) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.pending.Len() == 0 {
		return nil
	}
	line := append(i.pending.Bytes(), '\n')
	i.pending.Reset()
	return i.writeLine(line)
}
