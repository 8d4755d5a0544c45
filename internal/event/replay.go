package event

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"tradeloop/internal/logger"
)

// ReplayFeed yields events recorded in the wire format, one per line.
// Malformed lines are logged and skipped; EOF is the closed signal.
type ReplayFeed struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	skipped int
	done    bool
}

func NewReplayFeed(r io.Reader) *ReplayFeed {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	f := &ReplayFeed{scanner: sc}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	return f
}

// OpenReplay opens a JSONL recording, e.g. one written by FileEventStore.
func OpenReplay(path string) (*ReplayFeed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	return NewReplayFeed(file), nil
}

func (f *ReplayFeed) Next(ctx context.Context) (Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for !f.done {
		if ctx.Err() != nil {
			return nil, false
		}
		if !f.scanner.Scan() {
			if err := f.scanner.Err(); err != nil {
				logger.Warnf("ReplayFeed: read stopped at line %d: %v", f.line, err)
			}
			f.finish()
			break
		}
		f.line++
		raw := bytes.TrimSpace(f.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		ev, err := Decode(raw)
		if err != nil {
			f.skipped++
			logger.Warnf("ReplayFeed: skipping line %d: %v", f.line, err)
			continue
		}
		return ev, true
	}
	return nil, false
}

// Skipped is the number of malformed lines dropped so far.
func (f *ReplayFeed) Skipped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skipped
}

func (f *ReplayFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finish()
}

func (f *ReplayFeed) finish() error {
	f.done = true
	if f.closer == nil {
		return nil
	}
	c := f.closer
	f.closer = nil
	return c.Close()
}
