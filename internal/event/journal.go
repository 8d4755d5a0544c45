package event

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradeloop/internal/logger"

	_ "modernc.org/sqlite"
)

// EventStore records every event the engine consumed, in consumption order,
// so that a session can be audited or replayed.
type EventStore interface {
	Append(ev Event) error

	LoadAll() ([]Event, error)

	Close() error
}

// JournalFeed decorates a Feed and appends each yielded item to a store.
// Journal failures are logged; they never block or drop the item.
type JournalFeed struct {
	inner Feed
	store EventStore
}

func NewJournalFeed(inner Feed, store EventStore) *JournalFeed {
	return &JournalFeed{inner: inner, store: store}
}

func (j *JournalFeed) Next(ctx context.Context) (Event, bool) {
	ev, ok := j.inner.Next(ctx)
	if !ok {
		return nil, false
	}
	if j.store != nil {
		if err := j.store.Append(ev); err != nil {
			logger.Errorf("Failed to journal %s event: %v", ev.Kind(), err)
		}
	}
	return ev, true
}

// FileEventStore appends wire-format lines to a file; the file doubles as a
// ReplayFeed input.
type FileEventStore struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func NewFileEventStore(path string) (*FileEventStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store file: %w", err)
	}
	return &FileEventStore{path: path, file: f}, nil
}

func (s *FileEventStore) Append(ev Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("failed to write event to file: %w", err)
	}
	return nil
}

func (s *FileEventStore) LoadAll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, 0); err != nil {
		return nil, fmt.Errorf("failed to seek to start: %w", err)
	}
	var events []Event
	scanner := bufio.NewScanner(s.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			return nil, fmt.Errorf("failed to decode line %d: %w", lineNum, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	if _, err := s.file.Seek(0, 2); err != nil {
		return nil, fmt.Errorf("failed to seek to end: %w", err)
	}
	return events, nil
}

func (s *FileEventStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

const journalSchema = `CREATE TABLE IF NOT EXISTS event_journal (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id    TEXT,
	type        TEXT NOT NULL,
	payload     BLOB NOT NULL,
	recorded_at INTEGER NOT NULL
)`

// SQLiteEventStore keeps the journal in a SQLite table (pure-Go driver).
type SQLiteEventStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteEventStore(path string) (*SQLiteEventStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite journal: path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: open: %w", err)
	}
	// one connection keeps :memory: databases coherent and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite journal: migrate: %w", err)
	}
	return &SQLiteEventStore{db: db, now: time.Now}, nil
}

func (s *SQLiteEventStore) Append(ev Event) error {
	typ, err := TypeOf(ev)
	if err != nil {
		return err
	}
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO event_journal (event_id, type, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		IDOf(ev), typ, payload, s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite journal: append %s: %w", typ, err)
	}
	return nil
}

func (s *SQLiteEventStore) LoadAll() ([]Event, error) {
	rows, err := s.db.Query(`SELECT seq, payload FROM event_journal ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite journal: load: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			seq     int64
			payload []byte
		)
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}
		ev, err := Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("sqlite journal: row %d: %w", seq, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Count returns the number of journalled events.
func (s *SQLiteEventStore) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM event_journal`).Scan(&n)
	return n, err
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}
