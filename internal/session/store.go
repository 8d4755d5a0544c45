package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("session: report not found")

type reportModel struct {
	ID             uint           `gorm:"column:id;primaryKey"`
	SessionID      string         `gorm:"column:session_id;uniqueIndex"`
	StartedAt      time.Time      `gorm:"column:started_at"`
	EndedAt        time.Time      `gorm:"column:ended_at;index"`
	Reason         string         `gorm:"column:reason"`
	Error          string         `gorm:"column:error"`
	Transitions    int64          `gorm:"column:transitions"`
	Events         int64          `gorm:"column:events"`
	EventErrors    int64          `gorm:"column:event_errors"`
	Dropped        int64          `gorm:"column:dropped"`
	RequestsSent   int64          `gorm:"column:requests_sent"`
	RequestsFailed int64          `gorm:"column:requests_failed"`
	Positions      datatypes.JSON `gorm:"column:positions"`
	Balances       datatypes.JSON `gorm:"column:balances"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (reportModel) TableName() string { return "session_reports" }

// Store persists session reports in SQLite through gorm.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("session store: path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}
	if err := db.AutoMigrate(&reportModel{}); err != nil {
		return nil, fmt.Errorf("session store: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Save upserts r keyed by session id.
func (s *Store) Save(ctx context.Context, r Report) error {
	if r.SessionID == "" {
		return fmt.Errorf("session store: report without session id")
	}
	positions, err := json.Marshal(r.Positions)
	if err != nil {
		return err
	}
	balances, err := json.Marshal(r.Balances)
	if err != nil {
		return err
	}
	m := reportModel{
		SessionID:      r.SessionID,
		StartedAt:      r.StartedAt,
		EndedAt:        r.EndedAt,
		Reason:         r.Reason,
		Error:          r.Err,
		Transitions:    r.Stats.Transitions,
		Events:         r.Stats.Events,
		EventErrors:    r.Stats.EventErrors,
		Dropped:        r.Stats.Dropped,
		RequestsSent:   r.Stats.RequestsSent,
		RequestsFailed: r.Stats.RequestsFailed,
		Positions:      datatypes.JSON(positions),
		Balances:       datatypes.JSON(balances),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

func (s *Store) Get(ctx context.Context, sessionID string) (Report, error) {
	var m reportModel
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&m).Error
	return toReport(m, err)
}

// Latest returns the most recently ended session.
func (s *Store) Latest(ctx context.Context) (Report, error) {
	var m reportModel
	err := s.db.WithContext(ctx).Order("ended_at DESC").Order("id DESC").First(&m).Error
	return toReport(m, err)
}

// List returns up to limit reports, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []reportModel
	if err := s.db.WithContext(ctx).Order("ended_at DESC").Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Report, 0, len(models))
	for _, m := range models {
		r, err := toReport(m, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toReport(m reportModel, err error) (Report, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Report{}, ErrNotFound
	}
	if err != nil {
		return Report{}, err
	}
	r := Report{
		SessionID: m.SessionID,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Reason:    m.Reason,
		Err:       m.Error,
		Balances:  map[string]string{},
	}
	r.Stats.StartedAt = m.StartedAt
	r.Stats.Transitions = m.Transitions
	r.Stats.Events = m.Events
	r.Stats.EventErrors = m.EventErrors
	r.Stats.Dropped = m.Dropped
	r.Stats.RequestsSent = m.RequestsSent
	r.Stats.RequestsFailed = m.RequestsFailed
	r.Stats.Phase = "terminate"
	if len(m.Positions) > 0 {
		if err := json.Unmarshal(m.Positions, &r.Positions); err != nil {
			return Report{}, fmt.Errorf("session store: decode positions: %w", err)
		}
	}
	if len(m.Balances) > 0 {
		if err := json.Unmarshal(m.Balances, &r.Balances); err != nil {
			return Report{}, fmt.Errorf("session store: decode balances: %w", err)
		}
	}
	return r, nil
}
