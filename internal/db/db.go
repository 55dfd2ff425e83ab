// Package db is the SQLite-backed request document. Several processes may
// open the same file; each announces its writes on the events bus so the
// others can observe them.
package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/events"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// DefaultPath returns ~/.rishvan-input/app.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".rishvan-input", "app.db"), nil
}

// Open opens the SQLite file at path, creating its directory, and migrates
// the schema. ":memory:" is accepted.
func Open(path string) (*gorm.DB, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" a single database and serialises
	// writers within the process.
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(&Request{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, nil
}

// Store implements document.Store on a gorm database.
type Store struct {
	document.Hub

	db     *gorm.DB
	bus    events.Bus
	source string
	sub    events.Subscription
	logger *logger.Logger
}

// NewStore wires db to bus. source tags the events this process publishes.
func NewStore(gdb *gorm.DB, bus events.Bus, source string, log *logger.Logger) (*Store, error) {
	s := &Store{
		db:     gdb,
		bus:    bus,
		source: source,
		logger: log.WithFields(zap.String("component", "sqlite-store")),
	}
	sub, err := bus.Subscribe(events.SubjectAll, s.onEvent)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *Store) onEvent(ctx context.Context, e *events.Event) error {
	kind := document.ChangeTransitioned
	if e.Type == events.TypeInserted {
		kind = document.ChangeInserted
	}
	r, err := s.Get(ctx, e.RequestID)
	if err != nil {
		return fmt.Errorf("reload %s: %w", e.RequestID, err)
	}
	s.Notify(document.Change{Kind: kind, Request: r, At: e.Timestamp})
	return nil
}

func (s *Store) publish(ctx context.Context, eventType, id string) {
	if err := s.bus.Publish(ctx, events.Subject(id), events.NewEvent(eventType, s.source, id)); err != nil {
		s.logger.Warn("failed to publish change", zap.String("request_id", id), zap.Error(err))
	}
}

func (s *Store) Get(ctx context.Context, id string) (*request.InputRequest, error) {
	var row Request
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toInputRequest()
}

func (s *Store) Insert(ctx context.Context, r *request.InputRequest) error {
	row, err := toRow(r)
	if err != nil {
		return err
	}
	// one statement, so two processes racing on an id cannot both insert
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return document.ErrExists
	}
	s.publish(ctx, events.TypeInserted, r.ID)
	return nil
}

func (s *Store) CompareAndTransition(ctx context.Context, id string, from lifecycle.Status, t document.Transition) (*request.InputRequest, error) {
	result := s.db.WithContext(ctx).Model(&Request{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{
			"status":      string(t.To),
			"response":    t.Response,
			"answered_at": t.AnsweredAt,
			"answered_by": t.AnsweredBy,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return current, document.ErrConflict
	}
	s.publish(ctx, events.TypeTransitioned, id)
	return s.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, status lifecycle.Status) ([]*request.InputRequest, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id ASC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []Request
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*request.InputRequest, 0, len(rows))
	for i := range rows {
		r, err := rows[i].toInputRequest()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Close unsubscribes from the bus and closes the database.
func (s *Store) Close() error {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
