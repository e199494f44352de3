// Package sqlstore implements docstore.Store on SQLite through gorm.
//
// Documents live in the cache_documents table keyed by identifier. The
// driver is glebarez/sqlite, a pure Go build, so no CGO is needed.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Sternrassler/doc-cache/pkg/docstore"
	"github.com/Sternrassler/doc-cache/pkg/pagination"
)

// Record is the row layout of a stored document.
type Record struct {
	ID        string `gorm:"primaryKey;size:2048"`
	Rev       string `gorm:"size:64;not null"`
	Body      []byte `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName implements gorm's tabler interface.
func (Record) TableName() string {
	return "cache_documents"
}

// Store is a docstore.Store backed by a SQL database.
type Store struct {
	db       *gorm.DB
	pageSize int
	owned    bool
}

// Option configures a Store.
type Option func(*Store)

// WithPageSize sets the number of rows read per listing page.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// Open opens (and creates if needed) a SQLite database at dsn and migrates it.
// Use ":memory:" for a private in-memory database.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}

	// Every connection to ":memory:" is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db, opts...)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// New wraps an existing gorm handle and migrates the documents table.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm handle is required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate cache_documents: %w", err)
	}
	s := &Store{db: db, pageSize: pagination.DefaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database if the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Put implements docstore.Store.
func (s *Store) Put(ctx context.Context, id string, body []byte, hint docstore.RevisionHint) (string, error) {
	rec := Record{ID: id, Rev: uuid.NewString(), Body: body, UpdatedAt: time.Now().UTC()}
	db := s.db.WithContext(ctx)

	var result *gorm.DB
	switch {
	case hint.Unconditional():
		result = db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rev", "body", "updated_at"}),
		}).Create(&rec)
	case hint.RequiresAbsent():
		result = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	default:
		result = db.Model(&Record{}).
			Where("id = ? AND rev = ?", id, hint.Rev).
			Updates(map[string]any{"rev": rec.Rev, "body": body, "updated_at": rec.UpdatedAt})
	}

	if result.Error != nil {
		return "", unavailable("put", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return "", docstore.ErrConflict
	}
	return rec.Rev, nil
}

// Fetch implements docstore.Store.
func (s *Store) Fetch(ctx context.Context, id string) (docstore.Document, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return docstore.Document{}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Document{}, unavailable("fetch", id, err)
	}
	return docstore.Document{ID: rec.ID, Rev: rec.Rev, Body: rec.Body}, nil
}

// Delete implements docstore.Store.
func (s *Store) Delete(ctx context.Context, id string, hint docstore.RevisionHint) error {
	db := s.db.WithContext(ctx)

	if hint.RequiresAbsent() {
		var n int64
		if err := db.Model(&Record{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return unavailable("delete", id, err)
		}
		if n > 0 {
			return docstore.ErrConflict
		}
		return nil
	}

	query := db.Where("id = ?", id)
	if !hint.Unconditional() {
		query = query.Where("rev = ?", hint.Rev)
	}
	result := query.Delete(&Record{})
	if result.Error != nil {
		return unavailable("delete", id, result.Error)
	}
	if result.RowsAffected == 0 && !hint.Unconditional() {
		return docstore.ErrConflict
	}
	return nil
}

// ListByPrefix implements docstore.Store with keyset pagination on the
// primary key. Each page is read completely before it is yielded.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) iter.Seq2[docstore.Document, error] {
	return pagination.Walk(ctx, func(ctx context.Context, cursor string) (pagination.Page[docstore.Document], error) {
		var page pagination.Page[docstore.Document]

		query := s.db.WithContext(ctx).Order("id").Limit(s.pageSize)
		if cursor == "" {
			query = query.Where("id >= ?", prefix)
		} else {
			query = query.Where("id > ?", cursor)
		}

		var recs []Record
		if err := query.Find(&recs).Error; err != nil {
			return page, unavailable("list", prefix, err)
		}

		for _, rec := range recs {
			// Rows are ordered, so the first miss ends the prefix range
			if !strings.HasPrefix(rec.ID, prefix) {
				return page, nil
			}
			page.Items = append(page.Items, docstore.Document{ID: rec.ID, Rev: rec.Rev, Body: rec.Body})
		}
		if len(recs) == s.pageSize {
			page.Next = recs[len(recs)-1].ID
		}
		return page, nil
	})
}

// Ping implements docstore.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", "", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", "", err)
	}
	return nil
}

func unavailable(op, id string, err error) error {
	return fmt.Errorf("%w: sqlite %s %q: %w", docstore.ErrUnavailable, op, id, err)
}

var (
	_ docstore.Store  = (*Store)(nil)
	_ docstore.Pinger = (*Store)(nil)
)
