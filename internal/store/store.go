package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sungwon/mailer/internal/mail"
)

// DefaultTable is the table (or collection) name used when none is configured.
const DefaultTable = "mails"

// Store persists mail records. Implementations return mail.ErrNotFound from
// FindByID for unknown ids and wrap other failures in *mail.StoreError.
type Store interface {
	Create(ctx context.Context, rec *mail.Record) (*mail.Record, error)
	FindByID(ctx context.Context, id string) (*mail.Record, error)
	Find(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error)
	Save(ctx context.Context, rec *mail.Record) (*mail.Record, error)
}

// Pinger is implemented by stores that can report backend connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config mirrors config.DatabaseConfig to avoid a circular import.
type Config struct {
	Driver         string // postgres (default), sqlite, memory
	URL            string
	PoolMin        int32
	PoolMax        int32
	ConnectTimeout time.Duration
	Table          string
}

// New opens the store selected by cfg.Driver. The returned store validates
// records on every create and save. The close function releases backend
// resources and is never nil.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Store, func(), error) {
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}

	switch cfg.Driver {
	case "postgres", "":
		db, err := NewDB(ctx, cfg.URL, cfg.PoolMin, cfg.PoolMax, cfg.ConnectTimeout)
		if err != nil {
			return nil, func() {}, fmt.Errorf("connect to database: %w", err)
		}
		log.Info().Str("driver", "postgres").Str("table", table).Msg("store connected")
		return Validated(NewPostgres(db.Pool, table)), db.Close, nil

	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.URL), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, func() {}, fmt.Errorf("open sqlite database: %w", err)
		}
		if strings.Contains(cfg.URL, ":memory:") {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
		s := NewGorm(db, table)
		if err := s.Migrate(ctx); err != nil {
			return nil, func() {}, err
		}
		closeFn := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		log.Info().Str("driver", "sqlite").Str("table", table).Msg("store connected")
		return Validated(s), closeFn, nil

	case "memory":
		log.Warn().Msg("using in-memory store, records are lost on exit")
		return Validated(NewMemory()), func() {}, nil

	default:
		return nil, func() {}, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

// validated normalizes and validates records before they reach the backend.
type validated struct {
	Store
}

// Validated wraps s so that Create and Save reject invalid records with a
// *mail.ValidationError before touching the backend.
func Validated(s Store) Store {
	if v, ok := s.(*validated); ok {
		return v
	}
	return &validated{Store: s}
}

func (v *validated) Create(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return v.Store.Create(ctx, rec)
}

func (v *validated) Save(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return v.Store.Save(ctx, rec)
}

// Ping forwards to the wrapped store when it supports it.
func (v *validated) Ping(ctx context.Context) error {
	if p, ok := v.Store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
