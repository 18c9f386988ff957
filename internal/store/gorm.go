package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sungwon/mailer/internal/mail"
)

// mailModel is the gorm row layout. List and object columns are stored as
// JSON text so the same model works on sqlite and postgres.
type mailModel struct {
	ID         string         `gorm:"primaryKey;type:varchar(36)"`
	Type       string         `gorm:"not null;default:Normal;index"`
	From       string         `gorm:"column:from_address;not null"`
	Sender     string         `gorm:"not null;index"`
	Recipients []string       `gorm:"serializer:json;not null"`
	Cc         []string       `gorm:"serializer:json"`
	Bcc        []string       `gorm:"serializer:json"`
	Subject    string         `gorm:"not null"`
	TextBody   string         `gorm:"column:text_body"`
	HTMLBody   string         `gorm:"column:html_body;not null"`
	Response   *mail.Response `gorm:"serializer:json"`
	SentAt     *time.Time     `gorm:"index"`
	Options    mail.Options   `gorm:"serializer:json"`
	Fields     map[string]any `gorm:"serializer:json"`
	CreatedAt  time.Time      `gorm:"index"`
	UpdatedAt  time.Time
}

func (m *mailModel) toRecord() *mail.Record {
	rec := &mail.Record{
		ID:        m.ID,
		Type:      m.Type,
		From:      m.From,
		Sender:    m.Sender,
		To:        m.Recipients,
		Cc:        m.Cc,
		Bcc:       m.Bcc,
		Subject:   m.Subject,
		Text:      m.TextBody,
		HTML:      m.HTMLBody,
		Response:  m.Response,
		SentAt:    m.SentAt,
		Options:   m.Options,
		Fields:    m.Fields,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if len(rec.Cc) == 0 {
		rec.Cc = nil
	}
	if len(rec.Bcc) == 0 {
		rec.Bcc = nil
	}
	return rec
}

func fromRecord(rec *mail.Record) *mailModel {
	return &mailModel{
		ID:         rec.ID,
		Type:       rec.Type,
		From:       rec.From,
		Sender:     rec.Sender,
		Recipients: rec.To,
		Cc:         rec.Cc,
		Bcc:        rec.Bcc,
		Subject:    rec.Subject,
		TextBody:   rec.Text,
		HTMLBody:   rec.HTML,
		Response:   rec.Response,
		SentAt:     rec.SentAt,
		Options:    rec.Options,
		Fields:     rec.Fields,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
}

// Gorm stores records through gorm. It is used with the pure-Go sqlite
// driver for single-node deployments and tests.
type Gorm struct {
	db    *gorm.DB
	table string
}

// NewGorm creates a Gorm store over the given table.
func NewGorm(db *gorm.DB, table string) *Gorm {
	if table == "" {
		table = DefaultTable
	}
	return &Gorm{db: db, table: table}
}

// Migrate creates or updates the table schema.
func (g *Gorm) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).Table(g.table).AutoMigrate(&mailModel{}); err != nil {
		return fmt.Errorf("migrate %s: %w", g.table, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *Gorm) query(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx).Table(g.table)
}

func (g *Gorm) Create(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	if err := g.query(ctx).Create(fromRecord(rec)).Error; err != nil {
		return nil, &mail.StoreError{Op: "create", Err: err}
	}
	return rec, nil
}

func (g *Gorm) FindByID(ctx context.Context, id string) (*mail.Record, error) {
	var m mailModel
	err := g.query(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mail.ErrNotFound
		}
		return nil, &mail.StoreError{Op: "find by id", Err: err}
	}
	return m.toRecord(), nil
}

func (g *Gorm) Find(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	q := g.query(ctx)

	if len(criteria.IDs) > 0 {
		q = q.Where("id IN ?", criteria.IDs)
	}
	if criteria.Type != "" {
		q = q.Where("type = ?", criteria.Type)
	}
	if criteria.Sender != "" {
		q = q.Where("sender = ?", criteria.Sender)
	}
	if criteria.Recipient != "" {
		q = q.Where(`recipients LIKE ? ESCAPE '\'`, `%"`+likeEscaper.Replace(criteria.Recipient)+`"%`)
	}
	if !criteria.CreatedAfter.IsZero() {
		q = q.Where("created_at > ?", criteria.CreatedAfter)
	}
	if !criteria.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", criteria.CreatedBefore)
	}
	if criteria.Sent != nil {
		if *criteria.Sent {
			q = q.Where("sent_at IS NOT NULL")
		} else {
			q = q.Where("sent_at IS NULL")
		}
	}
	if criteria.Limit > 0 {
		q = q.Limit(criteria.Limit)
	}

	var models []mailModel
	if err := q.Order("created_at ASC, id ASC").Find(&models).Error; err != nil {
		return nil, &mail.StoreError{Op: "find", Err: err}
	}

	out := make([]*mail.Record, 0, len(models))
	for i := range models {
		out = append(out, models[i].toRecord())
	}
	return out, nil
}

func (g *Gorm) Save(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	rec.UpdatedAt = time.Now().UTC()

	res := g.query(ctx).Where("id = ?", rec.ID).Select("*").Updates(fromRecord(rec))
	if res.Error != nil {
		return nil, &mail.StoreError{Op: "save", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return nil, &mail.StoreError{Op: "save", Err: mail.ErrNotFound}
	}
	return rec, nil
}

// likeEscaper escapes LIKE wildcards so a recipient matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
