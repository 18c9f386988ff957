package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sungwon/mailer/internal/mail"
)

const recordColumns = `id, type, from_address, sender, recipients, cc, bcc, subject,
	text_body, html_body, response, sent_at, options, fields, created_at, updated_at`

// Postgres stores records in a PostgreSQL table through a pgx pool.
type Postgres struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgres creates a Postgres store over the given table. The table name
// is quoted as an identifier.
func NewPostgres(pool *pgxpool.Pool, table string) *Postgres {
	if table == "" {
		table = DefaultTable
	}
	return &Postgres{pool: pool, table: pgx.Identifier{table}.Sanitize()}
}

// Ping verifies database connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Create(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	cols, err := encodeColumns(rec)
	if err != nil {
		return nil, &mail.StoreError{Op: "create", Err: err}
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		p.table, recordColumns)

	_, err = p.pool.Exec(ctx, query,
		rec.ID, rec.Type, rec.From, rec.Sender, cols.to, cols.cc, cols.bcc, rec.Subject,
		rec.Text, rec.HTML, cols.response, rec.SentAt, cols.options, cols.fields,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, &mail.StoreError{Op: "create", Err: err}
	}
	return rec, nil
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*mail.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, p.table)

	rec, err := scanRecord(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mail.ErrNotFound
		}
		return nil, &mail.StoreError{Op: "find by id", Err: err}
	}
	return rec, nil
}

func (p *Postgres) Find(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	where, args, err := buildWhere(criteria)
	if err != nil {
		return nil, &mail.StoreError{Op: "find", Err: err}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at ASC, id ASC`, recordColumns, p.table, where)
	if criteria.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", criteria.Limit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &mail.StoreError{Op: "find", Err: err}
	}
	defer rows.Close()

	var out []*mail.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &mail.StoreError{Op: "find", Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &mail.StoreError{Op: "find", Err: err}
	}
	return out, nil
}

func (p *Postgres) Save(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	rec.UpdatedAt = time.Now().UTC()

	cols, err := encodeColumns(rec)
	if err != nil {
		return nil, &mail.StoreError{Op: "save", Err: err}
	}

	query := fmt.Sprintf(`UPDATE %s SET
		type = $2, from_address = $3, sender = $4, recipients = $5, cc = $6, bcc = $7,
		subject = $8, text_body = $9, html_body = $10, response = $11, sent_at = $12,
		options = $13, fields = $14, updated_at = $15
		WHERE id = $1`, p.table)

	tag, err := p.pool.Exec(ctx, query,
		rec.ID, rec.Type, rec.From, rec.Sender, cols.to, cols.cc, cols.bcc,
		rec.Subject, rec.Text, rec.HTML, cols.response, rec.SentAt,
		cols.options, cols.fields, rec.UpdatedAt,
	)
	if err != nil {
		return nil, &mail.StoreError{Op: "save", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return nil, &mail.StoreError{Op: "save", Err: mail.ErrNotFound}
	}
	return rec, nil
}

// buildWhere renders criteria as a WHERE clause with positional arguments.
func buildWhere(c mail.Criteria) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(c.IDs) > 0 {
		add("id = ANY($%d)", c.IDs)
	}
	if c.Type != "" {
		add("type = $%d", c.Type)
	}
	if c.Sender != "" {
		add("sender = $%d", c.Sender)
	}
	if c.Recipient != "" {
		contains, err := json.Marshal([]string{c.Recipient})
		if err != nil {
			return "", nil, fmt.Errorf("encode recipient filter: %w", err)
		}
		add("recipients @> $%d::jsonb", string(contains))
	}
	if !c.CreatedAfter.IsZero() {
		add("created_at > $%d", c.CreatedAfter)
	}
	if !c.CreatedBefore.IsZero() {
		add("created_at < $%d", c.CreatedBefore)
	}
	if c.Sent != nil {
		if *c.Sent {
			conds = append(conds, "sent_at IS NOT NULL")
		} else {
			conds = append(conds, "sent_at IS NULL")
		}
	}

	if len(conds) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

type encodedColumns struct {
	to, cc, bcc     []byte
	response        []byte
	options, fields []byte
}

func encodeColumns(rec *mail.Record) (encodedColumns, error) {
	var (
		cols encodedColumns
		err  error
	)
	if cols.to, err = json.Marshal(nonNil(rec.To)); err != nil {
		return cols, fmt.Errorf("encode recipients: %w", err)
	}
	if cols.cc, err = json.Marshal(nonNil(rec.Cc)); err != nil {
		return cols, fmt.Errorf("encode cc: %w", err)
	}
	if cols.bcc, err = json.Marshal(nonNil(rec.Bcc)); err != nil {
		return cols, fmt.Errorf("encode bcc: %w", err)
	}
	if rec.Response != nil {
		if cols.response, err = json.Marshal(rec.Response); err != nil {
			return cols, fmt.Errorf("encode response: %w", err)
		}
	}
	if cols.options, err = json.Marshal(rec.Options); err != nil {
		return cols, fmt.Errorf("encode options: %w", err)
	}
	if rec.Fields != nil {
		if cols.fields, err = json.Marshal(rec.Fields); err != nil {
			return cols, fmt.Errorf("encode fields: %w", err)
		}
	}
	return cols, nil
}

func scanRecord(row pgx.Row) (*mail.Record, error) {
	var (
		rec                   mail.Record
		to, cc, bcc, response []byte
		options, fields       []byte
	)

	err := row.Scan(
		&rec.ID, &rec.Type, &rec.From, &rec.Sender, &to, &cc, &bcc, &rec.Subject,
		&rec.Text, &rec.HTML, &response, &rec.SentAt, &options, &fields,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := decodeJSON(to, &rec.To); err != nil {
		return nil, fmt.Errorf("decode recipients: %w", err)
	}
	if err := decodeJSON(cc, &rec.Cc); err != nil {
		return nil, fmt.Errorf("decode cc: %w", err)
	}
	if err := decodeJSON(bcc, &rec.Bcc); err != nil {
		return nil, fmt.Errorf("decode bcc: %w", err)
	}
	if err := decodeJSON(response, &rec.Response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := decodeJSON(options, &rec.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := decodeJSON(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}

	if len(rec.Cc) == 0 {
		rec.Cc = nil
	}
	if len(rec.Bcc) == 0 {
		rec.Bcc = nil
	}
	return &rec, nil
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
