package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sungwon/mailer/internal/mail"
)

// Memory is a process-local Store used in development and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*mail.Record
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*mail.Record),
		now:     time.Now,
	}
}

func (m *Memory) Create(_ context.Context, rec *mail.Record) (*mail.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if _, exists := m.records[rec.ID]; exists {
		return nil, &mail.StoreError{Op: "create", Err: errDuplicateID(rec.ID)}
	}

	now := m.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	m.records[rec.ID] = rec.Clone()
	return rec, nil
}

func (m *Memory) FindByID(_ context.Context, id string) (*mail.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, mail.ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) Find(_ context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*mail.Record
	for _, rec := range m.records {
		if criteria.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, rec *mail.Record) (*mail.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; !ok {
		return nil, &mail.StoreError{Op: "save", Err: mail.ErrNotFound}
	}

	rec.UpdatedAt = m.now().UTC()
	m.records[rec.ID] = rec.Clone()
	return rec, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

type errDuplicateID string

func (e errDuplicateID) Error() string {
	return "duplicate id " + string(e)
}
