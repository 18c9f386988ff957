package mail

import (
	"slices"
	"time"
)

// Criteria filters store queries. Zero-valued fields do not constrain the
// result.
type Criteria struct {
	IDs           []string  `json:"ids,omitempty"`
	Type          string    `json:"type,omitempty"`
	Sender        string    `json:"sender,omitempty"`
	Recipient     string    `json:"recipient,omitempty"`
	CreatedAfter  time.Time `json:"createdAfter,omitempty"`
	CreatedBefore time.Time `json:"createdBefore,omitempty"`
	Limit         int       `json:"limit,omitempty"`

	// Sent restricts results to records with (true) or without (false) a
	// sentAt timestamp.
	Sent *bool `json:"sent,omitempty"`
}

// WithSent returns a copy of c whose sentAt filter is forced to sent.
func (c Criteria) WithSent(sent bool) Criteria {
	c.Sent = &sent
	return c
}

// Matches reports whether rec satisfies every set constraint. Limit is not
// considered.
func (c Criteria) Matches(rec *Record) bool {
	if len(c.IDs) > 0 && !slices.Contains(c.IDs, rec.ID) {
		return false
	}
	if c.Type != "" && rec.Type != c.Type {
		return false
	}
	if c.Sender != "" && rec.Sender != c.Sender {
		return false
	}
	if c.Recipient != "" && !slices.Contains(rec.To, c.Recipient) {
		return false
	}
	if !c.CreatedAfter.IsZero() && !rec.CreatedAt.After(c.CreatedAfter) {
		return false
	}
	if !c.CreatedBefore.IsZero() && !rec.CreatedAt.Before(c.CreatedBefore) {
		return false
	}
	if c.Sent != nil && (rec.SentAt != nil) != *c.Sent {
		return false
	}
	return true
}
