package mail

import (
	"strings"
	"time"
)

// DefaultType is the template type assigned to records created without one.
const DefaultType = "Normal"

// State is the derived delivery state of a Record.
type State string

const (
	// StatePending means no delivery has been attempted yet.
	StatePending State = "pending"
	// StateFailed means the last attempt did not succeed.
	StateFailed State = "failed"
	// StateSent means the mail was accepted by the transport.
	StateSent State = "sent"
)

// Options carries per-record delivery flags.
type Options struct {
	// Fake routes delivery through the simulator instead of the real transport.
	Fake bool `json:"fake,omitempty"`
}

// Response is the opaque result of the latest delivery attempt. Failed
// attempts carry Code, Message and Status derived from the transport error.
type Response struct {
	Code     string            `json:"code,omitempty"`
	Message  string            `json:"message,omitempty"`
	Status   int               `json:"status,omitempty"`
	ID       string            `json:"id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Succeeded reports whether the transport acknowledged the mail as sent.
func (r *Response) Succeeded() bool {
	return r != nil && strings.EqualFold(r.Message, "success")
}

// Record is a persisted outbound mail together with its delivery status.
type Record struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	From      string         `json:"from"`
	Sender    string         `json:"sender"`
	To        []string       `json:"to"`
	Cc        []string       `json:"cc,omitempty"`
	Bcc       []string       `json:"bcc,omitempty"`
	Subject   string         `json:"subject"`
	Text      string         `json:"text,omitempty"`
	HTML      string         `json:"html"`
	Response  *Response      `json:"response,omitempty"`
	SentAt    *time.Time     `json:"sentAt,omitempty"`
	Options   Options        `json:"options"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// State derives the record's delivery state from Response and SentAt.
func (r *Record) State() State {
	switch {
	case r.SentAt != nil:
		return StateSent
	case r.Response != nil:
		return StateFailed
	default:
		return StatePending
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.To = cloneStrings(r.To)
	c.Cc = cloneStrings(r.Cc)
	c.Bcc = cloneStrings(r.Bcc)
	if r.Response != nil {
		resp := *r.Response
		if r.Response.Metadata != nil {
			resp.Metadata = make(map[string]string, len(r.Response.Metadata))
			for k, v := range r.Response.Metadata {
				resp.Metadata[k] = v
			}
		}
		c.Response = &resp
	}
	if r.SentAt != nil {
		t := *r.SentAt
		c.SentAt = &t
	}
	if r.Fields != nil {
		c.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
