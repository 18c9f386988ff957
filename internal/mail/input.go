package mail

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Recipients is an address list that decodes from either a JSON array or a
// single comma-joined string.
type Recipients []string

// UnmarshalJSON accepts "a@x.io, b@x.io" as well as ["a@x.io", "b@x.io"].
func (r *Recipients) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}

	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*r = Recipients(SplitAddresses([]string{single}))
		return nil
	}

	var list []string
	if err := json.Unmarshal(b, &list); err != nil {
		return fmt.Errorf("recipients must be a string or an array of strings: %w", err)
	}
	*r = Recipients(list)
	return nil
}

// Input is a mail request as submitted by callers. Unknown JSON keys are
// collected into Data and made available to templates.
type Input struct {
	Type       string         `json:"type,omitempty"`
	From       string         `json:"from,omitempty"`
	Sender     string         `json:"sender,omitempty"`
	SenderName string         `json:"senderName,omitempty"`
	To         Recipients     `json:"to,omitempty"`
	Cc         Recipients     `json:"cc,omitempty"`
	Bcc        Recipients     `json:"bcc,omitempty"`
	Subject    string         `json:"subject,omitempty"`
	Text       string         `json:"text,omitempty"`
	HTML       string         `json:"html,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

var knownInputKeys = map[string]bool{
	"type": true, "from": true, "sender": true, "senderName": true,
	"to": true, "cc": true, "bcc": true, "subject": true,
	"text": true, "html": true, "data": true,
}

// UnmarshalJSON decodes the recognized fields and folds every other key into
// Data.
func (in *Input) UnmarshalJSON(b []byte) error {
	type plain Input
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for key, value := range raw {
		if knownInputKeys[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		if p.Data == nil {
			p.Data = make(map[string]any)
		}
		p.Data[key] = v
	}

	*in = Input(p)
	return nil
}

// Defaults are the configured values merged under every Input.
type Defaults struct {
	From       string
	SenderName string
}

// WithDefaults returns a copy of the input with empty fields filled from d.
// Values supplied by the caller always win.
func (in Input) WithDefaults(d Defaults) Input {
	if in.From == "" {
		in.From = d.From
	}
	if in.SenderName == "" {
		in.SenderName = d.SenderName
	}
	return in
}

// TemplateData flattens the input into the map handed to the renderer.
func (in Input) TemplateData() map[string]any {
	data := make(map[string]any, len(in.Data)+10)
	for k, v := range in.Data {
		data[k] = v
	}
	data["type"] = in.Type
	data["from"] = in.From
	data["sender"] = in.Sender
	data["senderName"] = in.SenderName
	data["to"] = []string(in.To)
	data["cc"] = []string(in.Cc)
	data["bcc"] = []string(in.Bcc)
	data["subject"] = in.Subject
	data["text"] = in.Text
	data["html"] = in.HTML
	return data
}

// Record builds an unsaved record from the input. Keys named in fields are
// copied from Data into Record.Fields.
func (in Input) Record(fields []string) *Record {
	rec := &Record{
		Type:    strings.TrimSpace(in.Type),
		From:    in.From,
		Sender:  in.Sender,
		To:      []string(in.To),
		Cc:      []string(in.Cc),
		Bcc:     []string(in.Bcc),
		Subject: in.Subject,
		Text:    in.Text,
		HTML:    in.HTML,
	}
	for _, name := range fields {
		if v, ok := in.Data[name]; ok {
			if rec.Fields == nil {
				rec.Fields = make(map[string]any, len(fields))
			}
			rec.Fields[name] = v
		}
	}
	return rec
}
