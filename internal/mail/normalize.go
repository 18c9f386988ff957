package mail

import "strings"

// Normalize fills derived fields in place: the default type, split recipient
// lists and the sender address parsed out of From. It is idempotent.
func (r *Record) Normalize() {
	if r.Type == "" {
		r.Type = DefaultType
	}

	r.To = SplitAddresses(r.To)
	r.Cc = SplitAddresses(r.Cc)
	r.Bcc = SplitAddresses(r.Bcc)

	if r.Sender == "" && r.From != "" {
		r.Sender = SenderFromAddress(r.From)
	}
}

// Validate normalizes the record and reports every missing required field.
func (r *Record) Validate() error {
	r.Normalize()

	var missing []string
	if strings.TrimSpace(r.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(r.Sender) == "" {
		missing = append(missing, "sender")
	}
	if len(r.To) == 0 {
		missing = append(missing, "to")
	}
	if strings.TrimSpace(r.Subject) == "" {
		missing = append(missing, "subject")
	}
	if strings.TrimSpace(r.HTML) == "" {
		missing = append(missing, "html")
	}

	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}
	return nil
}

// SplitAddresses flattens comma-joined entries into individual trimmed
// addresses and drops empty ones. A nil or empty input yields nil.
func SplitAddresses(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// SenderFromAddress derives the bare sender address from a From value such
// as "Acme <no-reply@acme.io>". Angle brackets are stripped and the value is
// split on spaces: with exactly two tokens the second is used, otherwise the
// first.
func SenderFromAddress(from string) string {
	cleaned := strings.NewReplacer("<", "", ">", "").Replace(from)
	tokens := strings.Split(cleaned, " ")
	if len(tokens) == 2 {
		return tokens[1]
	}
	return tokens[0]
}
