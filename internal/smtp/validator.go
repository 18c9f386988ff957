package smtp

import (
	"net/mail"
	"strings"
)

// ValidateEmailAddress validates an email address per RFC 5322.
func ValidateEmailAddress(email string) error {
	_, err := mail.ParseAddress(email)
	return err
}

// ExtractDomain extracts the domain part from an email address.
// Returns an empty string if the address does not contain an @ symbol.
func ExtractDomain(email string) string {
	parts := strings.SplitN(email, "@", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// domainAllowed checks whether domain is in allowed. An empty list allows
// every domain.
func domainAllowed(allowed []string, domain string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, d := range allowed {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			return true
		}
	}
	return false
}

// parseAddress accepts both "Name <a@b>" and bare "a@b" forms.
func parseAddress(s string) (string, bool) {
	if addr, err := mail.ParseAddress(s); err == nil {
		return addr.Address, true
	}
	if addr, err := mail.ParseAddress("<" + s + ">"); err == nil {
		return addr.Address, true
	}
	return "", false
}
