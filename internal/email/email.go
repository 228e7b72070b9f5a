// Package email provides common email address helpers.
package email

import (
	"net/mail"
	"regexp"
	"strings"
)

var mailboxShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsValidMailbox performs the basic local@domain.tld shape check required
// before a mailbox may receive an activation.
func IsValidMailbox(addr string) bool {
	return mailboxShape.MatchString(strings.TrimSpace(addr))
}

// ExtractDomain extracts the domain part from an email address.
// Returns empty string if the email is invalid.
func ExtractDomain(email string) string {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		at := strings.LastIndex(email, "@")
		if at <= 0 || at == len(email)-1 {
			return ""
		}
		return strings.ToLower(email[at+1:])
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || at == len(addr.Address)-1 {
		return ""
	}
	return strings.ToLower(addr.Address[at+1:])
}
