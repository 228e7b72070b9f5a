package template

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Limits enforced by the target webmail
const (
	MaxSubjectLength = 255
	MaxBodyLength    = 5000
)

// Validation messages
const (
	MsgSubjectRequired   = "subject required"
	MsgSubjectTruncated  = "subject may be truncated"
	MsgBodyRequired      = "body required"
	MsgBodyLong          = "body long, verify rendering"
	MsgWindowIncomplete  = "set both start and end"
	MsgWindowOrder       = "end must be after start"
	MsgPlaceholderInBody = "placeholders are not substituted by the target system"
)

var placeholderPattern = regexp.MustCompile(`\{\{[^}]+\}\}`)

// ValidationResult holds blocking errors and non-blocking warnings
type ValidationResult struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Blocked reports whether activation must be refused
func (r ValidationResult) Blocked() bool {
	return len(r.Errors) > 0
}

// Validate checks v against webmail constraints. Every rule is evaluated.
//
// The time window is compared lexicographically on the raw strings, which
// only orders correctly for a consistent zero-padded format such as ISO 8601.
func Validate(v Version) ValidationResult {
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}

	subject := strings.TrimSpace(v.Subject)
	body := ComposeBody(v)

	if subject == "" {
		result.Errors = append(result.Errors, MsgSubjectRequired)
	}
	if utf8.RuneCountInString(subject) > MaxSubjectLength {
		result.Warnings = append(result.Warnings, MsgSubjectTruncated)
	}
	if body == "" {
		result.Errors = append(result.Errors, MsgBodyRequired)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		result.Warnings = append(result.Warnings, MsgBodyLong)
	}
	if (v.StartAt == "") != (v.EndAt == "") {
		result.Warnings = append(result.Warnings, MsgWindowIncomplete)
	}
	if v.StartAt != "" && v.EndAt != "" && v.StartAt >= v.EndAt {
		result.Errors = append(result.Errors, MsgWindowOrder)
	}
	if placeholderPattern.MatchString(body) {
		result.Warnings = append(result.Warnings, MsgPlaceholderInBody)
	}

	return result
}

// ValidateEntries validates every entry and prefixes each message with
// "<groupId>/<locale>: ".
func ValidateEntries(entries []Entry) ValidationResult {
	result := ValidationResult{Errors: []string{}, Warnings: []string{}}
	for _, entry := range entries {
		check := Validate(entry.Version)
		prefix := entry.Group.GroupID + "/" + string(entry.Version.Locale) + ": "
		for _, msg := range check.Errors {
			result.Errors = append(result.Errors, prefix+msg)
		}
		for _, msg := range check.Warnings {
			result.Warnings = append(result.Warnings, prefix+msg)
		}
	}
	return result
}
