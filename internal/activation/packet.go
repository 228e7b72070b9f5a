package activation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const packetSubjectWidth = 80

// Packet renders env as the plain-text clipboard packet. The output depends
// only on env and now.
func Packet(env *Envelope, now time.Time) string {
	var b strings.Builder

	active := env.ActiveTemplate
	fmt.Fprintln(&b, "Auto-reply activation packet")
	fmt.Fprintf(&b, "Generated: %s\n", now.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Envelope generated: %s\n", env.GeneratedAt)
	fmt.Fprintf(&b, "Target mailbox: %s\n", env.TargetMailbox)
	fmt.Fprintf(&b, "Mode: %s\n", env.Mode)
	fmt.Fprintf(&b, "Active template: %s / %s\n", active.TemplateID, active.Locale)
	fmt.Fprintf(&b, "Subject: %s\n", active.Subject)
	fmt.Fprintln(&b)
	fmt.Fprintln(&b, active.BodyText)

	if env.Mode == ModeAll {
		fmt.Fprintln(&b)
		fmt.Fprintf(&b, "Templates (%d):\n", len(env.Templates))
		for i, p := range env.Templates {
			fmt.Fprintf(&b, "%d. %s / %s - %s\n", i+1, p.TemplateID, p.Locale, truncate(p.Subject, packetSubjectWidth))
		}
	}

	return b.String()
}

// PrettyJSON returns the indented JSON form of env
func PrettyJSON(env *Envelope) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	return string(runes[:width-3]) + "..."
}
