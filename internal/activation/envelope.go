// Package activation turns template versions into activation envelopes and
// moves them through the URL transport used by the webmail activator.
package activation

import (
	"errors"
	"strings"
	"time"

	"github.com/foxzi/autoreply/internal/email"
	"github.com/foxzi/autoreply/internal/template"
)

const (
	// SchemaVersion is the envelope version produced by Builder
	SchemaVersion = 2
	// LegacySchemaVersion is assigned to decoded bare payloads
	LegacySchemaVersion = 1
	// DefaultSource tags envelopes produced by this tool
	DefaultSource = "katvr-autoreply-studio"
)

var (
	// ErrInvalidMailbox is returned when the target mailbox is not address-shaped
	ErrInvalidMailbox = errors.New("target mailbox is not a valid address")
	// ErrNoEntries is returned when there is nothing to activate
	ErrNoEntries = errors.New("no templates to activate")
)

// Mode selects which templates travel with an activation
type Mode string

const (
	ModeCurrent Mode = "current"
	ModeAll     Mode = "all"
)

// ParseMode maps anything other than "all" to ModeCurrent
func ParseMode(s string) Mode {
	if strings.TrimSpace(strings.ToLower(s)) == string(ModeAll) {
		return ModeAll
	}
	return ModeCurrent
}

// Payload is the flattened, transport-ready form of one version
type Payload struct {
	TemplateID  string          `json:"templateId"`
	Locale      template.Locale `json:"locale"`
	Category    string          `json:"category"`
	Scope       template.Scope  `json:"scope"`
	Subject     string          `json:"subject"`
	BodyText    string          `json:"bodyText"`
	BodyHTML    string          `json:"bodyHtml"`
	StartAt     *string         `json:"startAt"`
	EndAt       *string         `json:"endAt"`
	GeneratedAt string          `json:"generatedAt"`
}

// Envelope is the unit handed to the activator
type Envelope struct {
	Version                int       `json:"version"`
	Source                 string    `json:"source"`
	Mode                   Mode      `json:"mode"`
	TargetMailbox          string    `json:"targetMailbox"`
	RequireSMSVerification bool      `json:"requireSmsVerification"`
	GeneratedAt            string    `json:"generatedAt"`
	ActiveTemplate         Payload   `json:"activeTemplate"`
	Templates              []Payload `json:"templates"`
}

// Request describes one envelope to build
type Request struct {
	Entries       []template.Entry
	Active        template.Entry
	TargetMailbox string
	Mode          Mode
}

// Builder assembles envelopes
type Builder struct {
	source string
	now    func() time.Time
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithSource overrides the producer tag
func WithSource(source string) BuilderOption {
	return func(b *Builder) {
		if source != "" {
			b.source = source
		}
	}
}

// WithBuilderClock sets the clock used for generatedAt stamps
func WithBuilderClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a Builder
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		source: DefaultSource,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates an envelope. Entries are expected to have passed validation.
func (b *Builder) Build(req Request) (*Envelope, error) {
	mailbox := strings.TrimSpace(req.TargetMailbox)
	if !email.IsValidMailbox(mailbox) {
		return nil, ErrInvalidMailbox
	}
	if len(req.Entries) == 0 {
		return nil, ErrNoEntries
	}

	mode := ParseMode(string(req.Mode))
	active := b.payload(req.Active)

	templates := []Payload{active}
	if mode == ModeAll {
		templates = make([]Payload, 0, len(req.Entries))
		for _, entry := range req.Entries {
			templates = append(templates, b.payload(entry))
		}
	}

	return &Envelope{
		Version:                SchemaVersion,
		Source:                 b.source,
		Mode:                   mode,
		TargetMailbox:          mailbox,
		RequireSMSVerification: true,
		GeneratedAt:            b.timestamp(),
		ActiveTemplate:         active,
		Templates:              templates,
	}, nil
}

func (b *Builder) payload(entry template.Entry) Payload {
	v := entry.Version
	body := template.ComposeBody(v)

	scope := v.Scope
	if scope == "" {
		scope = template.ScopeExternal
	}

	return Payload{
		TemplateID:  entry.Group.GroupID,
		Locale:      v.Locale,
		Category:    entry.Group.Category,
		Scope:       scope,
		Subject:     v.Subject,
		BodyText:    body,
		BodyHTML:    template.ComposeHTML(v),
		StartAt:     optional(v.StartAt),
		EndAt:       optional(v.EndAt),
		GeneratedAt: b.timestamp(),
	}
}

func (b *Builder) timestamp() string {
	return b.now().UTC().Format(template.TimestampLayout)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CollectEntries returns the entries an activation carries: the active entry
// alone for ModeCurrent, every group and locale in list order for ModeAll.
func CollectEntries(groups []template.Group, active template.Entry, mode Mode) []template.Entry {
	if ParseMode(string(mode)) != ModeAll {
		return []template.Entry{active}
	}

	entries := make([]template.Entry, 0, len(groups)*len(template.Locales))
	for _, group := range groups {
		for _, locale := range template.Locales {
			if v, ok := group.Version(locale); ok {
				entries = append(entries, template.Entry{Group: group, Version: v})
			}
		}
	}
	return entries
}

// FindEntry locates the version for groupID and locale
func FindEntry(groups []template.Group, groupID string, locale template.Locale) (template.Entry, bool) {
	for _, group := range groups {
		if group.GroupID != groupID {
			continue
		}
		if v, ok := group.Version(locale); ok {
			return template.Entry{Group: group, Version: v}, true
		}
		return template.Entry{}, false
	}
	return template.Entry{}, false
}
