package template

// Locale identifies the language of a template version
type Locale string

// Supported locales
const (
	LocaleZhCN Locale = "zh-CN"
	LocaleEnUS Locale = "en-US"
)

// Locales lists supported locales in display and activation order
var Locales = []Locale{LocaleZhCN, LocaleEnUS}

// IsValid reports whether l is a supported locale
func (l Locale) IsValid() bool {
	for _, known := range Locales {
		if l == known {
			return true
		}
	}
	return false
}

// Label returns the human-readable name of the locale
func (l Locale) Label() string {
	switch l {
	case LocaleZhCN:
		return "中文"
	case LocaleEnUS:
		return "English"
	}
	return string(l)
}

// Scope selects which senders receive the auto-reply
type Scope string

const (
	ScopeAll      Scope = "all"
	ScopeInternal Scope = "internal"
	ScopeExternal Scope = "external"
)

// Direction marks whether a group answers inbound mail or is sent manually.
// Informational only.
type Direction string

const (
	DirectionInbox   Direction = "inbox"
	DirectionSendbox Direction = "sendbox"
)

// Version is the locale-specific content of a group
type Version struct {
	Locale          Locale `json:"locale"`
	Name            string `json:"name"`
	StartAt         string `json:"startAt"`
	EndAt           string `json:"endAt"`
	Scope           Scope  `json:"scope"`
	Subject         string `json:"subject"`
	Opening         string `json:"opening"`
	Body            string `json:"body"`
	FallbackContact string `json:"fallbackContact"`
	Signature       string `json:"signature"`
	UpdatedAt       string `json:"updatedAt"`
}

// Group is a template category holding one version per supported locale
type Group struct {
	GroupID      string             `json:"groupId"`
	Category     string             `json:"category"`
	Direction    Direction          `json:"direction"`
	RuleID       string             `json:"ruleId"`
	Priority     *int               `json:"priority"`
	MatchFields  string             `json:"matchFields"`
	Keywords     string             `json:"keywords"`
	Exclusions   string             `json:"exclusions"`
	Routing      string             `json:"routing"`
	SLA          string             `json:"sla"`
	Placeholders []string           `json:"placeholders"`
	Note         string             `json:"note"`
	Versions     map[Locale]Version `json:"versions"`
	UpdatedAt    string             `json:"updatedAt"`
}

// Version returns the version for locale
func (g *Group) Version(locale Locale) (Version, bool) {
	v, ok := g.Versions[locale]
	return v, ok
}

// RuleLabel describes the rule a group is bound to
func (g *Group) RuleLabel() string {
	if g.RuleID != "" {
		return g.RuleID
	}
	if g.Direction == DirectionSendbox {
		return "发件类模板（人工发送）"
	}
	return "未关联规则"
}

// Entry pairs a group with one of its versions
type Entry struct {
	Group   Group
	Version Version
}

// ExportFileVersion is the schema version written to export files
const ExportFileVersion = 2

// ExportFile is the on-disk starter/export format
type ExportFile struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updatedAt"`
	Groups    []Group `json:"groups"`
}

// Edit carries changes from an editing surface. Nil fields are left untouched.
type Edit struct {
	Category        *string `json:"category,omitempty"`
	Name            *string `json:"name,omitempty"`
	StartAt         *string `json:"startAt,omitempty"`
	EndAt           *string `json:"endAt,omitempty"`
	Scope           *Scope  `json:"scope,omitempty"`
	Subject         *string `json:"subject,omitempty"`
	Opening         *string `json:"opening,omitempty"`
	Body            *string `json:"body,omitempty"`
	FallbackContact *string `json:"fallbackContact,omitempty"`
	Signature       *string `json:"signature,omitempty"`
}

// Apply writes the edit into g's version for locale and stamps both with ts
func (e Edit) Apply(g *Group, locale Locale, ts string) {
	v := g.Versions[locale]
	if e.Category != nil {
		g.Category = *e.Category
	}
	if e.Name != nil {
		v.Name = *e.Name
	}
	if e.StartAt != nil {
		v.StartAt = *e.StartAt
	}
	if e.EndAt != nil {
		v.EndAt = *e.EndAt
	}
	if e.Scope != nil {
		v.Scope = *e.Scope
	}
	if e.Subject != nil {
		v.Subject = *e.Subject
	}
	if e.Opening != nil {
		v.Opening = *e.Opening
	}
	if e.Body != nil {
		v.Body = *e.Body
	}
	if e.FallbackContact != nil {
		v.FallbackContact = *e.FallbackContact
	}
	if e.Signature != nil {
		v.Signature = *e.Signature
	}
	v.Locale = locale
	v.UpdatedAt = ts
	g.UpdatedAt = ts
	g.Versions[locale] = v
}
