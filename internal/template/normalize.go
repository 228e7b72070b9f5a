package template

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/autoreply/internal/coerce"
)

// TimestampLayout is the millisecond ISO 8601 form used for updatedAt stamps
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

const (
	defaultCategory = "未命名类别"
	defaultContact  = "business@katvr.com"
)

type localeDefaults struct {
	name      string
	subject   string
	opening   string
	body      string
	signature string
	qualifier string
	marker    string
}

var defaultsByLocale = map[Locale]localeDefaults{
	LocaleZhCN: {
		name:      "中文模板",
		subject:   "自动回复：您的邮件已收到",
		opening:   "您好 {{Name}}，",
		body:      "感谢您的来信，我们已经收到并会尽快回复。",
		signature: "此致\nKAT VR 团队\nbusiness@katvr.com",
		qualifier: "（中文）",
		marker:    "中文",
	},
	LocaleEnUS: {
		name:      "English Template",
		subject:   "Auto Reply: We Have Received Your Email",
		opening:   "Hello {{Name}},",
		body:      "Thank you for your email. We have received your message and will respond soon.",
		signature: "Best regards,\nKAT VR Team\nbusiness@katvr.com",
		qualifier: " (English)",
		marker:    "English",
	},
}

// Normalizer turns loosely shaped template JSON into canonical groups
type Normalizer struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithIDGenerator overrides group id generation
func WithIDGenerator(fn func() string) Option {
	return func(n *Normalizer) {
		n.newID = fn
	}
}

// WithClock overrides the time source used for default timestamps
func WithClock(fn func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = fn
	}
}

// NewNormalizer creates a normalizer with uuid ids and the wall clock
func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNormalizer = NewNormalizer()

// Normalize normalizes raw with the default normalizer
func Normalize(raw interface{}) []Group {
	return defaultNormalizer.Normalize(raw)
}

// Timestamp returns the current time in TimestampLayout
func (n *Normalizer) Timestamp() string {
	return n.now().UTC().Format(TimestampLayout)
}

// NormalizeJSON decodes data and normalizes it. Undecodable input yields no groups.
func (n *Normalizer) NormalizeJSON(data []byte) []Group {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return []Group{}
	}
	return n.Normalize(raw)
}

// LoadFile reads a starter or export file. An empty path yields no groups.
func (n *Normalizer) LoadFile(path string) ([]Group, error) {
	if path == "" {
		return []Group{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	return n.NormalizeJSON(data), nil
}

// Normalize accepts a bare list of flat templates, {"groups": [...]} or
// {"templates": [...]}. Anything else yields an empty list.
func (n *Normalizer) Normalize(raw interface{}) []Group {
	if list, ok := raw.([]interface{}); ok {
		return n.normalizeLegacy(list)
	}

	payload := coerce.Map(raw)
	if payload == nil {
		return []Group{}
	}

	if groups, ok := payload["groups"].([]interface{}); ok {
		result := make([]Group, 0, len(groups))
		for _, item := range groups {
			obj := coerce.Map(item)
			if obj == nil {
				continue
			}
			result = append(result, n.normalizeGroup(obj))
		}
		return result
	}

	if templates, ok := payload["templates"].([]interface{}); ok {
		return n.normalizeLegacy(templates)
	}

	return []Group{}
}

func (n *Normalizer) normalizeLegacy(list []interface{}) []Group {
	var order []string
	byID := make(map[string]*Group)

	for _, item := range list {
		obj := coerce.Map(item)
		if obj == nil {
			continue
		}

		groupID := coerce.FirstField(obj, "", "groupId", "templateId", "id")
		if groupID == "" {
			groupID = n.newID()
		}
		locale := Locale(coerce.Field(obj, "locale", string(LocaleZhCN)))

		group, ok := byID[groupID]
		if !ok {
			group = n.groupHeader(obj, groupID)
			byID[groupID] = group
			order = append(order, groupID)
		}
		if locale.IsValid() {
			group.Versions[locale] = n.normalizeVersion(obj, locale)
		}
	}

	result := make([]Group, 0, len(order))
	for _, id := range order {
		group := byID[id]
		n.fillLocales(group)
		result = append(result, *group)
	}
	return result
}

// NormalizeGroup normalizes a single group object
func (n *Normalizer) NormalizeGroup(raw interface{}) (Group, bool) {
	obj := coerce.Map(raw)
	if obj == nil {
		return Group{}, false
	}
	return n.normalizeGroup(obj), true
}

func (n *Normalizer) normalizeGroup(obj map[string]interface{}) Group {
	groupID := coerce.FirstField(obj, "", "groupId", "templateId", "id")
	if groupID == "" {
		groupID = n.newID()
	}
	group := n.groupHeader(obj, groupID)

	if versions := coerce.Map(obj["versions"]); versions != nil {
		for _, locale := range Locales {
			if v := coerce.Map(versions[string(locale)]); v != nil {
				group.Versions[locale] = n.normalizeVersion(v, locale)
			}
		}
	}

	// A group object may itself be a single flat version
	locale := Locale(coerce.Field(obj, "locale", ""))
	if locale.IsValid() && coerce.Field(obj, "subject", "") != "" {
		if _, ok := group.Versions[locale]; !ok {
			group.Versions[locale] = n.normalizeVersion(obj, locale)
		}
	}

	n.fillLocales(group)
	return *group
}

func (n *Normalizer) groupHeader(obj map[string]interface{}, groupID string) *Group {
	group := &Group{
		GroupID:      groupID,
		Category:     coerce.FirstField(obj, defaultCategory, "category", "name"),
		Direction:    normalizeDirection(coerce.Field(obj, "direction", "")),
		RuleID:       coerce.Field(obj, "ruleId", ""),
		MatchFields:  coerce.Field(obj, "matchFields", ""),
		Keywords:     coerce.Field(obj, "keywords", ""),
		Exclusions:   coerce.Field(obj, "exclusions", ""),
		Routing:      coerce.Field(obj, "routing", ""),
		SLA:          coerce.Field(obj, "sla", ""),
		Placeholders: coerce.StringList(obj["placeholders"]),
		Note:         coerce.Field(obj, "note", ""),
		Versions:     make(map[Locale]Version, len(Locales)),
		UpdatedAt:    coerce.Field(obj, "updatedAt", ""),
	}
	if group.UpdatedAt == "" {
		group.UpdatedAt = n.Timestamp()
	}
	if p, ok := coerce.Int(obj["priority"]); ok {
		group.Priority = &p
	}
	return group
}

// fillLocales materializes every supported locale, cloning the first
// available version or synthesizing a default one.
func (n *Normalizer) fillLocales(group *Group) {
	var first *Version
	for _, locale := range Locales {
		if v, ok := group.Versions[locale]; ok {
			first = &v
			break
		}
	}

	for _, locale := range Locales {
		if _, ok := group.Versions[locale]; ok {
			continue
		}
		if first != nil {
			group.Versions[locale] = CloneForLocale(*first, locale)
		} else {
			group.Versions[locale] = n.DefaultVersion(locale, group.Category)
		}
	}
}

func (n *Normalizer) normalizeVersion(obj map[string]interface{}, locale Locale) Version {
	if !locale.IsValid() {
		locale = LocaleZhCN
	}
	v := Version{
		Locale:          locale,
		Name:            coerce.Field(obj, "name", defaultsByLocale[locale].name),
		StartAt:         coerce.Field(obj, "startAt", ""),
		EndAt:           coerce.Field(obj, "endAt", ""),
		Scope:           normalizeScope(coerce.Field(obj, "scope", "")),
		Subject:         coerce.Field(obj, "subject", ""),
		Opening:         coerce.Field(obj, "opening", ""),
		Body:            coerce.Field(obj, "body", ""),
		FallbackContact: coerce.Field(obj, "fallbackContact", ""),
		Signature:       coerce.Field(obj, "signature", ""),
		UpdatedAt:       coerce.Field(obj, "updatedAt", ""),
	}
	if v.UpdatedAt == "" {
		v.UpdatedAt = n.Timestamp()
	}
	return v
}

// CloneForLocale copies base and relabels it for locale. The localized
// qualifier is appended to the name only once.
func CloneForLocale(base Version, locale Locale) Version {
	cloned := base
	cloned.Locale = locale
	if d, ok := defaultsByLocale[locale]; ok && !strings.Contains(cloned.Name, d.marker) {
		cloned.Name += d.qualifier
	}
	return cloned
}

// DefaultVersion builds the starter content for locale, named after category
func (n *Normalizer) DefaultVersion(locale Locale, category string) Version {
	d := defaultsByLocale[locale]
	return Version{
		Locale:          locale,
		Name:            category + d.qualifier,
		Scope:           ScopeExternal,
		Subject:         d.subject,
		Opening:         d.opening,
		Body:            d.body,
		FallbackContact: defaultContact,
		Signature:       d.signature,
		UpdatedAt:       n.Timestamp(),
	}
}

// NewGroup creates a fresh group with default content for every locale
func (n *Normalizer) NewGroup() Group {
	now := n.now()
	y, m, d := now.Date()
	category := fmt.Sprintf("新类别 %d/%d/%d", y, int(m), d)

	group := Group{
		GroupID:      fmt.Sprintf("T_CUSTOM_%d", now.UnixMilli()),
		Category:     category,
		Direction:    DirectionInbox,
		Placeholders: []string{},
		Versions:     make(map[Locale]Version, len(Locales)),
		UpdatedAt:    n.Timestamp(),
	}
	for _, locale := range Locales {
		group.Versions[locale] = n.DefaultVersion(locale, category)
	}
	return group
}

func normalizeScope(s string) Scope {
	switch Scope(s) {
	case ScopeAll, ScopeInternal, ScopeExternal:
		return Scope(s)
	}
	return ScopeExternal
}

func normalizeDirection(s string) Direction {
	if Direction(s) == DirectionSendbox {
		return DirectionSendbox
	}
	return DirectionInbox
}
