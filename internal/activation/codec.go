package activation

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/foxzi/autoreply/internal/coerce"
	"github.com/foxzi/autoreply/internal/template"
)

// QueryParam carries the encoded envelope in activation URLs
const QueryParam = "alimailActivate"

// ErrInvalidPayload is returned for payloads that cannot be decoded
var ErrInvalidPayload = errors.New("invalid activation payload")

// Encode serializes env as unpadded base64url JSON
func Encode(env *Envelope) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}

	data := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses an encoded envelope. Bare payload objects without an
// activeTemplate are lifted into a single-template envelope.
func Decode(encoded string) (*Envelope, error) {
	s := strings.TrimSpace(encoded)
	// Query parsing turns '+' into ' ' when standard base64 slips through
	s = strings.ReplaceAll(s, " ", "+")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: not UTF-8", ErrInvalidPayload)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	obj := coerce.Map(raw)
	if obj == nil {
		return nil, fmt.Errorf("%w: not an object", ErrInvalidPayload)
	}

	if active := coerce.Map(obj["activeTemplate"]); active != nil {
		return decodeEnvelope(obj, active), nil
	}
	if !isBareVersion(obj) {
		return nil, fmt.Errorf("%w: no active template", ErrInvalidPayload)
	}
	return liftLegacy(obj), nil
}

// isBareVersion reports whether obj is a single version rather than a
// damaged envelope: it carries no schema version and has content fields.
func isBareVersion(obj map[string]interface{}) bool {
	if _, ok := obj["version"]; ok {
		return false
	}
	for _, key := range []string{"subject", "bodyText", "body"} {
		if _, ok := obj[key]; ok {
			return true
		}
	}
	return false
}

func decodeEnvelope(obj, active map[string]interface{}) *Envelope {
	version, ok := coerce.Int(obj["version"])
	if !ok {
		version = SchemaVersion
	}
	requireSMS, _ := obj["requireSmsVerification"].(bool)

	env := &Envelope{
		Version:                version,
		Source:                 coerce.Field(obj, "source", ""),
		Mode:                   ParseMode(coerce.Field(obj, "mode", "")),
		TargetMailbox:          coerce.Field(obj, "targetMailbox", ""),
		RequireSMSVerification: requireSMS,
		GeneratedAt:            coerce.Field(obj, "generatedAt", ""),
		ActiveTemplate:         decodePayload(active),
	}

	for _, item := range coerce.Slice(obj["templates"]) {
		if m := coerce.Map(item); m != nil {
			env.Templates = append(env.Templates, decodePayload(m))
		}
	}
	if len(env.Templates) == 0 {
		env.Templates = []Payload{env.ActiveTemplate}
	}
	return env
}

func decodePayload(m map[string]interface{}) Payload {
	return Payload{
		TemplateID:  coerce.FirstField(m, "", "templateId", "groupId", "id"),
		Locale:      template.Locale(coerce.Field(m, "locale", "")),
		Category:    coerce.Field(m, "category", ""),
		Scope:       template.Scope(coerce.Field(m, "scope", string(template.ScopeExternal))),
		Subject:     coerce.Field(m, "subject", ""),
		BodyText:    coerce.Field(m, "bodyText", ""),
		BodyHTML:    coerce.Field(m, "bodyHtml", ""),
		StartAt:     optional(coerce.Field(m, "startAt", "")),
		EndAt:       optional(coerce.Field(m, "endAt", "")),
		GeneratedAt: coerce.Field(m, "generatedAt", ""),
	}
}

// liftLegacy treats a bare version-like object as the sole, active template.
// Missing composed bodies are rebuilt from the version fields.
func liftLegacy(obj map[string]interface{}) *Envelope {
	payload := decodePayload(obj)
	if payload.Locale == "" {
		payload.Locale = template.LocaleZhCN
	}

	if payload.BodyText == "" {
		payload.BodyText = template.ComposeBody(template.Version{
			Opening:         coerce.Field(obj, "opening", ""),
			Body:            coerce.Field(obj, "body", ""),
			StartAt:         coerce.Field(obj, "startAt", ""),
			EndAt:           coerce.Field(obj, "endAt", ""),
			FallbackContact: coerce.Field(obj, "fallbackContact", ""),
			Signature:       coerce.Field(obj, "signature", ""),
		})
	}
	if payload.BodyHTML == "" && payload.BodyText != "" {
		payload.BodyHTML = template.TextToHTML(payload.BodyText)
	}

	return &Envelope{
		Version:        LegacySchemaVersion,
		Source:         coerce.Field(obj, "source", ""),
		Mode:           ModeCurrent,
		TargetMailbox:  "",
		GeneratedAt:    payload.GeneratedAt,
		ActiveTemplate: payload,
		Templates:      []Payload{payload},
	}
}

// ActivationURL appends the encoded envelope to base. Other query
// parameters keep their order; a previous activation parameter is replaced.
func ActivationURL(base, encoded string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid activation url: %w", err)
	}

	rest, _ := splitQuery(u.RawQuery)
	rest = append(rest, QueryParam+"="+url.QueryEscape(encoded))
	u.RawQuery = strings.Join(rest, "&")
	return u.String(), nil
}

// ExtractFromURL finds the activation parameter anywhere in raw's query and
// returns it along with raw minus that parameter.
func ExtractFromURL(raw string) (value, stripped string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false
	}

	rest, value := splitQuery(u.RawQuery)
	if value == "" {
		return "", "", false
	}

	u.RawQuery = strings.Join(rest, "&")
	return value, u.String(), true
}

// splitQuery removes every activation parameter from rawQuery, returning the
// remaining pairs untouched and in order, plus the first activation value.
func splitQuery(rawQuery string) (rest []string, value string) {
	found := false
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		key, val, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err != nil || k != QueryParam {
			rest = append(rest, pair)
			continue
		}
		if !found {
			found = true
			value, _ = url.QueryUnescape(val)
		}
	}
	return rest, value
}

// DecodeAny accepts either an activation URL or a bare encoded payload
func DecodeAny(input string) (*Envelope, error) {
	if value, _, ok := ExtractFromURL(input); ok {
		return Decode(value)
	}
	return Decode(input)
}
