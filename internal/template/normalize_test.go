package template

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

var fixedTime = time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	counter := 0
	return NewNormalizer(
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string {
			counter++
			return fmt.Sprintf("gen-%d", counter)
		}),
	)
}

func decode(t *testing.T, s string) interface{} {
	t.Helper()
	var raw interface{}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		t.Fatalf("invalid test JSON: %v", err)
	}
	return raw
}

func TestNormalize_LegacyTemplates(t *testing.T) {
	n := newTestNormalizer()
	groups := n.Normalize(decode(t, `{"templates":[{"id":"a","locale":"zh-CN","subject":"S","body":"B"}]}`))

	if len(groups) != 1 {
		t.Fatalf("Normalize() len = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.GroupID != "a" {
		t.Errorf("GroupID = %q, want a", g.GroupID)
	}
	zh := g.Versions[LocaleZhCN]
	if zh.Subject != "S" || zh.Body != "B" {
		t.Errorf("zh-CN = %+v, want subject S body B", zh)
	}
	en, ok := g.Versions[LocaleEnUS]
	if !ok {
		t.Fatal("en-US version not synthesized")
	}
	if en.Subject != "S" {
		t.Errorf("en-US subject = %q, want cloned S", en.Subject)
	}
	if en.Locale != LocaleEnUS {
		t.Errorf("en-US locale = %q", en.Locale)
	}
	if !strings.HasSuffix(en.Name, " (English)") {
		t.Errorf("en-US name = %q, want English qualifier", en.Name)
	}
}

func TestNormalize_LegacyArrayGroupsByID(t *testing.T) {
	n := newTestNormalizer()
	raw := decode(t, `[
		{"templateId":"T1","locale":"zh-CN","category":"Orders","priority":2,"placeholders":"Name, Order","subject":"订单"},
		{"templateId":"T1","locale":"en-US","category":"ignored","subject":"Order"},
		{"templateId":"T2","subject":"Second"},
		{"locale":"fr-FR","subject":"dropped"},
		"garbage"
	]`)
	groups := n.Normalize(raw)

	if len(groups) != 3 {
		t.Fatalf("Normalize() len = %d, want 3", len(groups))
	}

	first := groups[0]
	if first.GroupID != "T1" || first.Category != "Orders" {
		t.Errorf("first group = %s/%s, want T1/Orders", first.GroupID, first.Category)
	}
	if first.Priority == nil || *first.Priority != 2 {
		t.Errorf("Priority = %v, want 2", first.Priority)
	}
	if !reflect.DeepEqual(first.Placeholders, []string{"Name", "Order"}) {
		t.Errorf("Placeholders = %v", first.Placeholders)
	}
	if first.Versions[LocaleEnUS].Subject != "Order" {
		t.Errorf("en-US subject = %q, want Order", first.Versions[LocaleEnUS].Subject)
	}

	second := groups[1]
	if second.GroupID != "T2" || second.Versions[LocaleZhCN].Subject != "Second" {
		t.Errorf("second group = %+v", second)
	}

	third := groups[2]
	if third.GroupID != "gen-1" {
		t.Errorf("generated id = %q, want gen-1", third.GroupID)
	}
	if third.Versions[LocaleZhCN].Subject != "自动回复：您的邮件已收到" {
		t.Errorf("unsupported-locale group should get default content, got %q", third.Versions[LocaleZhCN].Subject)
	}
}

func TestNormalize_GroupedDefaults(t *testing.T) {
	n := newTestNormalizer()
	groups := n.Normalize(decode(t, `{"groups":[{"groupId":"G","versions":{"en-US":{"subject":"Hi"},"de-DE":{"subject":"x"}}}, 5, null]}`))

	if len(groups) != 1 {
		t.Fatalf("Normalize() len = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.Category != "未命名类别" {
		t.Errorf("Category = %q", g.Category)
	}
	if g.Direction != DirectionInbox {
		t.Errorf("Direction = %q, want inbox", g.Direction)
	}
	if g.Priority != nil {
		t.Errorf("Priority = %v, want nil", *g.Priority)
	}
	if g.Placeholders == nil {
		t.Error("Placeholders should be an empty list, not nil")
	}
	if len(g.Versions) != 2 {
		t.Errorf("Versions len = %d, want 2", len(g.Versions))
	}

	en := g.Versions[LocaleEnUS]
	if en.Name != "English Template" || en.Scope != ScopeExternal {
		t.Errorf("en-US defaults = %+v", en)
	}
	if en.UpdatedAt != "2024-03-05T08:30:00.000Z" {
		t.Errorf("UpdatedAt = %q", en.UpdatedAt)
	}

	zh := g.Versions[LocaleZhCN]
	if zh.Subject != "Hi" || zh.Name != "English Template（中文）" {
		t.Errorf("zh-CN clone = %+v", zh)
	}
}

func TestNormalize_SingleVersionGroup(t *testing.T) {
	n := newTestNormalizer()
	groups := n.Normalize(decode(t, `{"groups":[{"id":"S","locale":"en-US","subject":"Flat","body":"b","name":"Flat template"}]}`))

	if len(groups) != 1 {
		t.Fatalf("Normalize() len = %d", len(groups))
	}
	g := groups[0]
	if g.Category != "Flat template" {
		t.Errorf("Category = %q", g.Category)
	}
	if g.Versions[LocaleEnUS].Subject != "Flat" {
		t.Errorf("en-US not lifted: %+v", g.Versions[LocaleEnUS])
	}
	if g.Versions[LocaleZhCN].Name != "Flat template（中文）" {
		t.Errorf("zh-CN name = %q", g.Versions[LocaleZhCN].Name)
	}
}

func TestNormalize_NoVersionsSynthesizesDefaults(t *testing.T) {
	n := newTestNormalizer()
	groups := n.Normalize(map[string]interface{}{
		"groups": []interface{}{map[string]interface{}{"category": "Support"}},
	})

	g := groups[0]
	if g.Versions[LocaleZhCN].Name != "Support（中文）" {
		t.Errorf("zh-CN name = %q", g.Versions[LocaleZhCN].Name)
	}
	if g.Versions[LocaleEnUS].Name != "Support (English)" {
		t.Errorf("en-US name = %q", g.Versions[LocaleEnUS].Name)
	}
	if g.Versions[LocaleEnUS].FallbackContact == "" {
		t.Error("default version should carry a contact")
	}
}

func TestNormalize_UnrecognizedShapes(t *testing.T) {
	n := newTestNormalizer()
	inputs := []interface{}{
		nil,
		"string",
		float64(12),
		true,
		map[string]interface{}{},
		map[string]interface{}{"groups": "not a list"},
		map[string]interface{}{"templates": map[string]interface{}{}},
	}

	for _, input := range inputs {
		groups := n.Normalize(input)
		if groups == nil || len(groups) != 0 {
			t.Errorf("Normalize(%v) = %v, want empty", input, groups)
		}
	}

	if got := n.NormalizeJSON([]byte("{not json")); len(got) != 0 {
		t.Errorf("NormalizeJSON(invalid) = %v, want empty", got)
	}
}

func TestNormalize_WrongFieldTypes(t *testing.T) {
	n := newTestNormalizer()
	groups := n.Normalize(decode(t, `{"groups":[{"groupId":7,"category":{"x":1},"priority":"high","placeholders":[1,"",true],
		"versions":{"zh-CN":{"subject":["a"],"body":0,"scope":"nobody"}}}]}`))

	g := groups[0]
	if g.GroupID != "7" {
		t.Errorf("GroupID = %q, want 7", g.GroupID)
	}
	if g.Category != "未命名类别" {
		t.Errorf("Category = %q", g.Category)
	}
	if g.Priority != nil {
		t.Errorf("Priority = %v, want nil", *g.Priority)
	}
	if !reflect.DeepEqual(g.Placeholders, []string{"1", "true"}) {
		t.Errorf("Placeholders = %v", g.Placeholders)
	}
	zh := g.Versions[LocaleZhCN]
	if zh.Subject != "" || zh.Body != "" || zh.Scope != ScopeExternal {
		t.Errorf("zh-CN = %+v", zh)
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	input := `{"templates":[{"locale":"en-US","subject":"S"},{"id":"b","subject":"T"}]}`

	first := newTestNormalizer().NormalizeJSON([]byte(input))
	second := newTestNormalizer().NormalizeJSON([]byte(input))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Normalize() not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestNormalize_RoundTrip(t *testing.T) {
	n := newTestNormalizer()
	priority := 3
	original := []Group{
		n.NewGroup(),
		{
			GroupID:      "R1",
			Category:     "Refunds",
			Direction:    DirectionSendbox,
			RuleID:       "rule-9",
			Priority:     &priority,
			MatchFields:  "subject",
			Keywords:     "refund,return",
			Exclusions:   "noreply",
			Routing:      "finance",
			SLA:          "24h",
			Placeholders: []string{"Name"},
			Note:         "manual",
			UpdatedAt:    "2024-01-01T00:00:00.000Z",
			Versions: map[Locale]Version{
				LocaleZhCN: {Locale: LocaleZhCN, Name: "退款", StartAt: "2024-01-01T00:00", EndAt: "2024-02-01T00:00",
					Scope: ScopeAll, Subject: "退款", Opening: "您好", Body: "已收到", Signature: "团队", UpdatedAt: "2024-01-01T00:00:00.000Z"},
				LocaleEnUS: {Locale: LocaleEnUS, Name: "Refund", Scope: ScopeInternal, Subject: "Refund",
					Body: "Received", UpdatedAt: "2024-01-01T00:00:00.000Z"},
			},
		},
	}

	data, err := json.Marshal(ExportFile{Version: ExportFileVersion, UpdatedAt: "x", Groups: original})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got := n.NormalizeJSON(data)
	if !reflect.DeepEqual(got, original) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, original)
	}
}

func TestCloneForLocale_Idempotent(t *testing.T) {
	base := Version{Locale: LocaleZhCN, Name: "Welcome"}

	once := CloneForLocale(base, LocaleEnUS)
	twice := CloneForLocale(once, LocaleEnUS)

	if once.Name != "Welcome (English)" {
		t.Errorf("once = %q", once.Name)
	}
	if twice.Name != once.Name {
		t.Errorf("twice = %q, want %q", twice.Name, once.Name)
	}

	zh := CloneForLocale(CloneForLocale(Version{Name: "Hello"}, LocaleZhCN), LocaleZhCN)
	if zh.Name != "Hello（中文）" {
		t.Errorf("zh clone = %q", zh.Name)
	}
}

func TestNewGroup(t *testing.T) {
	n := newTestNormalizer()
	g := n.NewGroup()

	if g.GroupID != fmt.Sprintf("T_CUSTOM_%d", fixedTime.UnixMilli()) {
		t.Errorf("GroupID = %q", g.GroupID)
	}
	if g.Category != "新类别 2024/3/5" {
		t.Errorf("Category = %q", g.Category)
	}
	for _, locale := range Locales {
		v, ok := g.Versions[locale]
		if !ok {
			t.Fatalf("missing %s", locale)
		}
		if v.Locale != locale || v.Subject == "" || v.Body == "" {
			t.Errorf("%s version = %+v", locale, v)
		}
	}
}

func TestNormalizer_LoadFile(t *testing.T) {
	n := newTestNormalizer()

	groups, err := n.LoadFile("")
	if err != nil || len(groups) != 0 {
		t.Errorf("LoadFile(\"\") = %v, %v", groups, err)
	}

	path := filepath.Join(t.TempDir(), "starter.json")
	if err := os.WriteFile(path, []byte(`{"templates":[{"id":"a","subject":"S"}]}`), 0644); err != nil {
		t.Fatal(err)
	}
	groups, err = n.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != "a" {
		t.Errorf("LoadFile() = %v", groups)
	}

	if _, err := n.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFile(missing) should fail")
	}
}
