package activation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/foxzi/autoreply/internal/template"
)

var fixedTime = time.Date(2024, 3, 5, 8, 30, 0, 0, time.UTC)

func newTestBuilder() *Builder {
	return NewBuilder(WithBuilderClock(func() time.Time { return fixedTime }))
}

func testGroups(n int) []template.Group {
	norm := template.NewNormalizer(template.WithClock(func() time.Time { return fixedTime }))
	groups := make([]template.Group, 0, n)
	for i := 1; i <= n; i++ {
		g := norm.NewGroup()
		g.GroupID = fmt.Sprintf("G%d", i)
		g.Category = fmt.Sprintf("Category %d", i)
		groups = append(groups, g)
	}
	return groups
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"all":     ModeAll,
		" ALL ":   ModeAll,
		"current": ModeCurrent,
		"":        ModeCurrent,
		"every":   ModeCurrent,
	}
	for input, want := range tests {
		if got := ParseMode(input); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestCollectEntries(t *testing.T) {
	groups := testGroups(3)
	active, ok := FindEntry(groups, "G2", template.LocaleEnUS)
	if !ok {
		t.Fatal("FindEntry() did not find G2/en-US")
	}

	current := CollectEntries(groups, active, ModeCurrent)
	if len(current) != 1 || current[0].Group.GroupID != "G2" {
		t.Errorf("current entries = %v", current)
	}

	all := CollectEntries(groups, active, ModeAll)
	if len(all) != 6 {
		t.Fatalf("all entries len = %d, want 6", len(all))
	}
	want := []string{"G1/zh-CN", "G1/en-US", "G2/zh-CN", "G2/en-US", "G3/zh-CN", "G3/en-US"}
	for i, entry := range all {
		got := entry.Group.GroupID + "/" + string(entry.Version.Locale)
		if got != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestFindEntry(t *testing.T) {
	groups := testGroups(2)

	if _, ok := FindEntry(groups, "missing", template.LocaleZhCN); ok {
		t.Error("FindEntry(missing) should fail")
	}
	if _, ok := FindEntry(groups, "G1", template.Locale("fr-FR")); ok {
		t.Error("FindEntry(fr-FR) should fail")
	}
}

func TestBuild_AllMode(t *testing.T) {
	groups := testGroups(3)
	active, _ := FindEntry(groups, "G2", template.LocaleEnUS)

	env, err := newTestBuilder().Build(Request{
		Entries:       CollectEntries(groups, active, ModeAll),
		Active:        active,
		TargetMailbox: "  user@example.com ",
		Mode:          ModeAll,
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(env.Templates) != 6 {
		t.Fatalf("templates len = %d, want 6", len(env.Templates))
	}
	found := 0
	for _, p := range env.Templates {
		if p.TemplateID == env.ActiveTemplate.TemplateID && p.Locale == env.ActiveTemplate.Locale {
			found++
		}
	}
	if found != 1 {
		t.Errorf("active template matched %d entries, want 1", found)
	}
	if env.ActiveTemplate.TemplateID != "G2" || env.ActiveTemplate.Locale != template.LocaleEnUS {
		t.Errorf("active = %s/%s", env.ActiveTemplate.TemplateID, env.ActiveTemplate.Locale)
	}

	if env.Version != SchemaVersion || env.Source != DefaultSource || !env.RequireSMSVerification {
		t.Errorf("envelope header = %+v", env)
	}
	if env.TargetMailbox != "user@example.com" {
		t.Errorf("TargetMailbox = %q", env.TargetMailbox)
	}
	if env.GeneratedAt != "2024-03-05T08:30:00.000Z" {
		t.Errorf("GeneratedAt = %q", env.GeneratedAt)
	}
}

func TestBuild_CurrentMode(t *testing.T) {
	groups := testGroups(2)
	active, _ := FindEntry(groups, "G1", template.LocaleZhCN)

	env, err := NewBuilder(WithSource("tests"), WithBuilderClock(func() time.Time { return fixedTime })).Build(Request{
		Entries:       []template.Entry{active},
		Active:        active,
		TargetMailbox: "user@example.com",
		Mode:          Mode("bogus"),
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if env.Mode != ModeCurrent {
		t.Errorf("Mode = %q, want current", env.Mode)
	}
	if env.Source != "tests" {
		t.Errorf("Source = %q", env.Source)
	}
	if len(env.Templates) != 1 || env.Templates[0] != env.ActiveTemplate {
		t.Errorf("templates = %v, want [active]", env.Templates)
	}
}

func TestBuild_Payload(t *testing.T) {
	entry := template.Entry{
		Group: template.Group{GroupID: "G", Category: "Cat"},
		Version: template.Version{
			Locale:  template.LocaleEnUS,
			Subject: "Away <soon>",
			Body:    "Back & ready",
			StartAt: "2024-01-01",
		},
	}

	env, err := newTestBuilder().Build(Request{
		Entries:       []template.Entry{entry},
		Active:        entry,
		TargetMailbox: "a@b.co",
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	p := env.ActiveTemplate
	if p.Scope != template.ScopeExternal {
		t.Errorf("Scope = %q, want external", p.Scope)
	}
	if p.StartAt == nil || *p.StartAt != "2024-01-01" {
		t.Errorf("StartAt = %v", p.StartAt)
	}
	if p.EndAt != nil {
		t.Errorf("EndAt = %v, want nil", *p.EndAt)
	}
	if p.BodyText != "Back & ready\n\n生效时段：2024-01-01 ~ 未设置" {
		t.Errorf("BodyText = %q", p.BodyText)
	}
	if p.BodyHTML != "Back &amp; ready<br><br>生效时段：2024-01-01 ~ 未设置" {
		t.Errorf("BodyHTML = %q", p.BodyHTML)
	}
	if p.Subject != "Away <soon>" {
		t.Errorf("Subject = %q", p.Subject)
	}
}

func TestBuild_Errors(t *testing.T) {
	groups := testGroups(1)
	active, _ := FindEntry(groups, "G1", template.LocaleZhCN)
	b := newTestBuilder()

	for _, mailbox := range []string{"", "user", "user@host", "a b@c.d", "a@@b.c"} {
		_, err := b.Build(Request{Entries: []template.Entry{active}, Active: active, TargetMailbox: mailbox})
		if !errors.Is(err, ErrInvalidMailbox) {
			t.Errorf("Build(%q) error = %v, want ErrInvalidMailbox", mailbox, err)
		}
	}

	_, err := b.Build(Request{Active: active, TargetMailbox: "user@example.com"})
	if !errors.Is(err, ErrNoEntries) {
		t.Errorf("Build(no entries) error = %v, want ErrNoEntries", err)
	}
}
