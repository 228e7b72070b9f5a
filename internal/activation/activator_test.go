package activation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/ratelimit"
	"github.com/foxzi/autoreply/internal/template"
)

type staticLister struct {
	groups []template.Group
	err    error
}

func (s *staticLister) List(ctx context.Context, filter template.ListFilter) ([]template.Group, error) {
	return s.groups, s.err
}

type fakeQuota struct {
	allow bool
	calls []ratelimit.Request
}

func (f *fakeQuota) Allow(ctx context.Context, req ratelimit.Request) (*ratelimit.Result, error) {
	f.calls = append(f.calls, req)
	if f.allow {
		return &ratelimit.Result{Allowed: true}, nil
	}
	return &ratelimit.Result{DeniedBy: ratelimit.LevelMailbox, RetryAfter: time.Hour}, nil
}

func newTestActivator(groups []template.Group, opts ...ActivatorOption) *Activator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewActivator(&staticLister{groups: groups}, newTestBuilder(), logger, opts...)
}

func activationCount(t *testing.T, m *metrics.Metrics, mode, outcome string) float64 {
	t.Helper()
	counter, err := m.ActivationsTotal.GetMetricWithLabelValues(mode, outcome)
	if err != nil {
		t.Fatalf("Failed to get counter: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestActivate_Success(t *testing.T) {
	m := metrics.New()
	metrics.SetGlobal(m)
	defer metrics.SetGlobal(nil)

	a := newTestActivator(testGroups(3), WithBaseURL("https://mail.example.com/"))

	result, err := a.Activate(context.Background(), ActivationRequest{
		GroupID:       "G3",
		Locale:        template.LocaleEnUS,
		TargetMailbox: "ops@example.com",
		Mode:          ModeAll,
	})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	if len(result.Envelope.Templates) != 6 {
		t.Errorf("templates = %d, want 6", len(result.Envelope.Templates))
	}
	if !strings.HasPrefix(result.URL, "https://mail.example.com/?"+QueryParam+"=") {
		t.Errorf("URL = %q", result.URL)
	}

	decoded, err := DecodeAny(result.URL)
	if err != nil {
		t.Fatalf("DecodeAny(URL) error = %v", err)
	}
	if decoded.ActiveTemplate.TemplateID != "G3" || decoded.ActiveTemplate.Locale != template.LocaleEnUS {
		t.Errorf("decoded active = %+v", decoded.ActiveTemplate)
	}

	// Default versions greet with {{Name}}
	if len(result.Warnings) != 6 {
		t.Errorf("warnings = %v, want one per template", result.Warnings)
	}
	if !strings.HasPrefix(result.Message, "Synced all templates") || !strings.Contains(result.Message, "Note:") {
		t.Errorf("Message = %q", result.Message)
	}

	if got := activationCount(t, m, "all", "success"); got != 1 {
		t.Errorf("success counter = %v, want 1", got)
	}
}

func TestActivate_DefaultsLocale(t *testing.T) {
	a := newTestActivator(testGroups(1))

	result, err := a.Activate(context.Background(), ActivationRequest{GroupID: "G1", TargetMailbox: "a@b.cd"})
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if result.Envelope.ActiveTemplate.Locale != template.LocaleZhCN {
		t.Errorf("locale = %q, want zh-CN", result.Envelope.ActiveTemplate.Locale)
	}
	if result.Envelope.Mode != ModeCurrent || len(result.Envelope.Templates) != 1 {
		t.Errorf("envelope = %+v", result.Envelope)
	}
	if !strings.HasPrefix(result.URL, DefaultURL) {
		t.Errorf("URL = %q", result.URL)
	}
}

func TestActivate_NotFound(t *testing.T) {
	a := newTestActivator(testGroups(1))

	_, err := a.Activate(context.Background(), ActivationRequest{GroupID: "nope", TargetMailbox: "a@b.cd"})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("Activate() error = %v, want ErrTemplateNotFound", err)
	}
}

func TestActivate_InvalidMailbox(t *testing.T) {
	a := newTestActivator(testGroups(1))

	_, err := a.Activate(context.Background(), ActivationRequest{GroupID: "G1", TargetMailbox: "not-an-address"})
	if !errors.Is(err, ErrInvalidMailbox) {
		t.Errorf("Activate() error = %v, want ErrInvalidMailbox", err)
	}
}

func TestActivate_BlockedByValidation(t *testing.T) {
	m := metrics.New()
	metrics.SetGlobal(m)
	defer metrics.SetGlobal(nil)

	groups := testGroups(2)
	groups[1].Versions[template.LocaleEnUS] = template.Version{
		Locale:  template.LocaleEnUS,
		Body:    "Away",
		StartAt: "2024-01-02",
		EndAt:   "2024-01-01",
	}
	quota := &fakeQuota{allow: true}
	a := newTestActivator(groups, WithQuota(quota))

	// Current mode on a healthy template is not affected by the broken one
	if _, err := a.Activate(context.Background(), ActivationRequest{GroupID: "G1", TargetMailbox: "a@b.cd"}); err != nil {
		t.Fatalf("Activate(current) error = %v", err)
	}

	_, err := a.Activate(context.Background(), ActivationRequest{GroupID: "G1", TargetMailbox: "a@b.cd", Mode: ModeAll})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Activate(all) error = %v, want *ValidationError", err)
	}
	want := []string{"G2/en-US: " + template.MsgSubjectRequired, "G2/en-US: " + template.MsgWindowOrder}
	if strings.Join(verr.Errors, "|") != strings.Join(want, "|") {
		t.Errorf("Errors = %v, want %v", verr.Errors, want)
	}
	if len(quota.calls) != 1 {
		t.Errorf("quota consulted %d times, want 1 (blocked attempts are free)", len(quota.calls))
	}
	if got := activationCount(t, m, "all", "blocked"); got != 1 {
		t.Errorf("blocked counter = %v, want 1", got)
	}
}

func TestActivate_QuotaExceeded(t *testing.T) {
	quota := &fakeQuota{allow: false}
	a := newTestActivator(testGroups(1), WithQuota(quota))

	_, err := a.Activate(context.Background(), ActivationRequest{
		GroupID:       "G1",
		TargetMailbox: "User@Example.com",
		Client:        "10.0.0.1",
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Activate() error = %v, want ErrQuotaExceeded", err)
	}
	var qerr *QuotaError
	if !errors.As(err, &qerr) || qerr.Level != ratelimit.LevelMailbox || qerr.RetryAfter != time.Hour {
		t.Errorf("QuotaError = %+v", qerr)
	}
	if quota.calls[0].Client != "10.0.0.1" || quota.calls[0].Mailbox != "user@example.com" {
		t.Errorf("quota request = %+v", quota.calls[0])
	}
}

func TestActivate_ListError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewActivator(&staticLister{err: errors.New("disk gone")}, nil, logger)

	if _, err := a.Activate(context.Background(), ActivationRequest{GroupID: "G1"}); err == nil {
		t.Error("Activate() should surface list errors")
	}
}
