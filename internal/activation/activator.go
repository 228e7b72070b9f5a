package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxzi/autoreply/internal/email"
	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/ratelimit"
	"github.com/foxzi/autoreply/internal/template"
)

// DefaultURL is the webmail entry page the activation link points at
const DefaultURL = "https://qiye.aliyun.com/"

var (
	// ErrTemplateNotFound is returned when the active group or locale is unknown
	ErrTemplateNotFound = errors.New("template not found")
	// ErrQuotaExceeded is returned when an activation quota is exhausted
	ErrQuotaExceeded = errors.New("activation quota exceeded")
)

// ValidationError lists every finding that blocked an activation
type ValidationError struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Errors, "; ")
}

// QuotaError reports which quota denied an activation
type QuotaError struct {
	Level      ratelimit.Level
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exhausted, retry after %s", e.Level, e.RetryAfter.Round(time.Second))
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// GroupLister provides the ordered group list
type GroupLister interface {
	List(ctx context.Context, filter template.ListFilter) ([]template.Group, error)
}

// Quota decides whether an activation may proceed
type Quota interface {
	Allow(ctx context.Context, req ratelimit.Request) (*ratelimit.Result, error)
}

// ActivationRequest selects the template and target of an activation
type ActivationRequest struct {
	GroupID       string
	Locale        template.Locale
	TargetMailbox string
	Mode          Mode
	Client        string
}

// Result is a prepared activation
type Result struct {
	Envelope *Envelope `json:"envelope"`
	Encoded  string    `json:"encoded"`
	URL      string    `json:"url"`
	Warnings []string  `json:"warnings"`
	Message  string    `json:"message"`
}

// Activator runs the lookup, validation, build and encode steps
type Activator struct {
	groups  GroupLister
	builder *Builder
	baseURL string
	quota   Quota
	logger  *slog.Logger
}

// ActivatorOption configures an Activator
type ActivatorOption func(*Activator)

// WithBaseURL sets the page the activation URL opens
func WithBaseURL(u string) ActivatorOption {
	return func(a *Activator) {
		if u != "" {
			a.baseURL = u
		}
	}
}

// WithQuota enables activation quotas
func WithQuota(q Quota) ActivatorOption {
	return func(a *Activator) {
		a.quota = q
	}
}

// NewActivator creates an Activator
func NewActivator(groups GroupLister, builder *Builder, logger *slog.Logger, opts ...ActivatorOption) *Activator {
	if builder == nil {
		builder = NewBuilder()
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &Activator{
		groups:  groups,
		builder: builder,
		baseURL: DefaultURL,
		logger:  logger.With("component", "activation"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Activate prepares the activation URL for the selected template
func (a *Activator) Activate(ctx context.Context, req ActivationRequest) (*Result, error) {
	mode := ParseMode(string(req.Mode))
	locale := req.Locale
	if locale == "" {
		locale = template.LocaleZhCN
	}

	groups, err := a.groups.List(ctx, template.ListFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}

	active, ok := FindEntry(groups, req.GroupID, locale)
	if !ok {
		metrics.IncActivation(string(mode), "not_found")
		return nil, fmt.Errorf("%w: %s/%s", ErrTemplateNotFound, req.GroupID, locale)
	}

	mailbox := strings.TrimSpace(req.TargetMailbox)
	if !email.IsValidMailbox(mailbox) {
		metrics.IncActivation(string(mode), "invalid_mailbox")
		return nil, ErrInvalidMailbox
	}

	entries := CollectEntries(groups, active, mode)
	validation := template.ValidateEntries(entries)
	metrics.AddValidationFindings(len(validation.Errors), len(validation.Warnings))
	if validation.Blocked() {
		metrics.IncActivation(string(mode), "blocked")
		a.logger.Info("activation blocked by validation",
			"group_id", req.GroupID,
			"locale", locale,
			"errors", len(validation.Errors))
		return nil, &ValidationError{Errors: validation.Errors, Warnings: validation.Warnings}
	}

	if a.quota != nil {
		decision, err := a.quota.Allow(ctx, ratelimit.Request{Client: req.Client, Mailbox: strings.ToLower(mailbox)})
		if err != nil {
			return nil, fmt.Errorf("failed to check quota: %w", err)
		}
		if !decision.Allowed {
			metrics.IncActivation(string(mode), "quota_exceeded")
			metrics.IncQuotaExceeded(string(decision.DeniedBy))
			return nil, &QuotaError{Level: decision.DeniedBy, RetryAfter: decision.RetryAfter}
		}
	}

	env, err := a.builder.Build(Request{
		Entries:       entries,
		Active:        active,
		TargetMailbox: mailbox,
		Mode:          mode,
	})
	if err != nil {
		metrics.IncActivation(string(mode), "error")
		return nil, err
	}

	encoded, err := Encode(env)
	if err != nil {
		metrics.IncActivation(string(mode), "error")
		return nil, err
	}

	activationURL, err := ActivationURL(a.baseURL, encoded)
	if err != nil {
		metrics.IncActivation(string(mode), "error")
		return nil, err
	}

	metrics.IncActivation(string(mode), "success")
	metrics.ObserveActivationTemplates(len(env.Templates))

	a.logger.Info("activation prepared",
		"group_id", active.Group.GroupID,
		"locale", active.Version.Locale,
		"mode", mode,
		"mailbox_domain", email.ExtractDomain(mailbox),
		"templates", len(env.Templates),
		"warnings", len(validation.Warnings))

	return &Result{
		Envelope: env,
		Encoded:  encoded,
		URL:      activationURL,
		Warnings: validation.Warnings,
		Message:  statusMessage(mode, validation.Warnings),
	}, nil
}

func statusMessage(mode Mode, warnings []string) string {
	msg := "Activated the current template."
	if mode == ModeAll {
		msg = "Synced all templates and activated the current one (a mailbox runs one auto-reply at a time)."
	}
	if len(warnings) > 0 {
		msg += " Note: " + strings.Join(warnings, "; ") + "."
	}
	return msg + " If the webmail page is not filled in automatically, install the activator userscript first."
}
