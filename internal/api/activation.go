package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/autoreply/internal/activation"
	"github.com/foxzi/autoreply/internal/ipfilter"
	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/template"
)

// ActivateRequest is the request body for POST /activate
type ActivateRequest struct {
	GroupID       string `json:"groupId" validate:"required,max=200"`
	Locale        string `json:"locale" validate:"omitempty,oneof=zh-CN en-US"`
	TargetMailbox string `json:"targetMailbox" validate:"omitempty,max=254"`
	Mode          string `json:"mode" validate:"omitempty,oneof=current all"`
}

// ActivateResponse is the response for POST /activate
type ActivateResponse struct {
	*activation.Result
	Packet string `json:"packet"`
	JSON   string `json:"json"`
}

// ValidationErrorResponse is returned when validation blocks an activation
type ValidationErrorResponse struct {
	Error    string   `json:"error"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// QuotaErrorResponse is returned when an activation quota is exhausted
type QuotaErrorResponse struct {
	Error             string `json:"error"`
	Level             string `json:"level"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

// DecodeRequest is the request body for POST /decode
type DecodeRequest struct {
	Payload string `json:"payload" validate:"required_without=URL"`
	URL     string `json:"url" validate:"required_without=Payload"`
}

// DecodeResponse is the response for POST /decode
type DecodeResponse struct {
	Envelope    *activation.Envelope `json:"envelope"`
	StrippedURL string               `json:"strippedUrl,omitempty"`
	Packet      string               `json:"packet"`
}

// handleActivate handles POST /api/v1/activate
func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	mailbox := req.TargetMailbox
	if mailbox == "" {
		mailbox = s.config.Activation.DefaultMailbox
	}
	mode := req.Mode
	if mode == "" {
		mode = s.config.Activation.DefaultMode
	}

	result, err := s.activator.Activate(r.Context(), activation.ActivationRequest{
		GroupID:       req.GroupID,
		Locale:        template.Locale(req.Locale),
		TargetMailbox: mailbox,
		Mode:          activation.ParseMode(mode),
		Client:        clientKey(r),
	})
	if err != nil {
		s.sendActivationError(w, err)
		return
	}

	pretty, err := activation.PrettyJSON(result.Envelope)
	if err != nil {
		s.logger.Error("failed to render envelope", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to render envelope")
		return
	}

	s.sendJSON(w, http.StatusOK, ActivateResponse{
		Result: result,
		Packet: activation.Packet(result.Envelope, time.Now()),
		JSON:   pretty,
	})
}

func (s *Server) sendActivationError(w http.ResponseWriter, err error) {
	var validationErr *activation.ValidationError
	var quotaErr *activation.QuotaError

	switch {
	case errors.As(err, &validationErr):
		s.sendJSON(w, http.StatusUnprocessableEntity, ValidationErrorResponse{
			Error:    "Template validation failed",
			Errors:   validationErr.Errors,
			Warnings: validationErr.Warnings,
		})
	case errors.As(err, &quotaErr):
		retry := int(math.Ceil(quotaErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		s.sendJSON(w, http.StatusTooManyRequests, QuotaErrorResponse{
			Error:             "Activation quota exceeded",
			Level:             string(quotaErr.Level),
			RetryAfterSeconds: retry,
		})
	case errors.Is(err, activation.ErrTemplateNotFound):
		s.sendError(w, http.StatusNotFound, "Template not found")
	case errors.Is(err, activation.ErrInvalidMailbox):
		s.sendError(w, http.StatusBadRequest, "Target mailbox is not a valid address")
	case errors.Is(err, activation.ErrNoEntries):
		s.sendError(w, http.StatusBadRequest, "No templates to activate")
	default:
		s.logger.Error("activation failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Activation failed")
	}
}

// handleDecode handles POST /api/v1/decode
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	resp := DecodeResponse{}
	payload := req.Payload
	if req.URL != "" {
		value, stripped, ok := activation.ExtractFromURL(req.URL)
		if !ok {
			metrics.IncDecode("invalid")
			s.sendError(w, http.StatusBadRequest, "URL carries no activation payload")
			return
		}
		payload = value
		resp.StrippedURL = stripped
	}

	env, err := activation.Decode(payload)
	if err != nil {
		metrics.IncDecode("invalid")
		s.sendError(w, http.StatusBadRequest, "Activation payload could not be decoded")
		return
	}

	metrics.IncDecode("success")
	resp.Envelope = env
	resp.Packet = activation.Packet(env, time.Now())
	s.sendJSON(w, http.StatusOK, resp)
}

// clientKey identifies the caller for per-client quotas. RealIP has already
// rewritten RemoteAddr from proxy headers.
func clientKey(r *http.Request) string {
	if addr, ok := ipfilter.ClientAddr(r); ok {
		return addr.String()
	}
	return r.RemoteAddr
}
