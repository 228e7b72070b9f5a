package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/foxzi/autoreply/internal/metrics"
)

// Version is reported by /health
var Version = "dev"

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Groups  int64  `json:"groups"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.CountGroups(r.Context())
	if err != nil {
		s.logger.Error("failed to count groups", "error", err)
		s.sendJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:  "degraded",
			Version: Version,
			Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		})
		return
	}

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Groups:  groups,
	})
}

// decodeRequest reads a JSON body into v and runs struct validation
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return s.decodeBody(w, r, v, false)
}

// decodeOptionalRequest is decodeRequest for endpoints whose body may be
// absent, whatever the Content-Length says
func (s *Server) decodeOptionalRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	return s.decodeBody(w, r, v, true)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !(optional && errors.Is(err, io.EOF)) {
		metrics.IncAPIErrors("invalid_body")
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		metrics.IncAPIErrors("invalid_request")
		s.sendError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "required_without":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must not be empty", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
