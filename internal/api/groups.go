package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/template"
)

// GroupListResponse is the response for GET /groups
type GroupListResponse struct {
	Groups []template.Group `json:"groups"`
	Total  int64            `json:"total"`
}

// CreateGroupRequest is the optional body for POST /groups
type CreateGroupRequest struct {
	Category string `json:"category" validate:"omitempty,max=200"`
}

// EditVersionRequest is the request body for PATCH /groups/{id}/versions/{locale}.
// Omitted fields are left untouched. Category and name cannot be cleared: an
// empty value would read back as the default.
type EditVersionRequest struct {
	Category        *string `json:"category" validate:"omitempty,min=1,max=200"`
	Name            *string `json:"name" validate:"omitempty,min=1,max=200"`
	StartAt         *string `json:"startAt"`
	EndAt           *string `json:"endAt"`
	Scope           *string `json:"scope" validate:"omitempty,oneof=all internal external"`
	Subject         *string `json:"subject"`
	Opening         *string `json:"opening"`
	Body            *string `json:"body"`
	FallbackContact *string `json:"fallbackContact"`
	Signature       *string `json:"signature"`
}

func (req EditVersionRequest) edit() template.Edit {
	edit := template.Edit{
		Category:        req.Category,
		Name:            req.Name,
		StartAt:         req.StartAt,
		EndAt:           req.EndAt,
		Subject:         req.Subject,
		Opening:         req.Opening,
		Body:            req.Body,
		FallbackContact: req.FallbackContact,
		Signature:       req.Signature,
	}
	if req.Scope != nil {
		scope := template.Scope(*req.Scope)
		edit.Scope = &scope
	}
	return edit
}

// PreviewResponse is the response for GET /groups/{id}/versions/{locale}/preview
type PreviewResponse struct {
	GroupID    string                    `json:"groupId"`
	Locale     template.Locale           `json:"locale"`
	Subject    string                    `json:"subject"`
	Text       string                    `json:"text"`
	HTML       string                    `json:"html"`
	BodyText   string                    `json:"bodyText"`
	BodyHTML   string                    `json:"bodyHtml"`
	Validation template.ValidationResult `json:"validation"`
}

// ImportResponse is the response for POST /import and POST /reset
type ImportResponse struct {
	Groups int `json:"groups"`
}

// handleListGroups handles GET /api/v1/groups
func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	filter := template.ListFilter{
		Search: r.URL.Query().Get("search"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	groups, err := s.store.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}

	total, err := s.store.CountGroups(r.Context())
	if err != nil {
		s.logger.Error("failed to count groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list groups")
		return
	}

	s.sendJSON(w, http.StatusOK, GroupListResponse{Groups: groups, Total: total})
}

// handleCreateGroup handles POST /api/v1/groups
func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !s.decodeOptionalRequest(w, r, &req) {
		return
	}

	group := s.store.Normalizer().NewGroup()
	if req.Category != "" {
		category := req.Category
		for _, locale := range template.Locales {
			v := group.Versions[locale]
			v.Name = s.store.Normalizer().DefaultVersion(locale, category).Name
			group.Versions[locale] = v
		}
		group.Category = category
	}

	if err := s.store.Create(r.Context(), group); err != nil {
		if errors.Is(err, template.ErrGroupExists) {
			s.sendError(w, http.StatusConflict, "Group already exists, retry")
			return
		}
		s.logger.Error("failed to create group", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to create group")
		return
	}

	metrics.IncGroupEdit("create")
	s.refreshGroupCount(r)
	s.logger.Info("group created", "group_id", group.GroupID)

	s.sendJSON(w, http.StatusCreated, group)
}

// handleGetGroup handles GET /api/v1/groups/{id}
func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	group, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get group", "group_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}
	if group == nil {
		s.sendError(w, http.StatusNotFound, "Group not found")
		return
	}

	s.sendJSON(w, http.StatusOK, group)
}

// handleDeleteGroup handles DELETE /api/v1/groups/{id}
func (s *Server) handleDeleteGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.store.Delete(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, template.ErrGroupNotFound):
			s.sendError(w, http.StatusNotFound, "Group not found")
		case errors.Is(err, template.ErrLastGroup):
			s.sendError(w, http.StatusConflict, "At least one group must remain")
		default:
			s.logger.Error("failed to delete group", "group_id", id, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to delete group")
		}
		return
	}

	metrics.IncGroupEdit("delete")
	s.refreshGroupCount(r)
	s.logger.Info("group deleted", "group_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// handleEditVersion handles PATCH /api/v1/groups/{id}/versions/{locale}
func (s *Server) handleEditVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	locale := template.Locale(chi.URLParam(r, "locale"))
	if !locale.IsValid() {
		s.sendError(w, http.StatusBadRequest, "Unsupported locale")
		return
	}

	var req EditVersionRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	group, err := s.store.Edit(r.Context(), id, locale, req.edit())
	if err != nil {
		switch {
		case errors.Is(err, template.ErrGroupNotFound):
			s.sendError(w, http.StatusNotFound, "Group not found")
		case errors.Is(err, template.ErrUnsupportedLocale):
			s.sendError(w, http.StatusBadRequest, "Unsupported locale")
		default:
			s.logger.Error("failed to edit group", "group_id", id, "locale", locale, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Failed to edit group")
		}
		return
	}

	metrics.IncGroupEdit("edit")
	s.sendJSON(w, http.StatusOK, group)
}

// handlePreviewVersion handles GET /api/v1/groups/{id}/versions/{locale}/preview
func (s *Server) handlePreviewVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	locale := template.Locale(chi.URLParam(r, "locale"))

	group, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get group", "group_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get group")
		return
	}
	if group == nil {
		s.sendError(w, http.StatusNotFound, "Group not found")
		return
	}

	version, ok := group.Version(locale)
	if !ok {
		s.sendError(w, http.StatusNotFound, "Version not found")
		return
	}

	s.sendJSON(w, http.StatusOK, PreviewResponse{
		GroupID:    group.GroupID,
		Locale:     locale,
		Subject:    template.PreviewSubject(version),
		Text:       template.PreviewText(version),
		HTML:       template.PreviewHTML(version),
		BodyText:   template.ComposeBody(version),
		BodyHTML:   template.ComposeHTML(version),
		Validation: template.Validate(version),
	})
}

// handleImport handles POST /api/v1/import
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.config.API.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.API.MaxBodyBytes)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IncImport("too_large")
			s.sendError(w, http.StatusRequestEntityTooLarge, "Import file too large")
			return
		}
		metrics.IncImport("rejected")
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	groups := s.store.Normalizer().NormalizeJSON(data)
	if len(groups) == 0 {
		metrics.IncImport("rejected")
		s.sendError(w, http.StatusBadRequest, "No usable template groups in import")
		return
	}

	stored, err := s.store.Replace(r.Context(), groups)
	if err != nil {
		metrics.IncImport("error")
		s.logger.Error("failed to import groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to import groups")
		return
	}

	metrics.IncImport("success")
	s.refreshGroupCount(r)
	if skipped := len(groups) - stored; skipped > 0 {
		s.logger.Warn("import repeated group ids, kept first occurrence", "skipped", skipped)
	}
	s.logger.Info("groups imported", "groups", stored, "bytes", len(data))

	s.sendJSON(w, http.StatusOK, ImportResponse{Groups: stored})
}

// handleExport handles GET /api/v1/export
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	export, err := s.store.Export(r.Context())
	if err != nil {
		s.logger.Error("failed to export groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to export groups")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="autoreply-templates.json"`)
	s.sendJSON(w, http.StatusOK, export)
}

// handleReset handles POST /api/v1/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	starter, err := s.store.Normalizer().LoadFile(s.config.Storage.StarterFile)
	if err != nil {
		s.logger.Error("failed to load starter file", "path", s.config.Storage.StarterFile, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to load starter file")
		return
	}

	if err := s.store.Reset(r.Context(), starter); err != nil {
		s.logger.Error("failed to reset groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to reset groups")
		return
	}

	metrics.IncGroupEdit("reset")

	total, err := s.store.CountGroups(r.Context())
	if err != nil {
		s.logger.Error("failed to count groups", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to count groups after reset")
		return
	}
	metrics.SetTemplateGroups(total)
	s.logger.Info("groups reset", "groups", total)

	s.sendJSON(w, http.StatusOK, ImportResponse{Groups: int(total)})
}

func (s *Server) refreshGroupCount(r *http.Request) {
	if total, err := s.store.CountGroups(r.Context()); err == nil {
		metrics.SetTemplateGroups(total)
	}
}
