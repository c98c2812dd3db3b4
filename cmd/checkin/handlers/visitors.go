// Package handlers provides the REST API for visitor check-in and sync
// operations.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/sementesanta/checkin/backend/internal/errors"
	"github.com/sementesanta/checkin/backend/internal/export"
	"github.com/sementesanta/checkin/backend/internal/filter"
	"github.com/sementesanta/checkin/backend/internal/logging"
	"github.com/sementesanta/checkin/backend/internal/models"
)

var validate = validator.New()

// VisitorEngine is the engine surface the visitor endpoints consume.
type VisitorEngine interface {
	Snapshot() []models.Visitor
	AddVisitor(ctx context.Context, v models.Visitor) (models.Visitor, error)
	RemoveVisitor(ctx context.Context, id int64) error
}

// VisitorHandler serves visitor listing, check-in, removal, and export on
// top of the engine's merged view.
type VisitorHandler struct {
	engine VisitorEngine
}

// NewVisitorHandler creates a VisitorHandler.
func NewVisitorHandler(engine VisitorEngine) *VisitorHandler {
	return &VisitorHandler{engine: engine}
}

// createVisitorRequest is the check-in payload.
type createVisitorRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=200"`
	Phone       string `json:"phone" validate:"max=40"`
	IsFirstTime bool   `json:"isFirstTime"`
	Date        string `json:"date" validate:"max=10"`
}

// List handles GET /api/visitors.
// Query parameters: date (dd/mm/yyyy or yyyy-mm-dd), name (substring),
// firstTime (true), page, pageSize.
func (h *VisitorHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	criteria := filter.Criteria{
		Date:          q.Get("date"),
		Name:          q.Get("name"),
		FirstTimeOnly: q.Get("firstTime") == "true",
	}

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	matched := filter.Sort(filter.Apply(h.engine.Snapshot(), criteria))
	result := filter.Paginate(matched, page, pageSize)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"visitors":   result.Visitors,
		"page":       result.Page,
		"pageSize":   result.PageSize,
		"totalPages": result.TotalPages,
		"totalItems": result.TotalItems,
		"stats":      filter.Summarize(matched),
	})
}

// Create handles POST /api/visitors.
func (h *VisitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createVisitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	visitor, err := h.engine.AddVisitor(r.Context(), models.Visitor{
		Name:        req.Name,
		Phone:       strings.TrimSpace(req.Phone),
		IsFirstTime: req.IsFirstTime,
		Date:        req.Date,
	})
	if err != nil {
		logging.Error("Failed to register visitor", err)
		if apperrors.Is(err, apperrors.ErrValidation) || apperrors.Is(err, apperrors.ErrInvalid) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to register visitor")
		return
	}

	respondJSON(w, http.StatusCreated, visitor)
}

// Delete handles DELETE /api/visitors/{id}. Deleting an unknown id is a
// success.
func (h *VisitorHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid visitor id")
		return
	}

	if err := h.engine.RemoveVisitor(r.Context(), id); err != nil {
		logging.Error("Failed to remove visitor", err,
			map[string]interface{}{"visitor_id": id})
		respondError(w, http.StatusInternalServerError, "Failed to remove visitor")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/visitors/export, streaming the filtered list
// as CSV. The same filter parameters as List apply.
func (h *VisitorHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	criteria := filter.Criteria{
		Date:          q.Get("date"),
		Name:          q.Get("name"),
		FirstTimeOnly: q.Get("firstTime") == "true",
	}

	matched := filter.Sort(filter.Apply(h.engine.Snapshot(), criteria))

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName(criteria.Date)+`"`)

	if err := export.WriteCSV(w, matched); err != nil {
		// Headers are already out; all we can do is log.
		logging.ErrorWithCode("CSV export failed", string(apperrors.ErrExportFailed), err)
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("Failed to encode response", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
