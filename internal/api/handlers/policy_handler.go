package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// multipartOverhead leaves room for form fields and boundaries around the file
const multipartOverhead = 1 << 20

// PolicyHandler handles policy document endpoints
type PolicyHandler struct {
	policies *services.PolicyService
	maxBytes int64
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policies *services.PolicyService, maxBytes int64) *PolicyHandler {
	return &PolicyHandler{
		policies: policies,
		maxBytes: maxBytes,
	}
}

// UploadResponse is returned after a successful upload
type UploadResponse struct {
	PolicyID        string                `json:"policy_id"`
	Filename        string                `json:"filename"`
	FileSize        int64                 `json:"file_size"`
	ContentType     string                `json:"content_type"`
	FileHash        string                `json:"file_hash"`
	Status          entities.PolicyStatus `json:"status"`
	UploadTimestamp time.Time             `json:"upload_timestamp"`
}

// ListResponse is one page of policies
type ListResponse struct {
	Policies []*entities.PolicyDocument `json:"policies"`
	Total    int                        `json:"total"`
	Limit    int                        `json:"limit"`
	Offset   int                        `json:"offset"`
}

// Upload handles POST /api/v1/policies/upload
func (h *PolicyHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respondTooLarge(w)
			return
		}
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "file is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxBytes {
		h.respondTooLarge(w)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		handleServiceError(w, r, apperrors.NewInternalError("failed to read upload", err))
		return
	}

	policy, err := h.policies.Upload(r.Context(), services.UploadRequest{
		Filename:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Data:         data,
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		PolicyType:   entities.PolicyType(r.FormValue("policy_type")),
		Jurisdiction: r.FormValue("jurisdiction"),
		Language:     r.FormValue("language"),
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, UploadResponse{
		PolicyID:        policy.ID,
		Filename:        policy.Filename,
		FileSize:        policy.FileSize,
		ContentType:     policy.ContentType,
		FileHash:        policy.FileHash,
		Status:          policy.Status,
		UploadTimestamp: policy.CreatedAt,
	})
}

func (h *PolicyHandler) respondTooLarge(w http.ResponseWriter) {
	respondWithError(w, http.StatusRequestEntityTooLarge, apperrors.ErrorTypeValidation, "file exceeds the maximum upload size")
}

// List handles GET /api/v1/policies/list
func (h *PolicyHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repositories.PolicyFilter{
		Status:       entities.PolicyStatus(query.Get("status")),
		PolicyType:   entities.PolicyType(query.Get("policy_type")),
		Jurisdiction: query.Get("jurisdiction"),
	}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if query.Has("limit") && (filter.Limit < 1 || filter.Limit > repositories.MaxListLimit) {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "limit must be between 1 and 100")
		return
	}
	if filter.Offset < 0 {
		respondWithError(w, http.StatusBadRequest, apperrors.ErrorTypeValidation, "offset must not be negative")
		return
	}

	policies, total, applied, err := h.policies.List(r.Context(), filter)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if policies == nil {
		policies = []*entities.PolicyDocument{}
	}

	respondWithJSON(w, http.StatusOK, ListResponse{
		Policies: policies,
		Total:    total,
		Limit:    applied.Limit,
		Offset:   applied.Offset,
	})
}

// Get handles GET /api/v1/policies/{policy_id}
func (h *PolicyHandler) Get(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.GetByID(r.Context(), r.PathValue("policy_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, policy)
}

// Archive handles POST /api/v1/policies/{policy_id}/archive
func (h *PolicyHandler) Archive(w http.ResponseWriter, r *http.Request) {
	policy, err := h.policies.Archive(r.Context(), r.PathValue("policy_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, policy)
}

// Delete handles DELETE /api/v1/policies/{policy_id}
func (h *PolicyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.Delete(r.Context(), r.PathValue("policy_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/v1/policies/search
func (h *PolicyHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := repositories.PolicySearchParams{
		Query:        query.Get("q"),
		PolicyType:   entities.PolicyType(query.Get("policy_type")),
		Jurisdiction: query.Get("jurisdiction"),
	}

	var err error
	if params.Limit, err = queryInt(r, "limit"); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if params.Offset, err = queryInt(r, "offset"); err != nil {
		handleServiceError(w, r, err)
		return
	}

	result, err := h.policies.Search(r.Context(), params)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if result.Hits == nil {
		result.Hits = []repositories.PolicySearchHit{}
	}
	respondWithJSON(w, http.StatusOK, result)
}
