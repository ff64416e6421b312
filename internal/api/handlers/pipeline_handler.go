package handlers

import (
	"net/http"
	"time"

	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

const textPreviewRunes = 500

// PipelineHandler handles processing endpoints
type PipelineHandler struct {
	coordinator *services.PipelineCoordinator
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(coordinator *services.PipelineCoordinator) *PipelineHandler {
	return &PipelineHandler{coordinator: coordinator}
}

// ExtractTextResponse summarizes a completed extraction
type ExtractTextResponse struct {
	PolicyID       string                 `json:"policy_id"`
	ProcessingID   int64                  `json:"processing_id"`
	Status         entities.AttemptStatus `json:"status"`
	CharacterCount int                    `json:"character_count"`
	WordCount      int                    `json:"word_count"`
	TextPreview    string                 `json:"text_preview"`
}

// TextResponse is the authoritative extracted text of a policy
type TextResponse struct {
	PolicyID            string    `json:"policy_id"`
	Filename            string    `json:"filename"`
	ExtractedText       string    `json:"extracted_text"`
	CharacterCount      int       `json:"character_count"`
	WordCount           int       `json:"word_count"`
	PageCount           int       `json:"page_count"`
	ExtractionTimestamp time.Time `json:"extraction_timestamp"`
}

// ProcessingResponse lists the processing history of a policy
type ProcessingResponse struct {
	PolicyID string                         `json:"policy_id"`
	Entries  []*entities.ProcessingLogEntry `json:"entries"`
}

// ExtractText handles POST /api/v1/policies/{policy_id}/extract-text
func (h *PipelineHandler) ExtractText(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	entry, err := h.coordinator.RunStage(r.Context(), r.PathValue("policy_id"), entities.StageTextExtraction, force)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	extracted, err := entities.ExtractedTextFromResult(entry.Result)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ExtractTextResponse{
		PolicyID:       entry.PolicyID,
		ProcessingID:   entry.ID,
		Status:         entry.Status,
		CharacterCount: extracted.CharacterCount,
		WordCount:      extracted.WordCount,
		TextPreview:    preview(extracted.Text, textPreviewRunes),
	})
}

// GetText handles GET /api/v1/policies/{policy_id}/text
func (h *PipelineHandler) GetText(w http.ResponseWriter, r *http.Request) {
	policy, text, err := h.coordinator.GetExtractedText(r.Context(), r.PathValue("policy_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, TextResponse{
		PolicyID:            policy.ID,
		Filename:            policy.Filename,
		ExtractedText:       text.Text,
		CharacterCount:      text.CharacterCount,
		WordCount:           text.WordCount,
		PageCount:           text.PageCount,
		ExtractionTimestamp: text.ExtractionTimestamp,
	})
}

// RunStage handles POST /api/v1/policies/{policy_id}/stages/{stage}
func (h *PipelineHandler) RunStage(w http.ResponseWriter, r *http.Request) {
	force, err := queryBool(r, "force")
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	entry, err := h.coordinator.RunStage(r.Context(), r.PathValue("policy_id"), entities.Stage(r.PathValue("stage")), force)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entry)
}

// ListProcessing handles GET /api/v1/policies/{policy_id}/processing
func (h *PipelineHandler) ListProcessing(w http.ResponseWriter, r *http.Request) {
	policyID := r.PathValue("policy_id")
	entries, err := h.coordinator.History(r.Context(), policyID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*entities.ProcessingLogEntry{}
	}
	respondWithJSON(w, http.StatusOK, ProcessingResponse{PolicyID: policyID, Entries: entries})
}

func preview(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
