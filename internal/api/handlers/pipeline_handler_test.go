package handlers_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/civiclens/civiclens/backend/internal/api/handlers"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineHandler_ExtractText(t *testing.T) {
	s := newTestServer(t)
	policy := s.uploadPolicy(t, "Every child has a right to free primary education")
	extractURL := "/api/v1/policies/" + policy.PolicyID + "/extract-text"

	rec := s.do(t, http.MethodPost, extractURL, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var first handlers.ExtractTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, policy.PolicyID, first.PolicyID)
	assert.Equal(t, entities.AttemptStatusCompleted, first.Status)
	assert.Equal(t, 9, first.WordCount)
	assert.Equal(t, 49, first.CharacterCount)
	assert.Equal(t, "Every child has a right to free primary education", first.TextPreview)

	t.Run("repeat without force conflicts", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, extractURL, nil, "")
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrorTypeConflict, decodeError(t, rec).Type)
	})

	t.Run("forced repeat", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, extractURL+"?force=true", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var second handlers.ExtractTextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
		assert.Greater(t, second.ProcessingID, first.ProcessingID)
	})

	t.Run("text", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/policies/"+policy.PolicyID+"/text", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var text handlers.TextResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &text))
		assert.Equal(t, "policy.pdf", text.Filename)
		assert.Equal(t, "Every child has a right to free primary education", text.ExtractedText)
		assert.Equal(t, 9, text.WordCount)
	})

	t.Run("processing history", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/policies/"+policy.PolicyID+"/processing", nil, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var history handlers.ProcessingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
		require.Len(t, history.Entries, 2)
		assert.Equal(t, first.ProcessingID, history.Entries[0].ID)
	})

	t.Run("invalid force flag", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, extractURL+"?force=maybe", nil, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPipelineHandler_PreviewIsTruncated(t *testing.T) {
	s := newTestServer(t)
	policy := s.uploadPolicy(t, strings.Repeat("ẹ", 600))

	rec := s.do(t, http.MethodPost, "/api/v1/policies/"+policy.PolicyID+"/extract-text", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.ExtractTextResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 600, resp.CharacterCount)
	assert.Equal(t, strings.Repeat("ẹ", 500), resp.TextPreview)
}

func TestPipelineHandler_EncryptedDocument(t *testing.T) {
	s := newTestServer(t)
	policy := s.uploadPolicy(t, "%ENCRYPTED payload")

	rec := s.do(t, http.MethodPost, "/api/v1/policies/"+policy.PolicyID+"/extract-text", nil, "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.ErrorTypeEncryptedDocument, decodeError(t, rec).Type)

	get := s.do(t, http.MethodGet, "/api/v1/policies/"+policy.PolicyID, nil, "")
	require.Equal(t, http.StatusOK, get.Code)
	var doc entities.PolicyDocument
	require.NoError(t, json.Unmarshal(get.Body.Bytes(), &doc))
	assert.Equal(t, entities.PolicyStatusFailed, doc.Status)

	text := s.do(t, http.MethodGet, "/api/v1/policies/"+policy.PolicyID+"/text", nil, "")
	assert.Equal(t, http.StatusNotFound, text.Code)

	history := s.do(t, http.MethodGet, "/api/v1/policies/"+policy.PolicyID+"/processing", nil, "")
	require.Equal(t, http.StatusOK, history.Code)
	var resp handlers.ProcessingResponse
	require.NoError(t, json.Unmarshal(history.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, entities.AttemptStatusFailed, resp.Entries[0].Status)
	assert.Equal(t, string(apperrors.ErrorTypeEncryptedDocument), resp.Entries[0].ErrorKind)
}

func TestPipelineHandler_RunStage(t *testing.T) {
	s := newTestServer(t)
	policy := s.uploadPolicy(t, "generic stage run")

	rec := s.do(t, http.MethodPost, "/api/v1/policies/"+policy.PolicyID+"/stages/text_extraction", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entry entities.ProcessingLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, entities.StageTextExtraction, entry.Stage)
	assert.Equal(t, "generic stage run", entry.Result["extracted_text"])

	rec = s.do(t, http.MethodPost, "/api/v1/policies/"+policy.PolicyID+"/stages/embedding", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/policies/pol_000000000000/stages/text_extraction", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
