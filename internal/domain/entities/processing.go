package entities

import (
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

// Stage names one step of the processing pipeline
type Stage string

const (
	StageTextExtraction Stage = "text_extraction"
	StageSearchIndexing Stage = "search_indexing"

	// Declared for the planned analysis pipeline; no executor is registered yet
	StageChunking       Stage = "chunking"
	StageEmbedding      Stage = "embedding"
	StageSummarization  Stage = "summarization"
	StageClassification Stage = "classification"
)

// Known reports whether s is a declared stage name
func (s Stage) Known() bool {
	switch s {
	case StageTextExtraction, StageSearchIndexing, StageChunking, StageEmbedding, StageSummarization, StageClassification:
		return true
	}
	return false
}

// AttemptStatus is the state of one processing attempt
type AttemptStatus string

const (
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusCompleted  AttemptStatus = "completed"
	AttemptStatusFailed     AttemptStatus = "failed"
)

// IsOpen reports whether the attempt still holds its (policy, stage) slot
func (s AttemptStatus) IsOpen() bool {
	return s == AttemptStatusPending || s == AttemptStatusInProgress
}

// ErrorKindLeaseExpired marks attempts failed by staleness reconciliation
const ErrorKindLeaseExpired = "LEASE_EXPIRED"

// StageResult is the stage specific payload stored on a completed attempt
type StageResult map[string]interface{}

// ProcessingLogEntry is one attempt to run one stage against one policy.
// Entries are append-only history; only their status fields move forward
type ProcessingLogEntry struct {
	ID           int64         `json:"processing_id" db:"id"`
	PolicyID     string        `json:"policy_id" db:"policy_id"`
	Stage        Stage         `json:"stage" db:"stage"`
	Status       AttemptStatus `json:"status" db:"status"`
	Result       StageResult   `json:"result,omitempty" db:"result"`
	ErrorKind    string        `json:"error_kind,omitempty" db:"error_kind"`
	ErrorMessage string        `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// OpenedAt is the moment the attempt claimed its slot
func (e *ProcessingLogEntry) OpenedAt() time.Time {
	if e.StartedAt != nil {
		return *e.StartedAt
	}
	return e.CreatedAt
}

// StartAttemptParams describes a claim on a (policy, stage) slot
type StartAttemptParams struct {
	PolicyID string
	Stage    Stage
	Force    bool
	// StaleAfter bounds how long an open attempt may hold the slot. Zero disables expiry
	StaleAfter time.Duration
}

// DecideClaim applies the claim rules to the existing attempts of one
// (policy, stage) pair. It returns the open attempts whose lease has run out;
// callers must fail those even when err is non-nil.
//
//   - a live open attempt always conflicts, force or not
//   - without force, a completed attempt or a failed most recent attempt conflicts
func DecideClaim(history []*ProcessingLogEntry, params StartAttemptParams, now time.Time) (stale []*ProcessingLogEntry, err error) {
	var (
		latest    *ProcessingLogEntry
		completed bool
	)

	for _, entry := range history {
		if entry.Status.IsOpen() {
			if params.StaleAfter > 0 && entry.OpenedAt().Before(now.Add(-params.StaleAfter)) {
				stale = append(stale, entry)
				continue
			}
			return stale, apperrors.NewConflictError(fmt.Sprintf(
				"stage %s is already in progress for policy %s", params.Stage, params.PolicyID))
		}
		if entry.Status == AttemptStatusCompleted {
			completed = true
		}
		if latest == nil || entry.ID > latest.ID {
			latest = entry
		}
	}

	if params.Force {
		return stale, nil
	}
	if completed {
		return stale, apperrors.NewConflictError(fmt.Sprintf(
			"stage %s already processed for policy %s; use force to re-run", params.Stage, params.PolicyID))
	}
	if len(stale) > 0 || (latest != nil && latest.Status == AttemptStatusFailed) {
		return stale, apperrors.NewConflictError(fmt.Sprintf(
			"previous %s attempt failed for policy %s; use force to retry", params.Stage, params.PolicyID))
	}
	return stale, nil
}

// ProjectStatus derives the document status from its processing history.
// terminal is the stage whose completion marks the document analyzed
func ProjectStatus(entries []*ProcessingLogEntry, terminal Stage, archived bool) PolicyStatus {
	if archived {
		return PolicyStatusArchived
	}
	if len(entries) == 0 {
		return PolicyStatusUploaded
	}

	var (
		latest           *ProcessingLogEntry
		terminalComplete bool
	)
	for _, entry := range entries {
		if entry.Status.IsOpen() {
			return PolicyStatusProcessing
		}
		if entry.Stage == terminal && entry.Status == AttemptStatusCompleted {
			terminalComplete = true
		}
		if latest == nil || entry.ID > latest.ID {
			latest = entry
		}
	}

	if latest.Status == AttemptStatusFailed {
		return PolicyStatusFailed
	}
	if terminalComplete {
		return PolicyStatusAnalyzed
	}
	return PolicyStatusProcessing
}

// LatestCompletedOf picks the authoritative completed entry: greatest
// completion time, ties broken by greatest id
func LatestCompletedOf(entries []*ProcessingLogEntry) *ProcessingLogEntry {
	var best *ProcessingLogEntry
	for _, entry := range entries {
		if entry.Status != AttemptStatusCompleted {
			continue
		}
		if best == nil || completedAfter(entry, best) {
			best = entry
		}
	}
	return best
}

func completedAfter(a, b *ProcessingLogEntry) bool {
	at, bt := completionTime(a), completionTime(b)
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.ID > b.ID
}

func completionTime(e *ProcessingLogEntry) time.Time {
	if e.CompletedAt != nil {
		return *e.CompletedAt
	}
	return e.CreatedAt
}

// ExtractedText is the typed view of a text extraction result
type ExtractedText struct {
	Text                string    `json:"extracted_text"`
	CharacterCount      int       `json:"character_count"`
	WordCount           int       `json:"word_count"`
	PageCount           int       `json:"page_count"`
	ExtractionTimestamp time.Time `json:"extraction_timestamp"`
}

// Result converts the extraction into a storable stage result
func (t *ExtractedText) Result() StageResult {
	return StageResult{
		"extracted_text":       t.Text,
		"character_count":      t.CharacterCount,
		"word_count":           t.WordCount,
		"page_count":           t.PageCount,
		"extraction_timestamp": t.ExtractionTimestamp.UTC().Format(time.RFC3339Nano),
	}
}

// ExtractedTextFromResult decodes a stored text extraction result
func ExtractedTextFromResult(result StageResult) (*ExtractedText, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stage result: %w", err)
	}
	var text ExtractedText
	if err := json.Unmarshal(data, &text); err != nil {
		return nil, fmt.Errorf("failed to decode extracted text: %w", err)
	}
	return &text, nil
}
