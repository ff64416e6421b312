package entities

import (
	"time"

	"github.com/google/uuid"
)

// PipelineEventType represents what happened to a policy or one of its attempts
type PipelineEventType string

const (
	PipelineEventPolicyUploaded  PipelineEventType = "policy.uploaded"
	PipelineEventPolicyArchived  PipelineEventType = "policy.archived"
	PipelineEventPolicyDeleted   PipelineEventType = "policy.deleted"
	PipelineEventStageStarted    PipelineEventType = "stage.started"
	PipelineEventStageCompleted  PipelineEventType = "stage.completed"
	PipelineEventStageFailed     PipelineEventType = "stage.failed"
	PipelineEventStageReconciled PipelineEventType = "stage.reconciled"
)

// PipelineEvent is published on the event bus after every pipeline mutation
type PipelineEvent struct {
	ID           string            `json:"id"`
	Type         PipelineEventType `json:"type"`
	PolicyID     string            `json:"policy_id"`
	Stage        Stage             `json:"stage,omitempty"`
	ProcessingID int64             `json:"processing_id,omitempty"`
	PolicyStatus PolicyStatus      `json:"policy_status,omitempty"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Message      string            `json:"message,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// NewPipelineEvent creates a policy level event
func NewPipelineEvent(eventType PipelineEventType, policyID string) *PipelineEvent {
	return &PipelineEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		PolicyID:  policyID,
		Timestamp: time.Now().UTC(),
	}
}

// NewAttemptEvent creates an event describing a processing attempt
func NewAttemptEvent(eventType PipelineEventType, entry *ProcessingLogEntry, status PolicyStatus) *PipelineEvent {
	event := NewPipelineEvent(eventType, entry.PolicyID)
	event.Stage = entry.Stage
	event.ProcessingID = entry.ID
	event.PolicyStatus = status
	event.ErrorKind = entry.ErrorKind
	event.Message = entry.ErrorMessage
	return event
}
