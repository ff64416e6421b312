package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
)

const acceptedExtension = ".pdf"

// UploadOptions holds upload limits
type UploadOptions struct {
	MaxBytes     int64
	AllowedTypes []string
}

// UploadRequest is one uploaded file and its optional metadata
type UploadRequest struct {
	Filename     string
	ContentType  string
	Data         []byte
	Title        string
	Description  string
	PolicyType   entities.PolicyType
	Jurisdiction string
	Language     string
}

// PolicyService handles business logic for policy documents
type PolicyService struct {
	repo   repositories.PolicyRepository
	blobs  providers.BlobStore
	search repositories.PolicySearchRepository
	events eventPublisher
	opts   UploadOptions
}

// NewPolicyService creates a new policy service. search and bus may be nil.
func NewPolicyService(
	repo repositories.PolicyRepository,
	blobs providers.BlobStore,
	search repositories.PolicySearchRepository,
	bus providers.EventBus,
	opts UploadOptions,
) *PolicyService {
	return &PolicyService{
		repo:   repo,
		blobs:  blobs,
		search: search,
		events: eventPublisher{bus: bus},
		opts:   opts,
	}
}

// SearchEnabled reports whether full-text search is configured
func (s *PolicyService) SearchEnabled() bool {
	return s.search != nil
}

// Upload validates, stores and registers a new policy file
func (s *PolicyService) Upload(ctx context.Context, req UploadRequest) (*entities.PolicyDocument, error) {
	contentType, err := s.validateUpload(req)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(req.Data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.repo.GetByFileHash(ctx, hash)
	switch {
	case err == nil:
		return nil, apperrors.NewConflictError(fmt.Sprintf("file already uploaded as policy %s", existing.ID))
	case !apperrors.IsType(err, apperrors.ErrorTypeNotFound):
		return nil, err
	}

	policy := &entities.PolicyDocument{
		ID:           entities.NewPolicyID(),
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Filename:     req.Filename,
		FileSize:     int64(len(req.Data)),
		FileHash:     hash,
		ContentType:  contentType,
		Language:     strings.TrimSpace(req.Language),
		Jurisdiction: strings.TrimSpace(req.Jurisdiction),
		PolicyType:   req.PolicyType,
	}
	policy.StorageKey = entities.PolicyStorageKey(policy.ID, policy.Filename)

	if err := s.blobs.Put(ctx, policy.StorageKey, req.Data); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, policy); err != nil {
		if delErr := s.blobs.Delete(ctx, policy.StorageKey); delErr != nil {
			observability.LoggerFromContext(ctx).Warn().Err(delErr).Str("key", policy.StorageKey).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("policy_id", policy.ID).
		Str("filename", policy.Filename).
		Int64("file_size", policy.FileSize).
		Msg("Policy uploaded")

	event := entities.NewPipelineEvent(entities.PipelineEventPolicyUploaded, policy.ID)
	event.PolicyStatus = policy.Status
	s.events.publish(ctx, event)
	return policy, nil
}

func (s *PolicyService) validateUpload(req UploadRequest) (string, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return "", apperrors.NewValidationError("filename is required")
	}
	if !strings.EqualFold(filepath.Ext(req.Filename), acceptedExtension) {
		return "", apperrors.NewValidationError("only PDF files are accepted")
	}
	if len(req.Data) == 0 {
		return "", apperrors.NewValidationError("file is empty")
	}
	if s.opts.MaxBytes > 0 && int64(len(req.Data)) > s.opts.MaxBytes {
		return "", apperrors.NewValidationError(fmt.Sprintf("file exceeds the maximum size of %d bytes", s.opts.MaxBytes))
	}

	contentType := req.ContentType
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}
	if !s.allowedType(contentType) {
		return "", apperrors.NewValidationError(fmt.Sprintf("content type %q is not accepted", req.ContentType))
	}
	if !req.PolicyType.Valid() {
		return "", apperrors.NewValidationError("unknown policy type: " + string(req.PolicyType))
	}
	return contentType, nil
}

func (s *PolicyService) allowedType(contentType string) bool {
	if len(s.opts.AllowedTypes) == 0 {
		return true
	}
	for _, allowed := range s.opts.AllowedTypes {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

// GetByID retrieves a policy by ID
func (s *PolicyService) GetByID(ctx context.Context, id string) (*entities.PolicyDocument, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a page of policies, the total match count and the paging actually applied
func (s *PolicyService) List(ctx context.Context, filter repositories.PolicyFilter) ([]*entities.PolicyDocument, int, repositories.PolicyFilter, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, filter, apperrors.NewValidationError("unknown policy status: " + string(filter.Status))
	}
	if !filter.PolicyType.Valid() {
		return nil, 0, filter, apperrors.NewValidationError("unknown policy type: " + string(filter.PolicyType))
	}

	filter = filter.Normalize()
	policies, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, filter, err
	}
	return policies, total, filter, nil
}

// Archive hides a policy from processing; archiving twice is a no-op
func (s *PolicyService) Archive(ctx context.Context, id string) (*entities.PolicyDocument, error) {
	policy, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy.IsArchived() {
		return policy, nil
	}

	if err := s.repo.Archive(ctx, id, time.Now().UTC()); err != nil {
		return nil, err
	}

	event := entities.NewPipelineEvent(entities.PipelineEventPolicyArchived, id)
	event.PolicyStatus = entities.PolicyStatusArchived
	s.events.publish(ctx, event)

	return s.repo.GetByID(ctx, id)
}

// Delete removes a policy, its processing history, its stored file and its search entry
func (s *PolicyService) Delete(ctx context.Context, id string) error {
	policy, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// 1. Delete the record; the processing log cascades
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	logger := observability.LoggerFromContext(ctx)

	// 2. Remove the stored file
	if err := s.blobs.Delete(ctx, policy.StorageKey); err != nil {
		logger.Warn().Err(err).Str("policy_id", id).Msg("Failed to delete stored policy file")
	}

	// 3. Remove from index
	if s.search != nil {
		if err := s.search.Delete(ctx, id); err != nil {
			logger.Warn().Err(err).Str("policy_id", id).Msg("Failed to delete policy from index")
		}
	}

	s.events.publish(ctx, entities.NewPipelineEvent(entities.PipelineEventPolicyDeleted, id))
	return nil
}

// Search runs a full-text query over extracted policy text
func (s *PolicyService) Search(ctx context.Context, params repositories.PolicySearchParams) (*repositories.PolicySearchResult, error) {
	if s.search == nil {
		return nil, apperrors.NewExternalError("search is not configured", nil)
	}
	if !params.PolicyType.Valid() {
		return nil, apperrors.NewValidationError("unknown policy type: " + string(params.PolicyType))
	}
	return s.search.Search(ctx, params.Normalize())
}
