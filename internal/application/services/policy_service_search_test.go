package services_test

import (
	"context"
	"testing"

	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPolicySearchRepository mocks the search index
type MockPolicySearchRepository struct {
	mock.Mock
}

func (m *MockPolicySearchRepository) Index(ctx context.Context, policy *entities.PolicyDocument, text string) error {
	args := m.Called(ctx, policy, text)
	return args.Error(0)
}

func (m *MockPolicySearchRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockPolicySearchRepository) Search(ctx context.Context, params repositories.PolicySearchParams) (*repositories.PolicySearchResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.PolicySearchResult), args.Error(1)
}

func TestPolicyService_Search(t *testing.T) {
	ctx := context.Background()
	search := new(MockPolicySearchRepository)
	service := services.NewPolicyService(memory.NewStore().Policies(), newBlobStore(), search, nil, services.UploadOptions{})

	want := &repositories.PolicySearchResult{
		Hits:  []repositories.PolicySearchHit{{PolicyID: "pol_0123456789ab", Filename: "nhis.pdf"}},
		Found: 1,
	}
	search.On("Search", ctx, repositories.PolicySearchParams{
		Query:      "*",
		PolicyType: entities.PolicyTypeHealthcare,
		Limit:      repositories.MaxListLimit,
	}).Return(want, nil)

	got, err := service.Search(ctx, repositories.PolicySearchParams{
		Query:      "  ",
		PolicyType: entities.PolicyTypeHealthcare,
		Limit:      500,
		Offset:     -3,
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, service.SearchEnabled())
	search.AssertExpectations(t)

	t.Run("unknown policy type", func(t *testing.T) {
		_, err := service.Search(ctx, repositories.PolicySearchParams{PolicyType: "tax"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
	})

	t.Run("not configured", func(t *testing.T) {
		disabled := services.NewPolicyService(memory.NewStore().Policies(), newBlobStore(), nil, nil, services.UploadOptions{})
		_, err := disabled.Search(ctx, repositories.PolicySearchParams{Query: "health"})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeExternal))
		assert.False(t, disabled.SearchEnabled())
	})
}

func TestPolicyService_DeleteRemovesSearchEntry(t *testing.T) {
	ctx := context.Background()
	search := new(MockPolicySearchRepository)
	blobs := newBlobStore()
	service := services.NewPolicyService(memory.NewStore().Policies(), blobs, search, nil, services.UploadOptions{})

	policy, err := service.Upload(ctx, services.UploadRequest{
		Filename:    "budget.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7 budget"),
	})
	require.NoError(t, err)

	search.On("Delete", mock.Anything, policy.ID).Return(apperrors.NewExternalError("index unavailable", nil))

	// An index failure is logged; the record and its file are still removed
	require.NoError(t, service.Delete(ctx, policy.ID))
	search.AssertExpectations(t)
	assert.False(t, blobs.has(policy.StorageKey))

	_, err = service.GetByID(ctx, policy.ID)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}
