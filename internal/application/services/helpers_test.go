package services_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civiclens/civiclens/backend/internal/adapters/events"
	"github.com/civiclens/civiclens/backend/internal/adapters/locking"
	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/application/services"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

// blobStore keeps uploaded files in memory
type blobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newBlobStore() *blobStore {
	return &blobStore{data: make(map[string][]byte)}
}

func (b *blobStore) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = append([]byte(nil), data...)
	return nil
}

func (b *blobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("stored file not found: " + key)
	}
	return data, nil
}

func (b *blobStore) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
	return nil
}

func (b *blobStore) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok
}

// pageReader treats the stored bytes as the text of a single page unless
// a document specific outcome is configured
type pageReader struct {
	calls    atomic.Int32
	mu       sync.Mutex
	outcomes map[string]func() ([]string, error)
}

func newPageReader() *pageReader {
	return &pageReader{outcomes: make(map[string]func() ([]string, error))}
}

func (r *pageReader) on(content string, outcome func() ([]string, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[content] = outcome
}

func (r *pageReader) ReadPages(ctx context.Context, data []byte) ([]string, error) {
	r.calls.Add(1)
	r.mu.Lock()
	outcome, ok := r.outcomes[string(data)]
	r.mu.Unlock()
	if ok {
		return outcome()
	}
	return []string{string(data)}, nil
}

// recordingSearch is a PolicySearchRepository that remembers indexed text
type recordingSearch struct {
	mu      sync.Mutex
	indexed map[string]string
}

func newRecordingSearch() *recordingSearch {
	return &recordingSearch{indexed: make(map[string]string)}
}

func (s *recordingSearch) Index(ctx context.Context, policy *entities.PolicyDocument, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[policy.ID] = text
	return nil
}

func (s *recordingSearch) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexed, id)
	return nil
}

func (s *recordingSearch) Search(ctx context.Context, params repositories.PolicySearchParams) (*repositories.PolicySearchResult, error) {
	return &repositories.PolicySearchResult{}, nil
}

func (s *recordingSearch) text(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.indexed[id]
	return text, ok
}

type pipeline struct {
	store       *memory.Store
	blobs       *blobStore
	reader      *pageReader
	search      *recordingSearch
	bus         *events.MemoryEventBus
	policies    *services.PolicyService
	coordinator *services.PipelineCoordinator
}

type pipelineOption func(*pipelineConfig)

type pipelineConfig struct {
	storeOpts  []memory.Option
	staleAfter time.Duration
}

func withClock(now func() time.Time) pipelineOption {
	return func(c *pipelineConfig) {
		c.storeOpts = append(c.storeOpts, memory.WithClock(now))
	}
}

func newPipeline(t *testing.T, opts ...pipelineOption) *pipeline {
	t.Helper()
	cfg := pipelineConfig{staleAfter: 15 * time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &pipeline{
		store:  memory.NewStore(cfg.storeOpts...),
		blobs:  newBlobStore(),
		reader: newPageReader(),
		search: newRecordingSearch(),
		bus:    events.NewMemoryEventBus(),
	}
	t.Cleanup(func() { p.bus.Close() })

	registry, err := services.NewStageRegistry(
		services.NewTextExtractionStage(p.reader),
		services.NewSearchIndexingStage(p.search, "policies"),
	)
	require.NoError(t, err)

	p.policies = services.NewPolicyService(p.store.Policies(), p.blobs, p.search, p.bus, services.UploadOptions{
		MaxBytes:     1 << 20,
		AllowedTypes: []string{"application/pdf"},
	})
	p.coordinator = services.NewPipelineCoordinator(
		p.store.Policies(),
		p.store.ProcessingLog(),
		registry,
		p.blobs,
		locking.NewMemoryLocker(),
		p.bus,
		nil,
		services.CoordinatorOptions{StaleAfter: cfg.staleAfter, StageTimeout: 5 * time.Second},
	)
	return p
}

func (p *pipeline) upload(t *testing.T, content string) *entities.PolicyDocument {
	t.Helper()
	policy, err := p.policies.Upload(context.Background(), services.UploadRequest{
		Filename:    fmt.Sprintf("policy-%d.pdf", len(content)),
		ContentType: "application/pdf",
		Data:        []byte(content),
	})
	require.NoError(t, err)
	return policy
}

func (p *pipeline) status(t *testing.T, policyID string) entities.PolicyStatus {
	t.Helper()
	policy, err := p.store.Policies().GetByID(context.Background(), policyID)
	require.NoError(t, err)
	return policy.Status
}
