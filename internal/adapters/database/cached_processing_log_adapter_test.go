package database_test

import (
	"context"
	"fmt"
	"path"
	"sync"
	"testing"

	"github.com/civiclens/civiclens/backend/internal/adapters/database"
	"github.com/civiclens/civiclens/backend/internal/adapters/memory"
	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	hits int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.data[key]
	if !ok {
		return nil, fmt.Errorf("key not found: %s", key)
	}
	c.hits++
	return v, nil
}

func (c *mapCache) Set(ctx context.Context, key string, value []byte, expirationSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) SetNX(ctx context.Context, key string, value []byte, expirationSeconds int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data[key]; ok {
		return false, nil
	}
	c.data[key] = value
	return true, nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) DeletePattern(ctx context.Context, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.data {
		if ok, _ := path.Match(pattern, key); ok {
			delete(c.data, key)
		}
	}
	return nil
}

func (c *mapCache) Exists(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok, nil
}

func TestCachedProcessingLogAdapter_LatestCompleted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Policies().Create(ctx, &entities.PolicyDocument{
		ID: "pol_1", Filename: "a.pdf", FileSize: 10, ContentType: "application/pdf",
	}))

	cache := newMapCache()
	log := database.NewCachedProcessingLogAdapter(store.ProcessingLog(), cache, nil)

	latest, err := log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
	require.NoError(t, err)
	assert.Nil(t, latest)
	assert.Empty(t, cache.data, "absent results are not cached")

	first, err := log.StartAttempt(ctx, claim(false))
	require.NoError(t, err)
	_, err = log.CompleteAttempt(ctx, first.ID, entities.StageResult{"extracted_text": "v1"})
	require.NoError(t, err)

	latest, err = log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)

	latest, err = log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
	require.NoError(t, err)
	assert.Equal(t, "v1", latest.Result["extracted_text"])
	assert.Equal(t, 1, cache.hits)

	t.Run("forced re-run replaces the cached entry", func(t *testing.T) {
		second, err := log.StartAttempt(ctx, claim(true))
		require.NoError(t, err)
		_, err = log.CompleteAttempt(ctx, second.ID, entities.StageResult{"extracted_text": "v2"})
		require.NoError(t, err)

		latest, err := log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, "v2", latest.Result["extracted_text"])
	})

	t.Run("policy pattern clears every key", func(t *testing.T) {
		require.NoError(t, cache.DeletePattern(ctx, providers.PolicyProcessingCachePattern("pol_1")))
		exists, err := cache.Exists(ctx, providers.LatestCompletedCacheKey("pol_1", entities.StageTextExtraction))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

// slowReadLog holds the first LatestCompleted call after it has read the log
type slowReadLog struct {
	repositories.ProcessingLogRepository
	once   sync.Once
	read   chan struct{}
	resume chan struct{}
}

func (l *slowReadLog) LatestCompleted(ctx context.Context, policyID string, stage entities.Stage) (*entities.ProcessingLogEntry, error) {
	entry, err := l.ProcessingLogRepository.LatestCompleted(ctx, policyID, stage)
	l.once.Do(func() {
		close(l.read)
		<-l.resume
	})
	return entry, err
}

func TestCachedProcessingLogAdapter_SlowReaderDoesNotHideForcedRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	require.NoError(t, store.Policies().Create(ctx, &entities.PolicyDocument{
		ID: "pol_1", Filename: "a.pdf", FileSize: 10, ContentType: "application/pdf",
	}))

	// v1 is written straight to the log so the first cached read misses
	first, err := store.ProcessingLog().StartAttempt(ctx, claim(false))
	require.NoError(t, err)
	_, err = store.ProcessingLog().CompleteAttempt(ctx, first.ID, entities.StageResult{"extracted_text": "v1"})
	require.NoError(t, err)

	slow := &slowReadLog{
		ProcessingLogRepository: store.ProcessingLog(),
		read:                    make(chan struct{}),
		resume:                  make(chan struct{}),
	}
	cache := newMapCache()
	log := database.NewCachedProcessingLogAdapter(slow, cache, nil)

	stale := make(chan *entities.ProcessingLogEntry, 1)
	go func() {
		entry, _ := log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
		stale <- entry
	}()
	<-slow.read

	second, err := log.StartAttempt(ctx, claim(true))
	require.NoError(t, err)
	_, err = log.CompleteAttempt(ctx, second.ID, entities.StageResult{"extracted_text": "v2"})
	require.NoError(t, err)

	close(slow.resume)
	assert.Equal(t, first.ID, (<-stale).ID)

	latest, err := log.LatestCompleted(ctx, "pol_1", entities.StageTextExtraction)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, "v2", latest.Result["extracted_text"])
}
