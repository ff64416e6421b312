package events

import (
	"context"
	"sync"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
)

// MemoryEventBus delivers events within a single process. It backs the
// in-memory deployment and tests where Redis is not available
type MemoryEventBus struct {
	hub    *hub
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

var _ providers.EventBus = (*MemoryEventBus)(nil)

// NewMemoryEventBus creates an in-process event bus
func NewMemoryEventBus() *MemoryEventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryEventBus{hub: newHub(), ctx: ctx, cancel: cancel}
}

// Publish delivers the event to current subscribers without blocking
func (b *MemoryEventBus) Publish(ctx context.Context, channel string, event *entities.PipelineEvent) error {
	copied := *event
	b.hub.broadcast(channel, &copied)
	return nil
}

// Subscribe subscribes to events on a channel until ctx is done
func (b *MemoryEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.PipelineEvent, error) {
	eventChan, _ := b.hub.add(channel)
	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.hub.remove(channel, eventChan)
	}()
	return eventChan, nil
}

// Unsubscribe closes every subscriber of a channel
func (b *MemoryEventBus) Unsubscribe(ctx context.Context, channel string) error {
	b.hub.closeChannel(channel)
	return nil
}

// Close closes all subscriptions
func (b *MemoryEventBus) Close() error {
	b.once.Do(func() {
		b.cancel()
		for _, channel := range b.hub.channels() {
			b.hub.closeChannel(channel)
		}
	})
	return nil
}
