package providers

import (
	"context"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to pipeline events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.PipelineEvent) error

	// Subscribe subscribes to events on a channel until ctx is done
	Subscribe(ctx context.Context, channel string) (<-chan *entities.PipelineEvent, error)

	// Unsubscribe unsubscribes from a channel
	Unsubscribe(ctx context.Context, channel string) error

	// Close closes the event bus and all subscriptions
	Close() error
}

const (
	// EventChannelPipeline carries every pipeline event
	EventChannelPipeline = "pipeline:events"

	// EventChannelPolicyPrefix is the prefix for policy-specific channels
	EventChannelPolicyPrefix = "pipeline:policy:"
)

// GetPolicyChannel returns the channel name for a specific policy
func GetPolicyChannel(policyID string) string {
	return EventChannelPolicyPrefix + policyID
}
