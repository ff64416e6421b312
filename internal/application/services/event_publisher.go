package services

import (
	"context"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/providers"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/observability"
)

// eventPublisher fans a pipeline event out to the global and the per-policy
// channel. A nil bus drops events.
type eventPublisher struct {
	bus providers.EventBus
}

func (p eventPublisher) publish(ctx context.Context, event *entities.PipelineEvent) {
	if p.bus == nil || event == nil {
		return
	}
	logger := observability.LoggerFromContext(ctx)
	for _, channel := range []string{providers.EventChannelPipeline, providers.GetPolicyChannel(event.PolicyID)} {
		if err := p.bus.Publish(ctx, channel, event); err != nil {
			logger.Warn().Err(err).
				Str("channel", channel).
				Str("event_type", string(event.Type)).
				Str("policy_id", event.PolicyID).
				Msg("Failed to publish pipeline event")
		}
	}
}
