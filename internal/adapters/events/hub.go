package events

import (
	"sync"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the per-subscriber queue; slow readers drop events past it
const subscriberBuffer = 100

// hub fans events out to local subscriber channels, keyed by channel name
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *entities.PipelineEvent]struct{}
}

func newHub() *hub {
	return &hub{subscribers: make(map[string]map[chan *entities.PipelineEvent]struct{})}
}

// add registers a new subscriber and reports whether it is the channel's first
func (h *hub) add(channel string) (chan *entities.PipelineEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	first := false
	if h.subscribers[channel] == nil {
		h.subscribers[channel] = make(map[chan *entities.PipelineEvent]struct{})
		first = true
	}
	eventChan := make(chan *entities.PipelineEvent, subscriberBuffer)
	h.subscribers[channel][eventChan] = struct{}{}

	log.Debug().Str("channel", channel).Int("subscribers", len(h.subscribers[channel])).Msg("Subscribed to channel")
	return eventChan, first
}

// remove closes one subscriber and reports whether the channel is now empty
func (h *hub) remove(channel string, eventChan chan *entities.PipelineEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, exists := h.subscribers[channel]
	if !exists {
		return false
	}
	if _, ok := subscribers[eventChan]; !ok {
		return false
	}

	delete(subscribers, eventChan)
	close(eventChan)

	if len(subscribers) == 0 {
		delete(h.subscribers, channel)
		return true
	}
	return false
}

func (h *hub) broadcast(channel string, event *entities.PipelineEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for subscriber := range h.subscribers[channel] {
		select {
		case subscriber <- event:
		default:
			log.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
		}
	}
}

// closeChannel closes every subscriber of channel
func (h *hub) closeChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for subscriber := range h.subscribers[channel] {
		close(subscriber)
	}
	delete(h.subscribers, channel)
}

func (h *hub) channels() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := make([]string, 0, len(h.subscribers))
	for channel := range h.subscribers {
		channels = append(channels, channel)
	}
	return channels
}
