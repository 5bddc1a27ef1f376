package chat

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// Broadcaster fans serialized envelopes out to registered connections.
// Delivery is best effort: a failing transport is logged and skipped.
type Broadcaster struct {
	registry *Registry
	metrics  *Metrics
	logger   zerolog.Logger
}

// NewBroadcaster returns a Broadcaster reading membership from registry.
func NewBroadcaster(registry *Registry, metrics *Metrics, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}
}

// ToRoom sends msg to every open occupant of roomID except exclude, which may
// be nil. It returns the number of successful deliveries.
func (b *Broadcaster) ToRoom(roomID string, msg any, exclude *Session) int {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("failed to marshal broadcast")
		return 0
	}

	delivered := 0
	b.registry.ForEach(
		func(s *Session) bool { return s != exclude && s.inRoom(roomID) },
		func(s *Session) {
			if b.deliver(s, data) {
				delivered++
			}
		},
	)

	b.metrics.fanout(delivered)
	return delivered
}

// ToSession sends msg to a single open connection.
func (b *Broadcaster) ToSession(s *Session, msg any) bool {
	if s == nil || s.closing {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal direct message")
		return false
	}

	return b.deliver(s, data)
}

func (b *Broadcaster) deliver(s *Session, data []byte) bool {
	if err := s.transport.Send(data); err != nil {
		b.metrics.sendFailed()
		s.logger.Warn().Err(err).Msg("dropping outbound frame")
		return false
	}
	return true
}
