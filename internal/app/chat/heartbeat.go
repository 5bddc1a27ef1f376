package chat

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultHeartbeatInterval is the period between liveness sweeps.
const DefaultHeartbeatInterval = 60 * time.Second

// Supervisor evicts connections that stop acknowledging liveness pings.
//
// Each connection is either Alive or Unconfirmed. A sweep terminates every
// Unconfirmed connection and moves every Alive one to Unconfirmed while sending
// it a ping; any acknowledgement (Registry.MarkAlive) moves it back to Alive.
type Supervisor struct {
	registry *Registry
	metrics  *Metrics
	logger   zerolog.Logger

	// onEvict runs the departure cleanup for a terminated connection and
	// removes it from the registry.
	onEvict func(*Session)
}

// NewSupervisor returns a Supervisor sweeping registry.
func NewSupervisor(registry *Registry, onEvict func(*Session), metrics *Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		onEvict:  onEvict,
	}
}

// Sweep performs one tick and returns how many connections were pinged and
// how many were evicted.
func (sv *Supervisor) Sweep() (pinged, evicted int) {
	for _, s := range sv.registry.Sessions() {
		if !s.alive {
			s.logger.Info().Msg("no heartbeat acknowledgement, terminating connection")
			s.closing = true
			s.transport.Terminate()
			sv.metrics.evicted()
			sv.onEvict(s)
			evicted++
			continue
		}

		s.alive = false
		if err := s.transport.Ping(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to queue liveness ping")
		}
		pinged++
	}

	if evicted > 0 {
		sv.logger.Info().Int("pinged", pinged).Int("evicted", evicted).Msg("heartbeat sweep finished")
	}
	return pinged, evicted
}
