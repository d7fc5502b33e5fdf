package synchronizer

import (
	"time"

	"github.com/erilali/vossync/internal/message"
	"github.com/google/uuid"
)

// tickHeartbeat accumulates dt while in a session and publishes a heartbeat once
// the interval is exceeded. The accumulator restarts from zero, it does not carry
// the overshoot.
func (s *Synchronizer) tickHeartbeat(dt time.Duration) {
	if s.sessionID == uuid.Nil || s.clientID == uuid.Nil || !s.initialized {
		return
	}
	s.heartbeatElapsed += dt
	if s.heartbeatElapsed <= s.cfg.HeartbeatInterval {
		return
	}
	s.heartbeatElapsed = 0
	s.publish(message.TopicSessionHeartbeat, message.Heartbeat{Header: s.header()})
}
