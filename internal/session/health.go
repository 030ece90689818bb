package session

import (
	"time"

	"github.com/nan0silver/AIBitcoinTrading/internal/connection"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DomainHealth describes the freshness of one domain.
type DomainHealth struct {
	HasRecord   bool          `json:"has_record"`
	Stale       bool          `json:"stale"`
	Sequence    uint64        `json:"sequence"`
	Source      model.Source  `json:"source"`
	LastUpdated time.Time     `json:"last_updated,omitzero"`
	Age         time.Duration `json:"age_ns"`
}

// Health is a point-in-time view of the session.
type Health struct {
	Status    string                             `json:"status"`
	SessionID string                             `json:"session_id"`
	StartedAt time.Time                          `json:"started_at,omitzero"`
	Domains   map[model.Domain]DomainHealth      `json:"domains"`
	Streams   map[model.Channel]connection.State `json:"streams"`
}

// Health reports domain freshness and stream state. The session is
// degraded while any polled domain is stale or missing or any stream is
// not open, and unhealthy when it is not running or every domain is stale.
func (s *Session) Health() Health {
	s.mu.Lock()
	running := s.started && !s.stopped
	startedAt := s.startedAt
	s.mu.Unlock()

	now := s.clock.Now()
	h := Health{
		Status:    StatusHealthy,
		SessionID: s.id.String(),
		StartedAt: startedAt,
		Domains:   make(map[model.Domain]DomainHealth, len(s.cfg.Intervals)),
		Streams:   make(map[model.Channel]connection.State, len(s.cfg.Streams)),
	}

	stale := 0
	for _, d := range model.Domains {
		if _, polled := s.cfg.Intervals[d]; !polled {
			continue
		}
		e, ok := s.store.Snapshot(d)
		dh := DomainHealth{HasRecord: ok && e.HasRecord(), Stale: e.Stale, Sequence: e.Sequence, Source: e.Source}
		if ok {
			dh.LastUpdated = e.LastUpdated
			dh.Age = now.Sub(e.LastUpdated)
		}
		h.Domains[d] = dh

		if dh.Stale {
			stale++
		}
		if dh.Stale || !dh.HasRecord {
			h.Status = StatusDegraded
		}
	}

	for _, ch := range s.cfg.Streams {
		st := s.streams.State(ch)
		h.Streams[ch] = st
		if st.Status != connection.StatusOpen {
			h.Status = StatusDegraded
		}
	}

	if !running || (len(h.Domains) > 0 && stale == len(h.Domains)) {
		h.Status = StatusUnhealthy
	}
	return h
}
