package core

import (
	"time"

	"github.com/TungTran2095/studio-sub004/internal/clock"
	"github.com/TungTran2095/studio-sub004/internal/coordinator"
	"github.com/TungTran2095/studio-sub004/internal/journal"
	"github.com/TungTran2095/studio-sub004/internal/marketdata"
	"github.com/TungTran2095/studio-sub004/internal/ratelimit"
	"github.com/TungTran2095/studio-sub004/internal/stream"
	"github.com/TungTran2095/studio-sub004/internal/version"
)

// SystemStatus is the JSON payload served on /status.
type SystemStatus struct {
	Instance    string                   `json:"instance"`
	Version     version.BuildInfo        `json:"version"`
	Running     bool                     `json:"running"`
	Healthy     bool                     `json:"healthy"`
	StartedAt   time.Time                `json:"started_at,omitempty"`
	Uptime      string                   `json:"uptime,omitempty"`
	Instruments []string                 `json:"instruments"`
	Clock       clock.Status             `json:"clock"`
	RateLimits  []ratelimit.WindowStatus `json:"rate_limits"`
	Stream      stream.Status            `json:"stream"`
	MarketData  marketdata.Status        `json:"market_data"`
	Coordinator coordinator.Status       `json:"coordinator"`
	Journal     *journal.Stats           `json:"journal,omitempty"`
}

// GetSystemStatus returns a snapshot of every component.
func (s *System) GetSystemStatus() SystemStatus {
	s.mu.Lock()
	running, startedAt := s.running, s.startedAt
	s.mu.Unlock()

	st := SystemStatus{
		Instance:    s.cfg.Instance.ID,
		Version:     version.Info(),
		Running:     running,
		Healthy:     s.Healthy(),
		Instruments: s.cfg.Stream.Instruments,
		Clock:       s.clock.Status(),
		RateLimits:  s.governor.Status(),
		Stream:      s.stream.Status(),
		MarketData:  s.market.Status(),
		Coordinator: s.coordinator.Status(),
	}
	if running {
		st.StartedAt = startedAt
		st.Uptime = time.Since(startedAt).Truncate(time.Second).String()
	}
	if s.journal != nil {
		js := s.journal.Stats()
		st.Journal = &js
	}
	return st
}

// streamFanout forwards connection events to several observers.
type streamFanout struct {
	observers []stream.Observer
}

func (f *streamFanout) add(o stream.Observer) { f.observers = append(f.observers, o) }

func (f *streamFanout) StateChanged(from, to stream.State) {
	for _, o := range f.observers {
		o.StateChanged(from, to)
	}
}

func (f *streamFanout) Reconnecting(attempt int, delay time.Duration) {
	for _, o := range f.observers {
		o.Reconnecting(attempt, delay)
	}
}

func (f *streamFanout) MessageReceived(kind stream.Kind) {
	for _, o := range f.observers {
		o.MessageReceived(kind)
	}
}

func (f *streamFanout) MalformedMessage(err error) {
	for _, o := range f.observers {
		o.MalformedMessage(err)
	}
}
