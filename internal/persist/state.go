package persist

import (
	"sync"
	"time"
)

// Health is a point-in-time view of the persistence layer.
type Health struct {
	Driver              string     `json:"driver"`
	RemoteConfigured    bool       `json:"remote_configured"`
	Mode                Mode       `json:"mode"`
	Version             string     `json:"version"`
	LastRemoteSuccess   *time.Time `json:"last_remote_success,omitempty"`
	LastRemoteFailure   *time.Time `json:"last_remote_failure,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Degraded            bool       `json:"degraded"`
	LocalPath           string     `json:"local_path"`
}

// State is shared by every request that goes through a Coordinator.
type State struct {
	mu sync.RWMutex
	h  Health
}

func newState(driver string, configured bool, mode Mode, localPath string) *State {
	return &State{h: Health{
		Driver:           driver,
		RemoteConfigured: configured,
		Mode:             mode,
		LocalPath:        localPath,
	}}
}

func (s *State) Snapshot() Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.h
	if out.LastRemoteSuccess != nil {
		at := *out.LastRemoteSuccess
		out.LastRemoteSuccess = &at
	}
	if out.LastRemoteFailure != nil {
		at := *out.LastRemoteFailure
		out.LastRemoteFailure = &at
	}
	return out
}

func (s *State) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.h.Version
}

// observed records a version read from the remote store.
func (s *State) observed(version string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.Version = version
	s.h.LastRemoteSuccess = &at
	s.h.ConsecutiveFailures = 0
}

// written records an accepted remote write and clears degradation.
func (s *State) written(version string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.Version = version
	s.h.LastRemoteSuccess = &at
	s.h.ConsecutiveFailures = 0
	s.h.Degraded = false
}

// failed records a remote failure. degrade marks that a write was kept only locally.
func (s *State) failed(err error, degrade bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.h.LastRemoteFailure = &at
	if err != nil {
		s.h.LastError = err.Error()
	}
	s.h.ConsecutiveFailures++
	if degrade {
		s.h.Degraded = true
	}
}
