package app

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/pulse"
	"tomorrow/api/internal/store"
	"tomorrow/api/internal/util"
)

type PublicStaff struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Contact string `json:"contact"`
}

// Public is the projection served without login. Credentials, permissions,
// prayers and pulses are left out.
type Public struct {
	Members       []store.Member                         `json:"members"`
	Attendance    map[string]map[string]store.Attendance `json:"attendance"`
	Events        []store.Content                        `json:"events"`
	Summons       []store.Content                        `json:"summons"`
	Bible         []store.Content                        `json:"bible"`
	Resources     []store.Content                        `json:"resources"`
	Donations     []store.Gift                           `json:"donations"`
	Contributions []store.Gift                           `json:"contributions"`
	Staff         []PublicStaff                          `json:"staff"`
}

func (s *Service) Public(ctx context.Context) Public {
	doc, _ := s.docs.Load(ctx)
	staff := make([]PublicStaff, 0, len(doc.Staff))
	for _, member := range doc.Staff {
		staff = append(staff, PublicStaff{
			ID:      member.ID,
			Name:    member.Name,
			Role:    member.Role,
			Contact: member.Contact,
		})
	}
	return Public{
		Members:       doc.Members,
		Attendance:    doc.Attendance,
		Events:        doc.Events,
		Summons:       doc.Summons,
		Bible:         doc.Bible,
		Resources:     doc.Resources,
		Donations:     doc.Donations,
		Contributions: doc.Contributions,
		Staff:         staff,
	}
}

// Pulses

const (
	maxPulseSource = 120
	maxPulseNote   = 500
)

type PulseInput struct {
	Source string `json:"source"`
	Note   string `json:"note"`
}

// PulseAllowed checks the shared pulse secret. Without a configured secret
// every caller is accepted.
func (s *Service) PulseAllowed(token string) bool {
	if s.pulseToken == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.pulseToken)) == 1
}

func (s *Service) IngestPulse(ctx context.Context, token string, input PulseInput) (store.Pulse, error) {
	if !s.PulseAllowed(token) {
		return store.Pulse{}, errPulseUnauthorized
	}
	entry := store.Pulse{
		ID:         util.NewID(),
		Source:     truncate(firstNonBlank(strings.TrimSpace(input.Source), "unknown"), maxPulseSource),
		Note:       truncate(strings.TrimSpace(input.Note), maxPulseNote),
		ReceivedAt: s.timestamp(),
	}
	if _, err := s.update(ctx, "pulse", func(doc *store.Document) error {
		doc.AddPulse(entry)
		return nil
	}); err != nil {
		return store.Pulse{}, err
	}
	return entry, nil
}

func (s *Service) ListPulses(ctx context.Context) []store.Pulse {
	doc, _ := s.docs.Load(ctx)
	return doc.Pulses
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

// Health

type HealthReport struct {
	OK            bool           `json:"ok"`
	Started       time.Time      `json:"started"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Persistence   persist.Health `json:"persistence"`
	Pings         []pulse.Status `json:"pings"`
	Pulses        int            `json:"pulses"`
}

func (s *Service) Health(ctx context.Context) HealthReport {
	doc, _ := s.docs.Load(ctx)
	pings := []pulse.Status{}
	if s.pings != nil {
		pings = s.pings.Statuses()
	}
	return HealthReport{
		OK:            true,
		Started:       s.started.UTC(),
		UptimeSeconds: int64(s.now().Sub(s.started).Seconds()),
		Persistence:   s.docs.Health(),
		Pings:         pings,
		Pulses:        len(doc.Pulses),
	}
}

// Ready reports whether writes currently reach the remote store and the
// session store answers.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{"persistence": nil, "sessions": nil}
	if health := s.docs.Health(); health.Degraded {
		checks["persistence"] = errDegraded{lastError: health.LastError}
	}
	if s.sessions != nil {
		checks["sessions"] = s.sessions.Ping(ctx)
	}
	return checks
}

type errDegraded struct {
	lastError string
}

func (e errDegraded) Error() string {
	if e.lastError == "" {
		return "remote store degraded"
	}
	return "remote store degraded: " + e.lastError
}

// History lists past revisions when the remote store keeps them.
func (s *Service) History(ctx context.Context, limit int) ([]store.Revision, error) {
	if s.history == nil {
		return nil, domainError(http.StatusNotFound, "HISTORY_UNAVAILABLE", "Remote store keeps no history", nil)
	}
	return s.history.History(ctx, limit)
}
