package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tomorrow/api/internal/persist"
	"tomorrow/api/internal/pulse"
	"tomorrow/api/internal/session"
	"tomorrow/api/internal/store"
	"tomorrow/api/internal/util"
)

type documentStore interface {
	Load(ctx context.Context) (store.Document, string)
	Update(ctx context.Context, message string, mutate func(*store.Document) error) (store.Document, error)
	Health() persist.Health
}

type pingReporter interface {
	Statuses() []pulse.Status
}

// Notifier is told when a prayer lands on a staff member.
type Notifier interface {
	PrayerAssigned(staff store.Staff, prayer store.Prayer)
}

type Options struct {
	Documents documentStore
	Sessions  *session.Manager
	Pings     pingReporter
	// History is set when the remote store keeps past revisions.
	History    store.Historian
	Notifier   Notifier
	PulseToken string
	Logger     zerolog.Logger
	Now        func() time.Time
}

type Service struct {
	docs       documentStore
	gate       *AuthGate
	sessions   *session.Manager
	pings      pingReporter
	history    store.Historian
	notifier   Notifier
	pulseToken string
	log        zerolog.Logger
	now        func() time.Time
	started    time.Time
}

func New(opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		docs:       opts.Documents,
		gate:       NewAuthGate(opts.Documents),
		sessions:   opts.Sessions,
		pings:      opts.Pings,
		history:    opts.History,
		notifier:   opts.Notifier,
		pulseToken: opts.PulseToken,
		log:        opts.Logger.With().Str("component", "app").Logger(),
		now:        now,
		started:    now(),
	}
}

func (s *Service) Gate() *AuthGate {
	return s.gate
}

func (s *Service) Sessions() *session.Manager {
	return s.sessions
}

func (s *Service) update(ctx context.Context, what string, mutate func(*store.Document) error) (store.Document, error) {
	return s.docs.Update(ctx, "Update database (auto): "+what, mutate)
}

func (s *Service) timestamp() string {
	return util.Timestamp(s.now())
}

// touch returns a timestamp strictly later than previous. Two writes inside
// one clock tick still order correctly.
func (s *Service) touch(previous string) string {
	next := s.now().UTC()
	if prev, err := time.Parse(time.RFC3339Nano, previous); err == nil && !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return util.Timestamp(next)
}

// Members

type MemberInput struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

func (s *Service) ListMembers(ctx context.Context) []store.Member {
	doc, _ := s.docs.Load(ctx)
	return doc.Members
}

func (s *Service) AddMember(ctx context.Context, input MemberInput) (store.Member, error) {
	member := store.Member{
		ID:        util.NewID(),
		Name:      strings.TrimSpace(input.Name),
		Gender:    strings.TrimSpace(input.Gender),
		CreatedAt: s.timestamp(),
	}
	if member.Name == "" {
		return store.Member{}, validationError("Name required")
	}
	_, err := s.update(ctx, "add member", func(doc *store.Document) error {
		doc.Members = append(doc.Members, member)
		return nil
	})
	if err != nil {
		return store.Member{}, err
	}
	return member, nil
}

// DeleteMember removes the member and every attendance mark they have.
func (s *Service) DeleteMember(ctx context.Context, id string) error {
	_, err := s.update(ctx, "delete member", func(doc *store.Document) error {
		kept := make([]store.Member, 0, len(doc.Members))
		for _, member := range doc.Members {
			if member.ID != id {
				kept = append(kept, member)
			}
		}
		if len(kept) == len(doc.Members) {
			return notFound()
		}
		doc.Members = kept
		for _, day := range doc.Attendance {
			delete(day, id)
		}
		return nil
	})
	return err
}

// Attendance

type AttendanceInput struct {
	Date     string `json:"date"`
	MemberID string `json:"id"`
	Status   string `json:"status"`
}

func (s *Service) Attendance(ctx context.Context) map[string]map[string]store.Attendance {
	doc, _ := s.docs.Load(ctx)
	return doc.Attendance
}

// MarkAttendance records a status for one member on one date. The member id
// is not checked against the roster.
func (s *Service) MarkAttendance(ctx context.Context, input AttendanceInput) (store.Attendance, error) {
	date := strings.TrimSpace(input.Date)
	memberID := strings.TrimSpace(input.MemberID)
	if date == "" || memberID == "" || (input.Status != "present" && input.Status != "absent") {
		return store.Attendance{}, validationError("Invalid data")
	}
	mark := store.Attendance{Status: input.Status, EditedAt: s.timestamp()}
	_, err := s.update(ctx, fmt.Sprintf("attendance %s", date), func(doc *store.Document) error {
		day, ok := doc.Attendance[date]
		if !ok || day == nil {
			day = map[string]store.Attendance{}
			doc.Attendance[date] = day
		}
		day[memberID] = mark
		return nil
	})
	if err != nil {
		return store.Attendance{}, err
	}
	return mark, nil
}
