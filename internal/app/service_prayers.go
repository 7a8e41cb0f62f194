package app

import (
	"context"
	"strings"

	"tomorrow/api/internal/store"
	"tomorrow/api/internal/util"
)

type PrayerInput struct {
	Name       string `json:"name"`
	Body       string `json:"body"`
	AssignedTo string `json:"assigned_to"`
}

func (s *Service) ListPrayers(ctx context.Context) []store.Prayer {
	doc, _ := s.docs.Load(ctx)
	return doc.Prayers
}

// SubmitPrayer is open to anyone. An assignment to an unknown staff id is
// dropped rather than rejected.
func (s *Service) SubmitPrayer(ctx context.Context, input PrayerInput) (store.Prayer, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return store.Prayer{}, validationError("Prayer cannot be empty")
	}
	now := s.timestamp()
	prayer := store.Prayer{
		ID:        util.NewID(),
		Name:      firstNonBlank(strings.TrimSpace(input.Name), "Anonymous"),
		Body:      body,
		Status:    store.PrayerOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assignTo := strings.TrimSpace(input.AssignedTo)
	var saved store.Prayer
	var assignee store.Staff
	_, err := s.update(ctx, "submit prayer", func(doc *store.Document) error {
		saved = prayer
		assignee = assign(doc, &saved, assignTo)
		doc.Prayers = append([]store.Prayer{saved}, doc.Prayers...)
		return nil
	})
	if err != nil {
		return store.Prayer{}, err
	}
	s.notifyAssigned(assignee, saved)
	return saved, nil
}

// ReplyPrayer stores the reply and marks the prayer answered.
func (s *Service) ReplyPrayer(ctx context.Context, id, reply string) (store.Prayer, error) {
	reply = strings.TrimSpace(reply)
	return s.editPrayer(ctx, id, "reply prayer", func(doc *store.Document, prayer *store.Prayer) {
		prayer.Reply = reply
		prayer.Status = store.PrayerAnswered
	})
}

// AssignPrayer points a prayer at a staff member, or clears the assignment
// when staffID is empty or unknown.
func (s *Service) AssignPrayer(ctx context.Context, id, staffID string) (store.Prayer, error) {
	staffID = strings.TrimSpace(staffID)
	var assignee store.Staff
	var changed bool
	updated, err := s.editPrayer(ctx, id, "assign prayer", func(doc *store.Document, prayer *store.Prayer) {
		previous := prayer.AssignedTo
		assignee = assign(doc, prayer, staffID)
		changed = prayer.AssignedTo != previous
	})
	if err != nil {
		return store.Prayer{}, err
	}
	if changed {
		s.notifyAssigned(assignee, updated)
	}
	return updated, nil
}

func (s *Service) DeletePrayer(ctx context.Context, id string) error {
	_, err := s.update(ctx, "delete prayer", func(doc *store.Document) error {
		kept := make([]store.Prayer, 0, len(doc.Prayers))
		for _, prayer := range doc.Prayers {
			if prayer.ID != id {
				kept = append(kept, prayer)
			}
		}
		if len(kept) == len(doc.Prayers) {
			return notFound()
		}
		doc.Prayers = kept
		return nil
	})
	return err
}

func (s *Service) editPrayer(ctx context.Context, id, what string, edit func(*store.Document, *store.Prayer)) (store.Prayer, error) {
	var updated store.Prayer
	_, err := s.update(ctx, what, func(doc *store.Document) error {
		for i := range doc.Prayers {
			prayer := &doc.Prayers[i]
			if prayer.ID != id {
				continue
			}
			edit(doc, prayer)
			prayer.UpdatedAt = s.touch(firstNonBlank(prayer.UpdatedAt, prayer.CreatedAt))
			updated = *prayer
			return nil
		}
		return notFound()
	})
	if err != nil {
		return store.Prayer{}, err
	}
	return updated, nil
}

// assign sets or clears the assignment and returns the assignee, which is
// the zero Staff when the assignment was cleared.
func assign(doc *store.Document, prayer *store.Prayer, staffID string) store.Staff {
	prayer.AssignedTo = ""
	prayer.AssignedName = ""
	staff, ok := doc.FindStaff(staffID)
	if !ok {
		return store.Staff{}
	}
	prayer.AssignedTo = staff.ID
	prayer.AssignedName = staff.Name
	return staff
}

func (s *Service) notifyAssigned(staff store.Staff, prayer store.Prayer) {
	if s.notifier == nil || staff.ID == "" {
		return
	}
	s.notifier.PrayerAssigned(staff, prayer)
}
