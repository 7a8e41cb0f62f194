package app

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"tomorrow/api/internal/store"
	"tomorrow/api/internal/util"
)

// Content collections: events, summons, bible, resources.

func (s *Service) ListContent(ctx context.Context, collection string) ([]store.Content, error) {
	doc, _ := s.docs.Load(ctx)
	items, ok := doc.Collection(collection)
	if !ok {
		return nil, notFound()
	}
	return *items, nil
}

// PostContent stores an arbitrary JSON object as a new record, newest first.
// Envelope fields in the payload are ignored.
func (s *Service) PostContent(ctx context.Context, collection string, fields map[string]json.RawMessage) (store.Content, error) {
	if !store.IsContentKey(collection) {
		return store.Content{}, notFound()
	}
	item := store.Content{
		ID:        util.NewID(),
		CreatedAt: s.timestamp(),
		Fields:    payloadFields(fields),
	}
	_, err := s.update(ctx, "post "+collection, func(doc *store.Document) error {
		items, _ := doc.Collection(collection)
		*items = append([]store.Content{item}, *items...)
		return nil
	})
	if err != nil {
		return store.Content{}, err
	}
	return item, nil
}

// UpdateContent merges fields into an existing record and stamps updated_at.
func (s *Service) UpdateContent(ctx context.Context, collection, id string, fields map[string]json.RawMessage) (store.Content, error) {
	if !store.IsContentKey(collection) {
		return store.Content{}, notFound()
	}
	patch := payloadFields(fields)
	var updated store.Content
	_, err := s.update(ctx, "update "+collection, func(doc *store.Document) error {
		items, _ := doc.Collection(collection)
		for i := range *items {
			item := &(*items)[i]
			if item.ID != id {
				continue
			}
			if item.Fields == nil {
				item.Fields = map[string]json.RawMessage{}
			}
			for key, value := range patch {
				item.Fields[key] = value
			}
			item.UpdatedAt = s.touch(firstNonBlank(item.UpdatedAt, item.CreatedAt))
			updated = *item
			return nil
		}
		return notFound()
	})
	if err != nil {
		return store.Content{}, err
	}
	return updated, nil
}

func (s *Service) DeleteContent(ctx context.Context, collection, id string) error {
	if !store.IsContentKey(collection) {
		return notFound()
	}
	_, err := s.update(ctx, "delete "+collection, func(doc *store.Document) error {
		items, _ := doc.Collection(collection)
		kept := make([]store.Content, 0, len(*items))
		for _, item := range *items {
			if item.ID != id {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(*items) {
			return notFound()
		}
		*items = kept
		return nil
	})
	return err
}

func payloadFields(fields map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(fields))
	for key, value := range fields {
		if store.IsEnvelopeKey(key) {
			continue
		}
		out[key] = value
	}
	return out
}

// Donations and contributions.

type GiftInput struct {
	Name     string          `json:"name"`
	Amount   json.RawMessage `json:"amount"`
	Category string          `json:"category"`
	Note     string          `json:"note"`
}

func (s *Service) ListGifts(ctx context.Context, ledger string) ([]store.Gift, error) {
	doc, _ := s.docs.Load(ctx)
	gifts, ok := doc.Gifts(ledger)
	if !ok {
		return nil, notFound()
	}
	return *gifts, nil
}

// AddGift records a donation or contribution. The amount may be a JSON
// number or a numeric string and must be positive.
func (s *Service) AddGift(ctx context.Context, ledger string, input GiftInput) (store.Gift, error) {
	if !store.IsGiftKey(ledger) {
		return store.Gift{}, notFound()
	}
	amount, ok := parseAmount(input.Amount)
	if !ok {
		return store.Gift{}, validationError("Invalid amount")
	}
	now := s.timestamp()
	gift := store.Gift{
		ID:        util.NewID(),
		Name:      firstNonBlank(strings.TrimSpace(input.Name), "Anonymous"),
		Amount:    amount,
		Category:  strings.TrimSpace(input.Category),
		Note:      strings.TrimSpace(input.Note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.update(ctx, "add "+ledger, func(doc *store.Document) error {
		gifts, _ := doc.Gifts(ledger)
		*gifts = append([]store.Gift{gift}, *gifts...)
		return nil
	})
	if err != nil {
		return store.Gift{}, err
	}
	return gift, nil
}

func (s *Service) DeleteGift(ctx context.Context, ledger, id string) error {
	if !store.IsGiftKey(ledger) {
		return notFound()
	}
	_, err := s.update(ctx, "delete "+ledger, func(doc *store.Document) error {
		gifts, _ := doc.Gifts(ledger)
		kept := make([]store.Gift, 0, len(*gifts))
		for _, gift := range *gifts {
			if gift.ID != id {
				kept = append(kept, gift)
			}
		}
		if len(kept) == len(*gifts) {
			return notFound()
		}
		*gifts = kept
		return nil
	})
	return err
}

func parseAmount(raw json.RawMessage) (float64, bool) {
	var value any
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil {
		return 0, false
	}
	var amount float64
	switch v := value.(type) {
	case float64:
		amount = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		amount = parsed
	default:
		return 0, false
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, false
	}
	return amount, true
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
