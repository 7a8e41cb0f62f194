// Package session stores authenticated principals and issues the signed
// cookies that refer to them.
package session

import (
	"context"
	"errors"
	"time"

	"tomorrow/api/internal/rbac"
)

// ErrNotFound is returned for unknown, expired or revoked sessions.
var ErrNotFound = errors.New("session not found")

// Principal is an authenticated admin or staff member. ID is the session id
// carried in the cookie; SubjectID is the account id in the document.
type Principal struct {
	ID        string    `json:"id"`
	Kind      rbac.Kind `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Name      string    `json:"name"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p Principal) IsAdmin() bool {
	return p.Kind == rbac.KindAdmin
}

func (p Principal) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Store keeps principals until they expire or are revoked.
type Store interface {
	Save(ctx context.Context, p Principal) error
	Lookup(ctx context.Context, id string) (Principal, error)
	Revoke(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
