package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tomorrow/api/internal/auth"
	"tomorrow/api/internal/rbac"
	"tomorrow/api/internal/util"
)

const (
	CookieName = "tomorrow_session"
	DefaultTTL = 12 * time.Hour
)

// Manager issues, resolves and revokes sessions. The cookie value is a
// signed token naming the session; the principal itself lives in the Store,
// so logout takes effect immediately.
type Manager struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(store Store, secret []byte, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, secret: secret, ttl: ttl, now: time.Now}
}

func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue starts a session for an account and returns the cookie token.
func (m *Manager) Issue(ctx context.Context, kind rbac.Kind, subjectID, name string) (string, Principal, error) {
	now := m.now()
	p := Principal{
		ID:        util.NewID(),
		Kind:      kind,
		SubjectID: subjectID,
		Name:      name,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	token, err := auth.IssueToken(m.secret, auth.Claims{
		Sub:  subjectID,
		Name: name,
		Kind: string(kind),
		JTI:  p.ID,
		Iat:  now.Unix(),
		Exp:  p.ExpiresAt.Unix(),
	})
	if err != nil {
		return "", Principal{}, err
	}
	if err := m.store.Save(ctx, p); err != nil {
		return "", Principal{}, err
	}
	return token, p, nil
}

// Resolve returns the principal behind token. Bad, expired and revoked
// tokens all report ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, ErrNotFound
	}
	claims, err := auth.ParseToken(m.secret, token, m.now())
	if err != nil {
		return Principal{}, ErrNotFound
	}
	p, err := m.store.Lookup(ctx, claims.JTI)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrNotFound
		}
		return Principal{}, fmt.Errorf("resolve session: %w", err)
	}
	kind, ok := rbac.ParseKind(claims.Kind)
	if !ok || p.SubjectID != claims.Sub || p.Kind != kind || p.Expired(m.now()) {
		return Principal{}, ErrNotFound
	}
	return p, nil
}

// Revoke ends the session behind token. Unknown tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	claims, err := auth.ParseToken(m.secret, token, m.now())
	if err != nil {
		return nil
	}
	return m.store.Revoke(ctx, claims.JTI)
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
