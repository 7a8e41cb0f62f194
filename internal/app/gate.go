package app

import (
	"context"

	"tomorrow/api/internal/rbac"
	"tomorrow/api/internal/session"
	"tomorrow/api/internal/store"
)

type documentLoader interface {
	Load(ctx context.Context) (store.Document, string)
}

// AuthGate decides whether a principal may run an operation. Staff grants
// are read from the current document on every check, so revoking a
// permission or deleting a staff account takes effect on the next request.
type AuthGate struct {
	docs documentLoader
}

func NewAuthGate(docs documentLoader) *AuthGate {
	return &AuthGate{docs: docs}
}

func (g *AuthGate) RequireAdmin(principal *session.Principal) error {
	if principal == nil || !principal.IsAdmin() {
		return errAdminRequired
	}
	return nil
}

func (g *AuthGate) RequireStaffPermission(ctx context.Context, principal *session.Principal, perm rbac.Permission) error {
	if principal == nil {
		return errLoginRequired
	}
	if principal.IsAdmin() {
		return nil
	}
	if principal.Kind != rbac.KindStaff {
		return errLoginRequired
	}
	doc, _ := g.docs.Load(ctx)
	staff, ok := doc.FindStaff(principal.SubjectID)
	if !ok {
		return errStaffNotFound
	}
	if perm != "" && !rbac.Can(rbac.KindStaff, staff.Perms, perm) {
		return errPermission
	}
	return nil
}
