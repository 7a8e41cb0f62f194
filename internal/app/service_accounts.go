package app

import (
	"context"
	"errors"
	"strings"

	"tomorrow/api/internal/authpw"
	"tomorrow/api/internal/rbac"
	"tomorrow/api/internal/session"
	"tomorrow/api/internal/store"
	"tomorrow/api/internal/util"
)

type Credentials struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type AdminView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// StaffView is a staff account without its password digest.
type StaffView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Role      string      `json:"role"`
	Perms     store.Perms `json:"perms"`
	Contact   string      `json:"contact"`
	CreatedAt string      `json:"created_at,omitempty"`
}

func adminView(admin store.Admin) AdminView {
	return AdminView{ID: admin.ID, Name: admin.Name, CreatedAt: admin.CreatedAt}
}

func staffView(staff store.Staff) StaffView {
	perms := staff.Perms
	if perms == nil {
		perms = store.Perms{}
	}
	return StaffView{
		ID:        staff.ID,
		Name:      staff.Name,
		Role:      staff.Role,
		Perms:     perms,
		Contact:   staff.Contact,
		CreatedAt: staff.CreatedAt,
	}
}

// Login is a started session: the token goes into the session cookie.
type Login struct {
	Token     string
	Principal session.Principal
}

func hashPassword(password string) (string, error) {
	digest, err := authpw.Hash(password)
	switch {
	case errors.Is(err, authpw.ErrEmptyPassword):
		return "", validationError("Name & password required")
	case errors.Is(err, authpw.ErrPasswordTooLong):
		return "", validationError("Password too long")
	}
	return digest, err
}

// Admins

func (s *Service) AdminExists(ctx context.Context) bool {
	doc, _ := s.docs.Load(ctx)
	return len(doc.Admins) > 0
}

// RegisterAdmin creates the first admin and signs them in. It is refused
// once any admin exists.
func (s *Service) RegisterAdmin(ctx context.Context, creds Credentials) (AdminView, Login, error) {
	if s.AdminExists(ctx) {
		return AdminView{}, Login{}, errAdminExists
	}
	admin, err := s.newAdmin(creds)
	if err != nil {
		return AdminView{}, Login{}, err
	}
	_, err = s.update(ctx, "register admin", func(doc *store.Document) error {
		if len(doc.Admins) > 0 {
			return errAdminExists
		}
		doc.Admins = []store.Admin{admin}
		return nil
	})
	if err != nil {
		return AdminView{}, Login{}, err
	}
	login, err := s.issue(ctx, rbac.KindAdmin, admin.ID, admin.Name)
	if err != nil {
		return AdminView{}, Login{}, err
	}
	return AdminView{ID: admin.ID, Name: admin.Name}, login, nil
}

func (s *Service) AddAdmin(ctx context.Context, creds Credentials) (AdminView, error) {
	admin, err := s.newAdmin(creds)
	if err != nil {
		return AdminView{}, err
	}
	if _, err := s.update(ctx, "add admin", func(doc *store.Document) error {
		doc.Admins = append(doc.Admins, admin)
		return nil
	}); err != nil {
		return AdminView{}, err
	}
	return AdminView{ID: admin.ID, Name: admin.Name}, nil
}

func (s *Service) ListAdmins(ctx context.Context) []AdminView {
	doc, _ := s.docs.Load(ctx)
	out := make([]AdminView, 0, len(doc.Admins))
	for _, admin := range doc.Admins {
		out = append(out, adminView(admin))
	}
	return out
}

func (s *Service) LoginAdmin(ctx context.Context, creds Credentials) (AdminView, Login, error) {
	name := strings.TrimSpace(creds.Name)
	doc, _ := s.docs.Load(ctx)
	for _, admin := range doc.Admins {
		if admin.Name != name || !authpw.Check(admin.PassHash, creds.Password) {
			continue
		}
		if authpw.IsLegacy(admin.PassHash) {
			s.upgradeDigest(ctx, rbac.KindAdmin, admin.ID, creds.Password)
		}
		login, err := s.issue(ctx, rbac.KindAdmin, admin.ID, admin.Name)
		if err != nil {
			return AdminView{}, Login{}, err
		}
		return AdminView{ID: admin.ID, Name: admin.Name}, login, nil
	}
	return AdminView{}, Login{}, errBadCredentials
}

func (s *Service) newAdmin(creds Credentials) (store.Admin, error) {
	name := strings.TrimSpace(creds.Name)
	if name == "" || creds.Password == "" {
		return store.Admin{}, validationError("Name & password required")
	}
	digest, err := hashPassword(creds.Password)
	if err != nil {
		return store.Admin{}, err
	}
	return store.Admin{
		ID:        util.NewID(),
		Name:      name,
		PassHash:  digest,
		CreatedAt: s.timestamp(),
	}, nil
}

// Staff

type StaffInput struct {
	Name     string      `json:"name"`
	Password string      `json:"password"`
	Role     string      `json:"role"`
	Perms    store.Perms `json:"perms"`
	Contact  string      `json:"contact"`
}

// StaffPatch changes only the fields that are set.
type StaffPatch struct {
	Name     *string      `json:"name"`
	Password *string      `json:"password"`
	Role     *string      `json:"role"`
	Perms    *store.Perms `json:"perms"`
	Contact  *string      `json:"contact"`
}

func (s *Service) ListStaff(ctx context.Context) []StaffView {
	doc, _ := s.docs.Load(ctx)
	out := make([]StaffView, 0, len(doc.Staff))
	for _, staff := range doc.Staff {
		out = append(out, staffView(staff))
	}
	return out
}

func (s *Service) AddStaff(ctx context.Context, input StaffInput) (StaffView, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || input.Password == "" {
		return StaffView{}, validationError("Name & password required")
	}
	digest, err := hashPassword(input.Password)
	if err != nil {
		return StaffView{}, err
	}
	perms := input.Perms
	if perms == nil {
		perms = store.Perms{}
	}
	s.warnUnknownPerms(name, perms)
	staff := store.Staff{
		ID:        util.NewID(),
		Name:      name,
		Role:      strings.TrimSpace(input.Role),
		Perms:     perms,
		Contact:   strings.TrimSpace(input.Contact),
		PassHash:  digest,
		CreatedAt: s.timestamp(),
	}
	if _, err := s.update(ctx, "add staff", func(doc *store.Document) error {
		doc.Staff = append(doc.Staff, staff)
		return nil
	}); err != nil {
		return StaffView{}, err
	}
	view := staffView(staff)
	view.CreatedAt = ""
	return view, nil
}

// UpdateStaff edits a staff account. A rename is carried into the prayers
// assigned to them.
func (s *Service) UpdateStaff(ctx context.Context, id string, patch StaffPatch) (StaffView, error) {
	var name string
	if patch.Name != nil {
		if name = strings.TrimSpace(*patch.Name); name == "" {
			return StaffView{}, validationError("Name required")
		}
	}
	var digest string
	if patch.Password != nil {
		var err error
		if digest, err = hashPassword(*patch.Password); err != nil {
			return StaffView{}, err
		}
	}

	var updated store.Staff
	_, err := s.update(ctx, "update staff", func(doc *store.Document) error {
		for i := range doc.Staff {
			staff := &doc.Staff[i]
			if staff.ID != id {
				continue
			}
			if name != "" {
				staff.Name = name
			}
			if digest != "" {
				staff.PassHash = digest
			}
			if patch.Role != nil {
				staff.Role = strings.TrimSpace(*patch.Role)
			}
			if patch.Perms != nil {
				s.warnUnknownPerms(staff.Name, *patch.Perms)
				staff.Perms = store.Perms{}
				for perm, granted := range *patch.Perms {
					staff.Perms[perm] = granted
				}
			}
			if patch.Contact != nil {
				staff.Contact = strings.TrimSpace(*patch.Contact)
			}
			staff.UpdatedAt = s.touch(firstNonBlank(staff.UpdatedAt, staff.CreatedAt))
			for j := range doc.Prayers {
				if doc.Prayers[j].AssignedTo == staff.ID {
					doc.Prayers[j].AssignedName = staff.Name
				}
			}
			updated = *staff
			return nil
		}
		return notFound()
	})
	if err != nil {
		return StaffView{}, err
	}
	return staffView(updated), nil
}

// warnUnknownPerms logs grants no route checks. They are stored anyway so
// newer front ends can round-trip them.
func (s *Service) warnUnknownPerms(staff string, perms store.Perms) {
	for perm := range perms {
		if !rbac.Known(perm) {
			s.log.Warn().Str("staff", staff).Str("perm", perm).Msg("unknown staff permission")
		}
	}
}

// DeleteStaff removes the account and clears the prayers assigned to it.
func (s *Service) DeleteStaff(ctx context.Context, id string) error {
	_, err := s.update(ctx, "delete staff", func(doc *store.Document) error {
		kept := make([]store.Staff, 0, len(doc.Staff))
		for _, staff := range doc.Staff {
			if staff.ID != id {
				kept = append(kept, staff)
			}
		}
		if len(kept) == len(doc.Staff) {
			return notFound()
		}
		doc.Staff = kept
		for i := range doc.Prayers {
			if doc.Prayers[i].AssignedTo == id {
				doc.Prayers[i].AssignedTo = ""
				doc.Prayers[i].AssignedName = ""
			}
		}
		return nil
	})
	return err
}

func (s *Service) LoginStaff(ctx context.Context, creds Credentials) (StaffView, Login, error) {
	name := strings.TrimSpace(creds.Name)
	doc, _ := s.docs.Load(ctx)
	for _, staff := range doc.Staff {
		if staff.Name != name || !authpw.Check(staff.PassHash, creds.Password) {
			continue
		}
		if authpw.IsLegacy(staff.PassHash) {
			s.upgradeDigest(ctx, rbac.KindStaff, staff.ID, creds.Password)
		}
		login, err := s.issue(ctx, rbac.KindStaff, staff.ID, staff.Name)
		if err != nil {
			return StaffView{}, Login{}, err
		}
		view := staffView(staff)
		view.CreatedAt = ""
		return view, login, nil
	}
	return StaffView{}, Login{}, errBadCredentials
}

// StaffMe returns the signed-in staff member, if any.
func (s *Service) StaffMe(ctx context.Context, principal *session.Principal) (StaffView, bool) {
	if principal == nil || principal.Kind != rbac.KindStaff {
		return StaffView{}, false
	}
	doc, _ := s.docs.Load(ctx)
	staff, ok := doc.FindStaff(principal.SubjectID)
	if !ok {
		return StaffView{}, false
	}
	view := staffView(staff)
	view.CreatedAt = ""
	return view, true
}

// Sessions

func (s *Service) Principal(ctx context.Context, token string) *session.Principal {
	principal, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.log.Warn().Err(err).Msg("resolve session")
		}
		return nil
	}
	return &principal
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

func (s *Service) issue(ctx context.Context, kind rbac.Kind, subjectID, name string) (Login, error) {
	token, principal, err := s.sessions.Issue(ctx, kind, subjectID, name)
	if err != nil {
		return Login{}, err
	}
	return Login{Token: token, Principal: principal}, nil
}

// upgradeDigest replaces a werkzeug digest with bcrypt after a successful
// login. Failures are logged and otherwise ignored.
func (s *Service) upgradeDigest(ctx context.Context, kind rbac.Kind, id, password string) {
	digest, err := authpw.Hash(password)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("rehash legacy password")
		return
	}
	_, err = s.update(ctx, "rehash password", func(doc *store.Document) error {
		switch kind {
		case rbac.KindAdmin:
			for i := range doc.Admins {
				if doc.Admins[i].ID == id && authpw.IsLegacy(doc.Admins[i].PassHash) {
					doc.Admins[i].PassHash = digest
				}
			}
		case rbac.KindStaff:
			for i := range doc.Staff {
				if doc.Staff[i].ID == id && authpw.IsLegacy(doc.Staff[i].PassHash) {
					doc.Staff[i].PassHash = digest
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("store rehashed password")
	}
}
