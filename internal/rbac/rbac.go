package rbac

// Kind is the type of account a principal belongs to.
type Kind string

// Permission names a capability granted to staff through their perms map.
type Permission string

const (
	KindAdmin Kind = "admin"
	KindStaff Kind = "staff"
)

const (
	PermPostContent      Permission = "post_content"
	PermAddDonations     Permission = "add_donations"
	PermAddContributions Permission = "add_contributions"
	PermReplyPrayers     Permission = "reply_prayers"
)

// Permissions lists every permission the front ends know about.
var Permissions = []Permission{
	PermPostContent,
	PermAddDonations,
	PermAddContributions,
	PermReplyPrayers,
}

// Can reports whether an account of kind with grants may use perm. Admins
// may do everything; staff need the grant set to true.
func Can(kind Kind, grants map[string]bool, perm Permission) bool {
	switch kind {
	case KindAdmin:
		return true
	case KindStaff:
		return grants[string(perm)]
	default:
		return false
	}
}

func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindAdmin, KindStaff:
		return Kind(value), true
	default:
		return "", false
	}
}

func Known(perm string) bool {
	for _, candidate := range Permissions {
		if string(candidate) == perm {
			return true
		}
	}
	return false
}
