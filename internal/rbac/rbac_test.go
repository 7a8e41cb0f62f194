package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		kind   Kind
		grants map[string]bool
		perm   Permission
		allow  bool
	}{
		{name: "admin without grants", kind: KindAdmin, perm: PermPostContent, allow: true},
		{name: "admin with explicit false", kind: KindAdmin, grants: map[string]bool{"post_content": false}, perm: PermPostContent, allow: true},
		{name: "staff granted", kind: KindStaff, grants: map[string]bool{"post_content": true}, perm: PermPostContent, allow: true},
		{name: "staff explicit false", kind: KindStaff, grants: map[string]bool{"post_content": false}, perm: PermPostContent, allow: false},
		{name: "staff missing grant", kind: KindStaff, grants: map[string]bool{"reply_prayers": true}, perm: PermAddDonations, allow: false},
		{name: "staff nil grants", kind: KindStaff, perm: PermReplyPrayers, allow: false},
		{name: "unknown kind", kind: Kind("member"), grants: map[string]bool{"post_content": true}, perm: PermPostContent, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.kind, tc.grants, tc.perm); got != tc.allow {
				t.Fatalf("Can(%q, %v, %q) = %v, want %v", tc.kind, tc.grants, tc.perm, got, tc.allow)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind("staff"); !ok || kind != KindStaff {
		t.Fatalf("ParseKind(staff) = %q, %v", kind, ok)
	}
	if _, ok := ParseKind("viewer"); ok {
		t.Fatal("ParseKind(viewer) should fail")
	}
}

func TestKnown(t *testing.T) {
	if !Known("add_contributions") {
		t.Fatal("expected add_contributions to be known")
	}
	if Known("delete_everything") {
		t.Fatal("unexpected permission reported as known")
	}
}
