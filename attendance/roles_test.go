package attendance

import "testing"

func TestParseRole(t *testing.T) {
	cases := []struct {
		group string
		want  Role
	}{
		{"broadcaster", RoleCaster},
		{"vips", RoleVIP},
		{"moderators", RoleModerator},
		{"global_mods", RoleGlobalMod},
		{"staff", RoleStaff},
		{"admins", RoleAdmin},
		{"viewers", RoleViewer},
		// Unknown upstream groups must degrade to viewer, not error.
		{"artists", RoleViewer},
		{"", RoleViewer},
	}
	for _, c := range cases {
		if got := ParseRole(c.group); got != c.want {
			t.Errorf("ParseRole(%q) = %q, want %q", c.group, got, c.want)
		}
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RoleViewer, RoleVIP, RoleModerator, RoleGlobalMod, RoleStaff, RoleAdmin, RoleCaster} {
		if !ValidRole(string(r)) {
			t.Errorf("ValidRole(%q) = false, want true", r)
		}
	}
	for _, s := range []string{"", "viewers", "mod", "owner"} {
		if ValidRole(s) {
			t.Errorf("ValidRole(%q) = true, want false", s)
		}
	}
}

func TestRosterValidate(t *testing.T) {
	if err := (Roster{Chatters: map[string]Role{}}).validate(); err != nil {
		t.Errorf("empty roster should be valid: %v", err)
	}
	if err := (Roster{}).validate(); err == nil {
		t.Error("roster without a chatters map should be invalid")
	}
	if err := (Roster{Headcount: -1, Chatters: map[string]Role{}}).validate(); err == nil {
		t.Error("negative headcount should be invalid")
	}
}
