// Package attendance implements the attendance aggregation core: the durable
// per-viewer/per-stream statistics store and the ranked leaderboard projection
// built on top of it.
package attendance

import "fmt"

// Role is the closed set of chat roles Twitch reports for a chatter.
type Role string

const (
	RoleViewer    Role = "viewer"
	RoleVIP       Role = "vip"
	RoleModerator Role = "moderator"
	RoleGlobalMod Role = "global_mod"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
	RoleCaster    Role = "broadcaster"
)

// ParseRole maps a raw chatters group name to a Role. Unknown groups map to
// RoleViewer so a new upstream group never poisons stored rows.
func ParseRole(group string) Role {
	switch group {
	case "broadcaster":
		return RoleCaster
	case "vips":
		return RoleVIP
	case "moderators":
		return RoleModerator
	case "global_mods":
		return RoleGlobalMod
	case "staff":
		return RoleStaff
	case "admins":
		return RoleAdmin
	case "viewers":
		return RoleViewer
	default:
		return RoleViewer
	}
}

// ValidRole reports whether s is one of the stored role values. Used when
// loading rows to fail loudly on corrupt attendance data.
func ValidRole(s string) bool {
	switch Role(s) {
	case RoleViewer, RoleVIP, RoleModerator, RoleGlobalMod, RoleStaff, RoleAdmin, RoleCaster:
		return true
	}
	return false
}

// Roster is one poll's worth of chat participants.
type Roster struct {
	Headcount int
	Chatters  map[string]Role
}

func (r Roster) validate() error {
	if r.Chatters == nil {
		return fmt.Errorf("roster has no chatters map")
	}
	if r.Headcount < 0 {
		return fmt.Errorf("roster headcount negative: %d", r.Headcount)
	}
	return nil
}
