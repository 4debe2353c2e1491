package event

import "strings"

// Role is the closed set of recipient roles carried by chat members.
//
// The chat platform only ships a free-form user_type string; it is mapped
// into this enum exactly once (ParseRole) so nothing downstream compares
// metadata strings.
type Role int

const (
	// RolePatient is the default for members without user_type metadata.
	RolePatient Role = iota
	// RoleManager is a hospital-affiliated manager.
	RoleManager
	// RoleChannelManager is a platform-level (CH) manager.
	RoleChannelManager
)

const (
	userTypeManager        = "Manager"
	userTypeChannelManager = "CHManager"
)

func ParseRole(userType string) Role {
	switch {
	case strings.EqualFold(userType, userTypeChannelManager):
		return RoleChannelManager
	case strings.EqualFold(userType, userTypeManager):
		return RoleManager
	default:
		return RolePatient
	}
}

func (r Role) String() string {
	switch r {
	case RoleManager:
		return "manager"
	case RoleChannelManager:
		return "ch_manager"
	default:
		return "patient"
	}
}

// IsManager reports whether the role is one of the staff roles.
func (r Role) IsManager() bool {
	return r == RoleManager || r == RoleChannelManager
}
