package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionViewProfile    Action = "view_profile"
	ActionPostFeedback   Action = "post_feedback"
	ActionDeleteFeedback Action = "delete_feedback"
	ActionManageUsers    Action = "manage_users"
)

const (
	avatarAdmin = "#ff0000"
	avatarUser  = "#FFD700"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionViewProfile || action == ActionPostFeedback
	default:
		return false
	}
}

// Normalize maps anything the remote store sends to a known role. Unknown roles get
// the least privilege.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}

// AvatarColor is derived from the role and never stored on its own.
func AvatarColor(role Role) string {
	if role == RoleAdmin {
		return avatarAdmin
	}
	return avatarUser
}
