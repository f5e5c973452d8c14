// Package rbac holds the workspace roles, what each may do, and the
// permission catalog that refines them per company and project.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionApprove Action = "approve"
	ActionManage  Action = "manage"
	ActionAdmin   Action = "admin"
)

// ranks orders the roles; a user may only manage users ranked below them.
var ranks = map[Role]int{
	RoleViewer:  0,
	RoleMember:  1,
	RoleManager: 2,
	RoleAdmin:   3,
}

// minimumRank is the lowest role rank allowed to perform each action.
var minimumRank = map[Action]int{
	ActionRead:    ranks[RoleViewer],
	ActionWrite:   ranks[RoleMember],
	ActionApprove: ranks[RoleManager],
	ActionManage:  ranks[RoleManager],
	ActionAdmin:   ranks[RoleAdmin],
}

// Can reports whether role may perform action. Unknown roles are denied and
// only admins may perform unknown actions.
func Can(role Role, action Action) bool {
	rank, known := ranks[role]
	need, ok := minimumRank[action]
	if !known || !ok {
		return role == RoleAdmin
	}
	return rank >= need
}

// Normalize maps a stored role string onto a Role, falling back to viewer.
func Normalize(role string) Role {
	if _, ok := ranks[Role(role)]; ok {
		return Role(role)
	}
	return RoleViewer
}

func Rank(role Role) int {
	return ranks[role]
}
