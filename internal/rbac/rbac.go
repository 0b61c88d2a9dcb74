package rbac

import "taskboard/api/internal/store"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func Normalize(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleMember:
		return Role(role)
	default:
		return RoleMember
	}
}

// CanViewTask reports whether the user may see the task at all.
// Admins see every task; members see tasks they created or are assigned to.
func CanViewTask(task store.Task, userID string, role Role) bool {
	if role == RoleAdmin {
		return true
	}
	if task.CreatorID == userID {
		return true
	}
	return task.AssignedUserID != nil && *task.AssignedUserID == userID
}

// CanEditTask reports whether the user may change or delete the task.
// Being assigned a task does not grant edit rights; members edit only
// tasks they created.
func CanEditTask(task store.Task, userID string, role Role) bool {
	if role == RoleAdmin {
		return true
	}
	return role == RoleMember && task.CreatorID == userID
}

// CanModifyBoardStructure governs list create/update/delete and board
// deletion.
func CanModifyBoardStructure(role Role) bool {
	return role == RoleAdmin
}

// CanAssignTask governs setting or clearing a task's assignee. Members
// cannot assign, even on tasks they created.
func CanAssignTask(role Role) bool {
	return role == RoleAdmin
}
