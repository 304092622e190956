// Package rbac decides what an application role may do. Project-level KT
// roles (Initiator, Contributor, Receiver) are checked by the workflow
// package instead.
package rbac

import (
	"strings"

	"kttrack/api/internal/domain"
)

type Action string

const (
	ActionRead           Action = "read"
	ActionWorkSections   Action = "work_sections"
	ActionManageProjects Action = "manage_projects"
	ActionDeleteProjects Action = "delete_projects"
	ActionManageCatalog  Action = "manage_templates"
	ActionManageUsers    Action = "manage_users"
)

func Can(role domain.AppRole, action Action) bool {
	switch role {
	case domain.AppRoleAdmin:
		return true
	case domain.AppRoleManager:
		return action == ActionRead || action == ActionWorkSections || action == ActionManageProjects
	case domain.AppRoleUser:
		return action == ActionRead || action == ActionWorkSections
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to the least privileged one.
func Normalize(role string) domain.AppRole {
	switch r := domain.AppRole(strings.ToLower(strings.TrimSpace(role))); r {
	case domain.AppRoleAdmin, domain.AppRoleManager, domain.AppRoleUser:
		return r
	default:
		return domain.AppRoleUser
	}
}

// CanSee reports whether a user with role may see project. Admins see every
// project, everyone else sees projects they manage or belong to.
func CanSee(role domain.AppRole, userID string, project domain.Project) bool {
	if role == domain.AppRoleAdmin || project.ManagerID == userID {
		return true
	}
	_, ok := project.Member(userID)
	return ok
}

// CanManage reports whether userID may change a project's members, sections
// or status.
func CanManage(role domain.AppRole, userID string, project domain.Project) bool {
	if role == domain.AppRoleAdmin {
		return true
	}
	return role == domain.AppRoleManager && project.ManagerID == userID
}
