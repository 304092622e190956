package rbac

import (
	"testing"

	"kttrack/api/internal/domain"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   domain.AppRole
		action Action
		allow  bool
	}{
		{name: "user read", role: domain.AppRoleUser, action: ActionRead, allow: true},
		{name: "user work", role: domain.AppRoleUser, action: ActionWorkSections, allow: true},
		{name: "user manage", role: domain.AppRoleUser, action: ActionManageProjects, allow: false},
		{name: "manager manage", role: domain.AppRoleManager, action: ActionManageProjects, allow: true},
		{name: "manager delete", role: domain.AppRoleManager, action: ActionDeleteProjects, allow: false},
		{name: "manager templates", role: domain.AppRoleManager, action: ActionManageCatalog, allow: false},
		{name: "admin users", role: domain.AppRoleAdmin, action: ActionManageUsers, allow: true},
		{name: "unknown read", role: domain.AppRole("guest"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize(" Manager "); got != domain.AppRoleManager {
		t.Fatalf("Normalize() = %q, want manager", got)
	}
	if got := Normalize("owner"); got != domain.AppRoleUser {
		t.Fatalf("Normalize() = %q, want user", got)
	}
}

func TestProjectScopes(t *testing.T) {
	project := domain.Project{
		ManagerID: "usr_mgr",
		Members:   []domain.Member{{UserID: "usr_r", KTRole: domain.RoleReceiver}},
	}
	if !CanSee(domain.AppRoleUser, "usr_r", project) {
		t.Fatal("members must see their project")
	}
	if CanSee(domain.AppRoleUser, "usr_x", project) {
		t.Fatal("outsiders must not see the project")
	}
	if !CanSee(domain.AppRoleAdmin, "usr_x", project) {
		t.Fatal("admins see every project")
	}
	if !CanManage(domain.AppRoleManager, "usr_mgr", project) {
		t.Fatal("the project manager manages it")
	}
	if CanManage(domain.AppRoleManager, "usr_other", project) {
		t.Fatal("other managers must not manage it")
	}
	if CanManage(domain.AppRoleUser, "usr_mgr", project) {
		t.Fatal("a demoted user no longer manages projects")
	}
}
