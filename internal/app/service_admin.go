package app

import (
	"context"
	"errors"
	"strings"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/identity"
	"kttrack/api/internal/rbac"
	"kttrack/api/internal/store"
	"kttrack/api/internal/util"
)

type TemplateInput struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	Order         int    `json:"order"`
	AttachmentURL string `json:"attachmentUrl"`
}

func (s *Service) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, remote("list templates", err)
	}
	return templates, nil
}

func (s *Service) CreateTemplate(ctx context.Context, viewer Viewer, input TemplateInput) (domain.Template, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageCatalog) {
		return domain.Template{}, forbidden()
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return domain.Template{}, invalid("template title is required")
	}
	template, err := s.store.InsertTemplate(ctx, domain.Template{
		ID:            util.NewID("tpl"),
		Title:         input.Title,
		Description:   input.Description,
		Order:         input.Order,
		AttachmentURL: input.AttachmentURL,
	})
	if err != nil {
		return domain.Template{}, remote("create template", err)
	}
	return template, nil
}

func (s *Service) UpdateTemplate(ctx context.Context, viewer Viewer, templateID string, input TemplateInput) (domain.Template, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageCatalog) {
		return domain.Template{}, forbidden()
	}
	template, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Template{}, remote("load template", err)
	}
	if title := strings.TrimSpace(input.Title); title != "" {
		template.Title = title
	}
	template.Description = input.Description
	template.Order = input.Order
	template.AttachmentURL = input.AttachmentURL
	if err := s.store.UpdateTemplate(ctx, template); err != nil {
		return domain.Template{}, remote("update template", err)
	}
	return template, nil
}

// DeleteTemplate leaves sections already copied from the template alone.
func (s *Service) DeleteTemplate(ctx context.Context, viewer Viewer, templateID string) error {
	if !rbac.Can(viewer.Role, rbac.ActionManageCatalog) {
		return forbidden()
	}
	if err := s.store.DeleteTemplate(ctx, templateID); err != nil {
		return remote("delete template", err)
	}
	return nil
}

type UserInput struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role"`
}

func (s *Service) ListUsers(ctx context.Context, viewer Viewer) ([]domain.User, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageProjects) {
		return nil, forbidden()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, remote("list users", err)
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, viewer Viewer, input UserInput) (domain.User, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageUsers) {
		return domain.User{}, forbidden()
	}
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if input.Username == "" {
		return domain.User{}, invalid("username is required")
	}
	hash, err := identity.HashPassword(input.Password)
	if err != nil {
		return domain.User{}, invalid(err.Error())
	}
	_, err = s.store.GetUserByUsername(ctx, input.Username)
	switch {
	case err == nil:
		return domain.User{}, invalid("username already taken")
	case !errors.Is(err, store.ErrNotFound):
		return domain.User{}, remote("check username", err)
	}

	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		displayName = input.Username
	}
	user, err := s.store.InsertUser(ctx, domain.User{
		ID:           util.NewID("usr"),
		Username:     input.Username,
		DisplayName:  displayName,
		Email:        strings.TrimSpace(input.Email),
		PasswordHash: hash,
		Role:         rbac.Normalize(input.Role),
	})
	if err != nil {
		return domain.User{}, remote("create user", err)
	}
	return user, nil
}

// UpdateUser changes profile fields, role and, when given, the password.
func (s *Service) UpdateUser(ctx context.Context, viewer Viewer, userID string, input UserInput) (domain.User, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageUsers) {
		return domain.User{}, forbidden()
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, remote("load user", err)
	}
	if name := strings.TrimSpace(input.DisplayName); name != "" {
		user.DisplayName = name
	}
	if input.Email != "" {
		user.Email = strings.TrimSpace(input.Email)
	}
	if input.Role != "" {
		role := rbac.Normalize(input.Role)
		if userID == viewer.UserID && role != domain.AppRoleAdmin {
			return domain.User{}, invalid("admins cannot demote themselves")
		}
		user.Role = role
	}
	user.PasswordHash = ""
	if input.Password != "" {
		hash, err := identity.HashPassword(input.Password)
		if err != nil {
			return domain.User{}, invalid(err.Error())
		}
		user.PasswordHash = hash
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return domain.User{}, remote("update user", err)
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *Service) DeactivateUser(ctx context.Context, viewer Viewer, userID string) error {
	if !rbac.Can(viewer.Role, rbac.ActionManageUsers) {
		return forbidden()
	}
	if userID == viewer.UserID {
		return invalid("admins cannot deactivate themselves")
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		return remote("deactivate user", err)
	}
	return nil
}
