package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/notify"
	"kttrack/api/internal/progress"
	"kttrack/api/internal/rbac"
	"kttrack/api/internal/state"
	"kttrack/api/internal/store"
	"kttrack/api/internal/util"
	"kttrack/api/internal/workflow"
)

type MemberInput struct {
	UserID         string `json:"userId"`
	Name           string `json:"name"`
	KTRole         string `json:"ktRole"`
	FunctionalRole string `json:"functionalRole"`
}

type ProjectInput struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Deadline    *time.Time    `json:"deadline"`
	ManagerID   string        `json:"managerId"`
	Members     []MemberInput `json:"members"`
	TemplateIDs []string      `json:"templateIds"`
}

// CreateProject inserts the project row, then its members, then one section
// per template. Member and section failures are logged and skipped; the
// project row stays.
func (s *Service) CreateProject(ctx context.Context, viewer Viewer, input ProjectInput) (domain.Project, error) {
	if !rbac.Can(viewer.Role, rbac.ActionManageProjects) {
		return domain.Project{}, forbidden()
	}
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return domain.Project{}, invalid("project name is required")
	}

	members := make([]domain.Member, 0, len(input.Members))
	seen := map[string]bool{}
	for _, in := range input.Members {
		member, err := s.memberFromInput(ctx, "", in)
		if err != nil {
			return domain.Project{}, err
		}
		if seen[member.UserID] {
			return domain.Project{}, rejected(ErrAlreadyMember)
		}
		seen[member.UserID] = true
		members = append(members, member)
	}
	if workflow.CountInitiators(members) > domain.MaxInitiators {
		return domain.Project{}, rejected(workflow.ErrTooManyInitiators)
	}

	managerID, managerName := viewer.UserID, viewer.Name
	if input.ManagerID != "" && input.ManagerID != viewer.UserID {
		if viewer.Role != domain.AppRoleAdmin {
			return domain.Project{}, forbidden()
		}
		manager, err := s.store.GetUserByID(ctx, input.ManagerID)
		if err != nil {
			return domain.Project{}, remote("load manager", err)
		}
		managerID, managerName = manager.ID, manager.DisplayName
	}

	project, err := s.store.InsertProject(ctx, domain.Project{
		ID:          util.NewID("prj"),
		Name:        input.Name,
		Description: input.Description,
		Status:      domain.ProjectNotStarted,
		Deadline:    input.Deadline,
		ManagerID:   managerID,
		ManagerName: managerName,
	})
	if err != nil {
		return domain.Project{}, remote("create project", err)
	}
	logger := s.logger.With(zap.String("project_id", project.ID))

	project.Members = make([]domain.Member, 0, len(members))
	for _, member := range members {
		member.ProjectID = project.ID
		if err := s.store.InsertMember(ctx, member); err != nil {
			logger.Warn("member not added to new project", zap.String("user_id", member.UserID), zap.Error(err))
			continue
		}
		project.Members = append(project.Members, member)
	}

	project.Sections = make([]domain.Section, 0, len(input.TemplateIDs))
	if len(input.TemplateIDs) > 0 {
		templates, err := s.store.ListTemplates(ctx)
		if err != nil {
			logger.Warn("templates unavailable, project created without sections", zap.Error(err))
		}
		byID := make(map[string]domain.Template, len(templates))
		for _, template := range templates {
			byID[template.ID] = template
		}
		for _, templateID := range input.TemplateIDs {
			template, ok := byID[templateID]
			if !ok {
				continue
			}
			section := domain.Section{
				ID:          util.NewID("sec"),
				ProjectID:   project.ID,
				Title:       template.Title,
				Description: template.Description,
				Status:      domain.SectionDraft,
				Order:       len(project.Sections) + 1,
				Attachments: []domain.Attachment{},
				Comments:    []domain.Comment{},
			}
			if err := s.store.InsertSection(ctx, section); err != nil {
				logger.Warn("section not added to new project", zap.String("template_id", templateID), zap.Error(err))
				continue
			}
			project.Sections = append(project.Sections, section)
		}
	}

	s.state.Add(project)
	if s.search != nil {
		s.search.IndexProject(project)
	}
	logger.Info("project created", zap.Int("members", len(project.Members)), zap.Int("sections", len(project.Sections)))
	return project, nil
}

// UpdateProjectStatus is the manager's sign-off. Completed is only accepted
// once every section is Understood, and a completed project stays completed.
func (s *Service) UpdateProjectStatus(ctx context.Context, viewer Viewer, projectID string, status domain.ProjectStatus) (domain.Project, error) {
	unlock := s.locks.Lock("project:" + projectID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if project.IsCompleted() {
		return domain.Project{}, rejected(workflow.ErrProjectCompleted)
	}
	if status != domain.ProjectCompleted {
		return domain.Project{}, invalid("only Completed can be set explicitly, other statuses are derived")
	}
	if len(project.Sections) == 0 || progress.Completion(project.Sections) != 100 {
		return domain.Project{}, rejected(ErrNotFullyComplete)
	}

	if err := s.store.UpdateProjectStatus(ctx, projectID, status); err != nil {
		return domain.Project{}, remote("update project status", err)
	}
	var updated domain.Project
	s.state.Apply(projectID, func(current domain.Project) domain.Project {
		current.Status = status
		updated = current
		return current
	})
	if s.search != nil {
		s.search.IndexProject(updated)
	}

	recipients := make([]string, 0, len(updated.Members))
	for _, member := range updated.Members {
		recipients = append(recipients, member.UserID)
	}
	s.mail(notify.Message{Kind: notify.KindCompleted, Project: updated, Actor: viewer.Name}, recipients)
	return updated, nil
}

// DeleteProject removes a completed project together with its revisions,
// search entries and attachment objects.
func (s *Service) DeleteProject(ctx context.Context, viewer Viewer, projectID string) error {
	if !rbac.Can(viewer.Role, rbac.ActionDeleteProjects) {
		return forbidden()
	}
	project, ok := s.state.Project(projectID)
	if !ok {
		return notFound("project")
	}
	if !project.IsCompleted() {
		return rejected(ErrProjectNotCompleted)
	}

	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		return remote("delete project", err)
	}
	s.state.Remove(projectID)

	sectionIDs := make([]string, 0, len(project.Sections))
	for _, section := range project.Sections {
		sectionIDs = append(sectionIDs, section.ID)
		for _, attachment := range section.Attachments {
			s.removeBlob(attachment.URL)
		}
	}
	if s.search != nil {
		s.search.DeleteProject(projectID, sectionIDs)
	}
	if s.history != nil {
		if err := s.history.RemoveProject(projectID); err != nil {
			s.logger.Warn("revision history not removed", zap.String("project_id", projectID), zap.Error(err))
		}
	}
	return nil
}

// AddMember shows the new member at once and takes it back if the insert
// fails. Membership of a completed project is frozen.
func (s *Service) AddMember(ctx context.Context, viewer Viewer, projectID string, input MemberInput) (domain.Member, error) {
	unlock := s.locks.Lock("members:" + projectID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	if project.IsCompleted() {
		return domain.Member{}, rejected(workflow.ErrProjectCompleted)
	}
	member, err := s.memberFromInput(ctx, projectID, input)
	if err != nil {
		return domain.Member{}, err
	}
	if _, ok := project.Member(member.UserID); ok {
		return domain.Member{}, rejected(ErrAlreadyMember)
	}
	if err := workflow.CheckInitiators(project.Members, member.UserID, member.KTRole); err != nil {
		return domain.Member{}, rejected(err)
	}

	err = s.optimisticMembers(projectID, project.Members,
		func(members []domain.Member) []domain.Member {
			next := make([]domain.Member, 0, len(members)+1)
			next = append(next, members...)
			return append(next, member)
		},
		func() error { return s.store.InsertMember(ctx, member) },
	)
	if err != nil {
		return domain.Member{}, remote("add member", err)
	}
	return member, nil
}

func (s *Service) UpdateMember(ctx context.Context, viewer Viewer, projectID, userID string, input MemberInput) (domain.Member, error) {
	unlock := s.locks.Lock("members:" + projectID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return domain.Member{}, err
	}
	if project.IsCompleted() {
		return domain.Member{}, rejected(workflow.ErrProjectCompleted)
	}
	existing, ok := project.Member(userID)
	if !ok {
		return domain.Member{}, notFound("member")
	}
	role := existing.KTRole
	if input.KTRole != "" {
		parsed, ok := domain.ParseKTRole(input.KTRole)
		if !ok {
			return domain.Member{}, invalid("unknown KT role " + input.KTRole)
		}
		role = parsed
	}
	if err := workflow.CheckInitiators(project.Members, userID, role); err != nil {
		return domain.Member{}, rejected(err)
	}

	updated := existing
	updated.KTRole = role
	if name := strings.TrimSpace(input.Name); name != "" {
		updated.Name = name
	}
	if input.FunctionalRole != "" {
		updated.FunctionalRole = input.FunctionalRole
	}

	err = s.optimisticMembers(projectID, project.Members,
		func(members []domain.Member) []domain.Member {
			next := make([]domain.Member, len(members))
			copy(next, members)
			for i := range next {
				if next[i].UserID == userID {
					next[i] = updated
				}
			}
			return next
		},
		func() error { return s.store.UpdateMember(ctx, updated) },
	)
	if err != nil {
		return domain.Member{}, remote("update member", err)
	}
	return updated, nil
}

func (s *Service) RemoveMember(ctx context.Context, viewer Viewer, projectID, userID string) error {
	unlock := s.locks.Lock("members:" + projectID)
	defer unlock()

	project, err := s.managedProject(viewer, projectID)
	if err != nil {
		return err
	}
	if project.IsCompleted() {
		return rejected(workflow.ErrProjectCompleted)
	}
	if _, ok := project.Member(userID); !ok {
		return notFound("member")
	}

	err = s.optimisticMembers(projectID, project.Members,
		func(members []domain.Member) []domain.Member {
			next := make([]domain.Member, 0, len(members))
			for _, member := range members {
				if member.UserID != userID {
					next = append(next, member)
				}
			}
			return next
		},
		func() error { return s.store.DeleteMember(ctx, projectID, userID) },
	)
	if err != nil {
		return remote("remove member", err)
	}
	return nil
}

func (s *Service) optimisticMembers(projectID string, current []domain.Member, mutate func([]domain.Member) []domain.Member, persist func() error) error {
	write := func(members []domain.Member) {
		s.state.Apply(projectID, func(project domain.Project) domain.Project {
			project.Members = members
			return project
		})
	}
	err := state.WithOptimisticUpdate(current, write, mutate, persist)
	if err != nil {
		s.logger.Warn("member change rolled back", zap.String("project_id", projectID), zap.Error(err))
	}
	return err
}

func (s *Service) memberFromInput(ctx context.Context, projectID string, input MemberInput) (domain.Member, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		return domain.Member{}, invalid("member userId is required")
	}
	role, ok := domain.ParseKTRole(input.KTRole)
	if !ok {
		return domain.Member{}, invalid("unknown KT role " + input.KTRole)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		user, err := s.store.GetUserByID(ctx, input.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Member{}, invalid("unknown user " + input.UserID)
		}
		if err != nil {
			return domain.Member{}, remote("load user", err)
		}
		name = user.DisplayName
	}
	return domain.Member{
		ID:             util.NewID("mem"),
		ProjectID:      projectID,
		UserID:         input.UserID,
		Name:           name,
		KTRole:         role,
		FunctionalRole: input.FunctionalRole,
	}, nil
}
