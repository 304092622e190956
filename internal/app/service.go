package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"kttrack/api/internal/blob"
	"kttrack/api/internal/domain"
	"kttrack/api/internal/history"
	"kttrack/api/internal/notify"
	"kttrack/api/internal/progress"
	"kttrack/api/internal/rbac"
	"kttrack/api/internal/report"
	"kttrack/api/internal/search"
	"kttrack/api/internal/state"
)

type dataStore interface {
	Ping(context.Context) error
	InsertProject(context.Context, domain.Project) (domain.Project, error)
	UpdateProjectProgress(context.Context, string, int, domain.ProjectStatus) error
	UpdateProjectStatus(context.Context, string, domain.ProjectStatus) error
	DeleteProject(context.Context, string) error
	InsertMember(context.Context, domain.Member) error
	UpdateMember(context.Context, domain.Member) error
	DeleteMember(context.Context, string, string) error
	InsertSection(context.Context, domain.Section) error
	UpdateSectionStatus(context.Context, string, domain.SectionStatus, *string) error
	AssignSection(context.Context, string, *string) error
	DeleteSection(context.Context, string) error
	InsertAttachment(context.Context, domain.Attachment) (domain.Attachment, error)
	DeleteAttachment(context.Context, string) error
	InsertComment(context.Context, domain.Comment) (domain.Comment, error)
	ListTemplates(context.Context) ([]domain.Template, error)
	GetTemplate(context.Context, string) (domain.Template, error)
	InsertTemplate(context.Context, domain.Template) (domain.Template, error)
	UpdateTemplate(context.Context, domain.Template) error
	DeleteTemplate(context.Context, string) error
	ListUsers(context.Context) ([]domain.User, error)
	GetUserByID(context.Context, string) (domain.User, error)
	GetUserByUsername(context.Context, string) (domain.User, error)
	InsertUser(context.Context, domain.User) (domain.User, error)
	UpdateUser(context.Context, domain.User) error
	DeactivateUser(context.Context, string) error
}

type searchIndex interface {
	Search(search.Query) search.Response
	IndexProject(domain.Project)
	DeleteProject(string, []string)
	DeleteSection(string)
}

type revisionLog interface {
	Record(string, domain.Section, string) (history.Revision, bool, error)
	SectionHistory(string, string, int) ([]history.Revision, error)
	RemoveProject(string) error
}

type mailer interface {
	IsConfigured() bool
	Send(notify.Message) error
}

type blobStore interface {
	Put(context.Context, string, io.Reader, int64, string) (blob.Object, error)
	Remove(context.Context, string) error
	PresignedURL(context.Context, string, time.Duration) (string, error)
}

type reportRenderer interface {
	HTML(domain.Project) (report.Result, error)
	PDF(context.Context, domain.Project) (report.Result, error)
}

// Deps lists what the coordinator talks to. Store and State are required,
// everything else may be left nil and the matching feature is skipped.
type Deps struct {
	Store   dataStore
	State   *state.Store
	Search  searchIndex
	History revisionLog
	Mailer  mailer
	Blobs   blobStore
	Reports reportRenderer
	Logger  *zap.Logger
}

// Viewer is the signed-in user an operation runs on behalf of.
type Viewer struct {
	UserID string
	Name   string
	Role   domain.AppRole
}

// Service is the mutation coordinator: every state-changing operation goes
// through it, persisting first and publishing to the local state second.
type Service struct {
	store   dataStore
	state   *state.Store
	locks   *state.Locks
	search  searchIndex
	history revisionLog
	mailer  mailer
	blobs   blobStore
	reports reportRenderer
	logger  *zap.Logger
}

func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   deps.Store,
		state:   deps.State,
		locks:   state.NewLocks(),
		search:  deps.Search,
		history: deps.History,
		mailer:  deps.Mailer,
		blobs:   deps.Blobs,
		reports: deps.Reports,
		logger:  logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) ListProjects(viewer Viewer) []domain.Project {
	projects := s.state.Snapshot()
	visible := make([]domain.Project, 0, len(projects))
	for _, project := range projects {
		if rbac.CanSee(viewer.Role, viewer.UserID, project) {
			visible = append(visible, project)
		}
	}
	return visible
}

func (s *Service) GetProject(viewer Viewer, projectID string) (domain.Project, error) {
	return s.visibleProject(viewer, projectID)
}

func (s *Service) Search(viewer Viewer, text string, filter search.ResultType, limit int) search.Response {
	q := search.Query{Text: text, FilterType: filter, Limit: limit}
	if viewer.Role != domain.AppRoleAdmin {
		q.ProjectIDs = []string{}
		for _, project := range s.ListProjects(viewer) {
			q.ProjectIDs = append(q.ProjectIDs, project.ID)
		}
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(q)
}

func (s *Service) SectionHistory(viewer Viewer, projectID, sectionID string, limit int) ([]history.Revision, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := sectionOf(project, sectionID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []history.Revision{}, nil
	}
	revisions, err := s.history.SectionHistory(projectID, sectionID, limit)
	if err != nil {
		return nil, remote("read section history", err)
	}
	return revisions, nil
}

// ProjectReport renders the progress report as PDF, or as HTML when asked
// for it.
func (s *Service) ProjectReport(ctx context.Context, viewer Viewer, projectID string, html bool) (report.Result, error) {
	project, err := s.visibleProject(viewer, projectID)
	if err != nil {
		return report.Result{}, err
	}
	if s.reports == nil {
		return report.Result{}, domainError(http.StatusServiceUnavailable, CodeRemoteUnavailable, "Reports are not configured", nil)
	}
	if html {
		return s.reports.HTML(project)
	}
	result, err := s.reports.PDF(ctx, project)
	if err != nil {
		s.logger.Warn("report rendering failed", zap.String("project_id", projectID), zap.Error(err))
		return report.Result{}, remote("render report", err)
	}
	return result, nil
}

func (s *Service) visibleProject(viewer Viewer, projectID string) (domain.Project, error) {
	project, ok := s.state.Project(projectID)
	if !ok {
		return domain.Project{}, notFound("project")
	}
	if !rbac.CanSee(viewer.Role, viewer.UserID, project) {
		return domain.Project{}, forbidden()
	}
	return project, nil
}

func (s *Service) managedProject(viewer Viewer, projectID string) (domain.Project, error) {
	project, ok := s.state.Project(projectID)
	if !ok {
		return domain.Project{}, notFound("project")
	}
	if !rbac.CanManage(viewer.Role, viewer.UserID, project) {
		return domain.Project{}, forbidden()
	}
	return project, nil
}

func sectionOf(project domain.Project, sectionID string) (domain.Section, error) {
	i := project.SectionIndex(sectionID)
	if i < 0 {
		return domain.Section{}, notFound("section")
	}
	return project.Sections[i], nil
}

// commit is the second half of every section mutation, run after the section
// change itself was persisted. It recomputes progress from the locally held
// sections, persists the project fields when they moved and then publishes
// section and project in one state write.
func (s *Service) commit(ctx context.Context, projectID string, change progress.Change) (domain.Project, error) {
	unlock := s.locks.Lock("project:" + projectID)
	defer unlock()

	project, ok := s.state.Project(projectID)
	if !ok {
		return domain.Project{}, notFound("project")
	}
	next := progress.NextSections(project.Sections, change)
	result := progress.Compute(next, project.Status)
	if result.Changed(project) {
		if err := s.store.UpdateProjectProgress(ctx, projectID, result.Completion, result.NextStatus); err != nil {
			s.logger.Error("project progress not persisted",
				zap.String("project_id", projectID),
				zap.Int("completion", result.Completion),
				zap.Error(err),
			)
			return domain.Project{}, remote("update project progress", err)
		}
	}

	var updated domain.Project
	s.state.Apply(projectID, func(current domain.Project) domain.Project {
		current.Sections = progress.NextSections(current.Sections, change)
		r := progress.Compute(current.Sections, current.Status)
		current.Completion = r.Completion
		current.Status = r.NextStatus
		updated = current
		return current
	})
	if s.search != nil {
		s.search.IndexProject(updated)
	}
	return updated, nil
}

// authorName prefers the name the user carries inside the project.
func authorName(project domain.Project, viewer Viewer) string {
	if member, ok := project.Member(viewer.UserID); ok && member.Name != "" {
		return member.Name
	}
	return viewer.Name
}
