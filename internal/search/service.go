package search

import (
	"go.uber.org/zap"

	"kttrack/api/internal/domain"
)

// remote is the Meilisearch side of the service.
type remote interface {
	Searcher
	IndexProjects(projects []ProjectRecord) error
	IndexSections(sections []SectionRecord) error
	DeleteProject(projectID string, sectionIDs []string) error
	DeleteSection(sectionID string) error
}

// Service tries Meilisearch first and falls back to the local snapshot.
type Service struct {
	meili  remote
	local  Searcher
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, local Searcher, logger *zap.Logger) *Service {
	s := &Service{local: local, logger: logger}
	if meili != nil {
		s.meili = meili
	}
	return s
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to local search", zap.Error(err))
	}

	results, total, err := s.local.Search(q)
	if err != nil {
		s.logger.Error("local search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project and its sections (fire-and-forget).
func (s *Service) IndexProject(project domain.Project) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	projects, sections := records([]domain.Project{project})
	go s.push(projects, sections)
}

// DeleteProject drops a project and the given sections (fire-and-forget).
func (s *Service) DeleteProject(projectID string, sectionIDs []string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProject(projectID, sectionIDs); err != nil {
			s.logger.Warn("search delete project", zap.String("project_id", projectID), zap.Error(err))
		}
	}()
}

func (s *Service) DeleteSection(sectionID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteSection(sectionID); err != nil {
			s.logger.Warn("search delete section", zap.String("section_id", sectionID), zap.Error(err))
		}
	}()
}

// ReindexAll pushes every project synchronously. Called after a full refetch.
func (s *Service) ReindexAll(all []domain.Project) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.push(records(all))
}

func (s *Service) push(projects []ProjectRecord, sections []SectionRecord) {
	if err := s.meili.IndexProjects(projects); err != nil {
		s.logger.Warn("search index projects", zap.Int("count", len(projects)), zap.Error(err))
	}
	if err := s.meili.IndexSections(sections); err != nil {
		s.logger.Warn("search index sections", zap.Int("count", len(sections)), zap.Error(err))
	}
}

func records(all []domain.Project) ([]ProjectRecord, []SectionRecord) {
	projects := make([]ProjectRecord, 0, len(all))
	var sections []SectionRecord
	for _, project := range all {
		projects = append(projects, ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			ProjectID:   project.ID,
			Status:      string(project.Status),
			ManagerName: project.ManagerName,
		})
		for _, section := range project.Sections {
			sections = append(sections, SectionRecord{
				ID:          section.ID,
				Title:       section.Title,
				Description: section.Description,
				Content:     section.Content,
				ProjectID:   project.ID,
				ProjectName: project.Name,
				Status:      string(section.Status),
			})
		}
	}
	return projects, sections
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
