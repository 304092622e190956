// Package state is the in-memory entity store. Readers always get deep
// copies; writers replace whole projects under the lock so nobody observes a
// half-applied mutation.
package state

import (
	"sync"

	"kttrack/api/internal/domain"
)

type Store struct {
	mu        sync.RWMutex
	projects  []domain.Project
	version   uint64
	listeners []func(version uint64)
}

func New() *Store {
	return &Store{projects: make([]domain.Project, 0)}
}

func (s *Store) Snapshot() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CloneProjects(s.projects)
}

func (s *Store) Project(projectID string) (domain.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, project := range s.projects {
		if project.ID == projectID {
			return project.Clone(), true
		}
	}
	return domain.Project{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.projects)
}

func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// OnChange registers fn to run after every committed write.
func (s *Store) OnChange(fn func(version uint64)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Replace swaps the whole collection, as done after a remote refetch.
func (s *Store) Replace(projects []domain.Project) {
	next := domain.CloneProjects(projects)
	if next == nil {
		next = make([]domain.Project, 0)
	}
	s.commit(func() bool {
		s.projects = next
		return true
	})
}

func (s *Store) Add(project domain.Project) {
	next := project.Clone()
	s.commit(func() bool {
		for i := range s.projects {
			if s.projects[i].ID == next.ID {
				s.projects[i] = next
				return true
			}
		}
		s.projects = append([]domain.Project{next}, s.projects...)
		return true
	})
}

func (s *Store) Remove(projectID string) bool {
	return s.commit(func() bool {
		for i := range s.projects {
			if s.projects[i].ID == projectID {
				s.projects = append(s.projects[:i:i], s.projects[i+1:]...)
				return true
			}
		}
		return false
	})
}

// Apply replaces one project with fn's result in a single write. fn receives
// a private copy. It reports false when the project is not held locally.
func (s *Store) Apply(projectID string, fn func(domain.Project) domain.Project) bool {
	return s.commit(func() bool {
		for i := range s.projects {
			if s.projects[i].ID == projectID {
				s.projects[i] = fn(s.projects[i].Clone()).Clone()
				return true
			}
		}
		return false
	})
}

func (s *Store) commit(write func() bool) bool {
	s.mu.Lock()
	changed := write()
	if changed {
		s.version++
	}
	version := s.version
	listeners := append([]func(uint64){}, s.listeners...)
	s.mu.Unlock()

	if changed {
		for _, listener := range listeners {
			listener(version)
		}
	}
	return changed
}
