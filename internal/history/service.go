// Package history keeps every saved section body in a git repository per
// project, one file per section, so earlier versions can be listed and read.
package history

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/state"
)

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	locks   *state.Locks
}

func New(baseDir string) *Service {
	return &Service{baseDir: baseDir, locks: state.NewLocks()}
}

// Record commits the section's current content. It reports false when the
// content is identical to the last recorded version.
func (s *Service) Record(projectID string, section domain.Section, author string) (Revision, bool, error) {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	repo, err := s.openOrInit(projectID)
	if err != nil {
		return Revision{}, false, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Revision{}, false, fmt.Errorf("open worktree: %w", err)
	}

	file := sectionFile(section.ID)
	full := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(file))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Revision{}, false, fmt.Errorf("create sections dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(section.Content), 0o644); err != nil {
		return Revision{}, false, fmt.Errorf("write section file: %w", err)
	}
	if _, err := worktree.Add(file); err != nil {
		return Revision{}, false, fmt.Errorf("git add section: %w", err)
	}

	message := fmt.Sprintf("%s [%s]", section.Title, section.Status)
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@kt.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return Revision{}, false, nil
	}
	if err != nil {
		return Revision{}, false, fmt.Errorf("commit section: %w", err)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commit), true, nil
}

// SectionHistory lists revisions touching one section, newest first. A
// project without recorded content has an empty history.
func (s *Service) SectionHistory(projectID, sectionID string, limit int) ([]Revision, error) {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	items := make([]Revision, 0)
	repo, err := git.PlainOpen(s.repoPath(projectID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	file := sectionFile(sectionID)
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &file})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(commit *object.Commit) error {
		items = append(items, toRevision(commit))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ContentAt returns the section body as of revision hash.
func (s *Service) ContentAt(projectID, sectionID, hash string) (string, error) {
	unlock := s.locks.Lock(projectID)
	defer unlock()

	repo, err := git.PlainOpen(s.repoPath(projectID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	commit, err := repo.CommitObject(*resolved)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commit.File(sectionFile(sectionID))
	if err != nil {
		return "", fmt.Errorf("load section at %s: %w", hash, err)
	}
	return file.Contents()
}

// RemoveProject deletes the project's repository.
func (s *Service) RemoveProject(projectID string) error {
	unlock := s.locks.Lock(projectID)
	defer unlock()
	if err := os.RemoveAll(s.repoPath(projectID)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(projectID string) (*git.Repository, error) {
	repoPath := s.repoPath(projectID)
	repo, err := git.PlainOpen(repoPath)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(repoPath, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(repoPath, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) repoPath(projectID string) string {
	return filepath.Join(s.baseDir, filepath.Base(projectID))
}

func sectionFile(sectionID string) string {
	return path.Join("sections", path.Base(sectionID)+".md")
}

func toRevision(commit *object.Commit) Revision {
	return Revision{
		Hash:      commit.Hash.String()[:7],
		Message:   commit.Message,
		Author:    commit.Author.Name,
		CreatedAt: commit.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
