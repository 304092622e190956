package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"kttrack/api/internal/domain"
	"kttrack/api/internal/state"
	"kttrack/api/internal/store"
)

type Source interface {
	ListProjects(ctx context.Context) ([]domain.Project, error)
}

type Snapshots interface {
	Save(ctx context.Context, projects []domain.Project) error
	Load(ctx context.Context) ([]domain.Project, error)
}

type Indexer interface {
	ReindexAll(projects []domain.Project)
}

// Syncer replaces local state wholesale from the remote store. A refresh
// that fails leaves state untouched.
type Syncer struct {
	source     Source
	state      *state.Store
	snapshots  Snapshots
	index      Indexer
	logger     *zap.Logger
	quiet      time.Duration
	newBackOff func() backoff.BackOff
}

func NewSyncer(source Source, st *state.Store, snapshots Snapshots, index Indexer, logger *zap.Logger) *Syncer {
	return &Syncer{
		source:    source,
		state:     st,
		snapshots: snapshots,
		index:     index,
		logger:    logger,
		quiet:     200 * time.Millisecond,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxInterval = 30 * time.Second
			return backoff.WithMaxRetries(b, 5)
		},
	}
}

// Load performs the initial fetch. When the remote store is unreachable and
// nothing is loaded yet, the last cached snapshot is served instead.
func (s *Syncer) Load(ctx context.Context) error {
	err := s.Refresh(ctx)
	if err == nil {
		return nil
	}
	if s.state.Len() > 0 || s.snapshots == nil {
		return err
	}
	cached, cacheErr := s.snapshots.Load(ctx)
	if cacheErr != nil {
		return errors.Join(err, cacheErr)
	}
	s.state.Replace(cached)
	s.logger.Warn("serving cached project snapshot", zap.Int("projects", len(cached)), zap.Error(err))
	return nil
}

// Refresh fetches every project once and replaces local state.
func (s *Syncer) Refresh(ctx context.Context) error {
	projects, err := s.source.ListProjects(ctx)
	if err != nil {
		return err
	}
	s.state.Replace(projects)
	if s.snapshots != nil {
		if err := s.snapshots.Save(ctx, projects); err != nil {
			s.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}
	if s.index != nil {
		s.index.ReindexAll(projects)
	}
	return nil
}

func (s *Syncer) refreshWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error {
		err := s.Refresh(ctx)
		if err != nil {
			s.logger.Warn("refetch failed", zap.Error(err))
		}
		return err
	}, backoff.WithContext(s.newBackOff(), ctx))
}

// Relevant reports whether a change event should trigger a refetch.
func Relevant(event store.ChangeEvent) bool {
	switch event.Table {
	case store.TableProjects, store.TableProjectMembers, store.TableSections:
		return true
	}
	return false
}

// Run consumes change events until ctx is done or events is closed. Events
// arriving within the quiet period of each other collapse into one refetch.
func (s *Syncer) Run(ctx context.Context, events <-chan store.ChangeEvent) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if !Relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(s.quiet)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.quiet)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := s.refreshWithRetry(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("giving up on refetch, keeping current state", zap.Error(err))
			}
		}
	}
}
