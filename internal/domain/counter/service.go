package counter

import (
	"context"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/repository"
	"github.com/google/uuid"
)

// Watcher builds the observer attached to a counter before it is mutated
type Watcher func(c *Counter) entity.Observer

type Service struct {
	repo     *repository.Repository[*Counter]
	watchers []Watcher
}

// NewService wires the counter repository. Watchers observe every counter the
// service mutates and see its notifications after commit.
func NewService(repo *repository.Repository[*Counter], watchers ...Watcher) *Service {
	return &Service{repo: repo, watchers: watchers}
}

// NewRepository builds the counter repository with the given options
func NewRepository(opts ...repository.Option) *repository.Repository[*Counter] {
	return repository.New(EntityName, Reconstruct, opts...)
}

// Create starts a new counter. It is snapshotted immediately so it can be
// found by owner straight away.
func (s *Service) Create(ctx context.Context, owner string) (*Counter, error) {
	c := New()
	if err := c.Init(uuid.New().String(), owner); err != nil {
		return nil, err
	}
	s.watch(c)

	if err := s.repo.Commit(ctx, c, repository.ForceSnapshot()); err != nil {
		return nil, err
	}
	return c, nil
}

// Increment adds by to the counter, using a single increment when by is 1
func (s *Service) Increment(ctx context.Context, id string, by int) (*Counter, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.watch(c)

	if by == 1 {
		err = c.Increment()
	} else {
		err = c.Add(by)
	}
	if err != nil {
		return nil, err
	}

	if err := s.repo.Commit(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Counter, error) {
	c, err := s.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Version == 0 {
		return nil, ErrCounterNotFound
	}
	return c, nil
}

func (s *Service) FindByOwner(ctx context.Context, owner string) (*Counter, error) {
	c, found, err := s.repo.LoadByIndex(ctx, OwnerIndex, owner)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrCounterNotFound
	}
	return c, nil
}

func (s *Service) watch(c *Counter) {
	for _, w := range s.watchers {
		c.OnAny(w(c))
	}
}
