package product

import (
	"context"
	"time"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/repository"
	"github.com/google/uuid"
)

// Watcher builds the observer attached to a product before it is mutated
type Watcher func(p *Product) entity.Observer

type Service struct {
	repo     *repository.Repository[*Product]
	watchers []Watcher
}

func NewService(repo *repository.Repository[*Product], watchers ...Watcher) *Service {
	return &Service{repo: repo, watchers: watchers}
}

// NewRepository builds the product repository with the given options
func NewRepository(opts ...repository.Option) *repository.Repository[*Product] {
	return repository.New(EntityName, Reconstruct, opts...)
}

// Create registers a product and snapshots it so it is immediately findable by SKU
func (s *Service) Create(ctx context.Context, sku, name, description string, price, stock int) (*Product, error) {
	p := &Product{}
	err := p.Create(ProductCreated{
		ProductID:   uuid.New().String(),
		SKU:         sku,
		Name:        name,
		Description: description,
		Price:       price,
		Stock:       stock,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		return nil, err
	}
	s.watch(p)

	if err := s.repo.Commit(ctx, p, repository.ForceSnapshot()); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Update(ctx context.Context, productID, name, description string, price int) error {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return err
	}
	s.watch(p)
	if err := p.Update(ProductUpdated{
		Name:        name,
		Description: description,
		Price:       price,
		UpdatedAt:   time.Now(),
	}); err != nil {
		return err
	}
	return s.repo.Commit(ctx, p)
}

func (s *Service) AdjustStock(ctx context.Context, productID string, delta int) (*Product, error) {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	s.watch(p)
	if err := p.AdjustStock(StockAdjusted{Delta: delta, AdjustedAt: time.Now()}); err != nil {
		return nil, err
	}
	if err := s.repo.Commit(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, productID string) error {
	p, err := s.Get(ctx, productID)
	if err != nil {
		return err
	}
	s.watch(p)
	if err := p.Delete(ProductDeleted{DeletedAt: time.Now()}); err != nil {
		return err
	}
	return s.repo.Commit(ctx, p, repository.ForceSnapshot())
}

func (s *Service) Get(ctx context.Context, productID string) (*Product, error) {
	p, err := s.repo.Load(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Version == 0 {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// FindBySKU resolves a product through the sku snapshot index
func (s *Service) FindBySKU(ctx context.Context, sku string) (*Product, error) {
	p, found, err := s.repo.LoadByIndex(ctx, SKUIndex, sku)
	if err != nil {
		return nil, err
	}
	if !found || p.IsDeleted {
		return nil, ErrProductNotFound
	}
	return p, nil
}

func (s *Service) watch(p *Product) {
	for _, w := range s.watchers {
		p.OnAny(w(p))
	}
}
