package product

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/sourced-repo/internal/domain/entity"
	"github.com/example/sourced-repo/internal/infrastructure/store"
)

const EntityName = "Product"

// SKUIndex is the snapshot attribute products can be looked up by
const SKUIndex = "sku"

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInvalidPrice      = errors.New("price must be positive")
	ErrInvalidName       = errors.New("name is required")
	ErrInvalidSKU        = errors.New("sku is required")
	ErrProductDeleted    = errors.New("product is deleted")
	ErrProductExists     = errors.New("product already exists")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnknownMethod     = errors.New("unknown product method")
)

type Product struct {
	entity.Entity
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	Stock       int       `json:"stock"`
	IsDeleted   bool      `json:"is_deleted,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Reconstruct rebuilds a product from its latest snapshot and later events
func Reconstruct(snapshot *store.Snapshot, events []store.Event) (*Product, error) {
	p := &Product{}
	if err := p.Restore(snapshot, p); err != nil {
		return nil, err
	}
	if err := p.Replay(events, p.apply); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Product) Create(data ProductCreated) error {
	if p.Version > 0 && !p.Replaying() {
		return ErrProductExists
	}
	if data.SKU == "" {
		return ErrInvalidSKU
	}
	if data.Name == "" {
		return ErrInvalidName
	}
	if data.Price <= 0 {
		return ErrInvalidPrice
	}

	p.ID = data.ProductID
	p.SKU = data.SKU
	p.Name = data.Name
	p.Description = data.Description
	p.Price = data.Price
	p.Stock = data.Stock
	p.CreatedAt = data.CreatedAt
	p.UpdatedAt = data.CreatedAt
	if err := p.Digest(MethodCreate, data); err != nil {
		return err
	}
	p.Enqueue(NotificationCreated, p.ID, p.SKU)
	return nil
}

func (p *Product) Update(data ProductUpdated) error {
	if p.IsDeleted {
		return ErrProductDeleted
	}
	if data.Name == "" {
		return ErrInvalidName
	}
	if data.Price <= 0 {
		return ErrInvalidPrice
	}

	p.Name = data.Name
	p.Description = data.Description
	p.Price = data.Price
	p.UpdatedAt = data.UpdatedAt
	return p.Digest(MethodUpdate, data)
}

// AdjustStock changes the stock level by a signed delta. Reaching zero
// queues a stockDepleted notification.
func (p *Product) AdjustStock(data StockAdjusted) error {
	if p.IsDeleted {
		return ErrProductDeleted
	}
	if p.Stock+data.Delta < 0 {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientStock, p.Stock, -data.Delta)
	}

	p.Stock += data.Delta
	p.UpdatedAt = data.AdjustedAt
	if err := p.Digest(MethodAdjustStock, data); err != nil {
		return err
	}
	if p.Stock == 0 && data.Delta < 0 {
		p.Enqueue(NotificationStockDepleted, p.ID, p.SKU)
	}
	return nil
}

func (p *Product) Delete(data ProductDeleted) error {
	if p.IsDeleted {
		return ErrProductDeleted
	}
	p.IsDeleted = true
	p.UpdatedAt = data.DeletedAt
	if err := p.Digest(MethodDelete, data); err != nil {
		return err
	}
	p.Enqueue(NotificationDeleted, p.ID)
	return nil
}

func (p *Product) Snapshot() (store.Snapshot, error) {
	return p.TakeSnapshot(p)
}

func (p *Product) apply(event store.Event) error {
	switch event.Method {
	case MethodCreate:
		var data ProductCreated
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		return p.Create(data)
	case MethodUpdate:
		var data ProductUpdated
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		return p.Update(data)
	case MethodAdjustStock:
		var data StockAdjusted
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		return p.AdjustStock(data)
	case MethodDelete:
		var data ProductDeleted
		if err := entity.DecodeData(event, &data); err != nil {
			return err
		}
		return p.Delete(data)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMethod, event.Method)
	}
}
