package product

import "time"

// Method names recorded on product events
const (
	MethodCreate      = "create"
	MethodUpdate      = "update"
	MethodAdjustStock = "adjustStock"
	MethodDelete      = "delete"
)

// Notifications emitted after a successful commit
const (
	NotificationCreated       = "productCreated"
	NotificationStockDepleted = "stockDepleted"
	NotificationDeleted       = "productDeleted"
)

type ProductCreated struct {
	ProductID   string    `json:"product_id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

type ProductUpdated struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       int       `json:"price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StockAdjusted carries a signed change to the stock level
type StockAdjusted struct {
	Delta      int       `json:"delta"`
	AdjustedAt time.Time `json:"adjusted_at"`
}

type ProductDeleted struct {
	DeletedAt time.Time `json:"deleted_at"`
}
