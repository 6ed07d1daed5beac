package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/example/sourced-repo/internal/domain/product"
)

type ProductHandlers struct {
	products *product.Service
}

func NewProductHandlers(products *product.Service) *ProductHandlers {
	return &ProductHandlers{products: products}
}

type createProductRequest struct {
	SKU         string `json:"sku" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Price       int    `json:"price" binding:"required"`
	Stock       int    `json:"stock"`
}

type updateProductRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Price       int    `json:"price" binding:"required"`
}

type adjustStockRequest struct {
	Delta int `json:"delta" binding:"required"`
}

func (h *ProductHandlers) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.products.Create(c.Request.Context(), req.SKU, req.Name, req.Description, req.Price, req.Stock)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *ProductHandlers) GetProduct(c *gin.Context) {
	found, err := h.products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// FindProduct handles GET /products?sku=
func (h *ProductHandlers) FindProduct(c *gin.Context) {
	var query struct {
		SKU string `form:"sku" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}

	found, err := h.products.FindBySKU(c.Request.Context(), query.SKU)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *ProductHandlers) UpdateProduct(c *gin.Context) {
	var req updateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.products.Update(c.Request.Context(), c.Param("id"), req.Name, req.Description, req.Price); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Product updated"})
}

func (h *ProductHandlers) AdjustStock(c *gin.Context) {
	var req adjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	updated, err := h.products.AdjustStock(c.Request.Context(), c.Param("id"), req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *ProductHandlers) DeleteProduct(c *gin.Context) {
	if err := h.products.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
