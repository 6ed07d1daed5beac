package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/sourced-repo/internal/domain/counter"
	"github.com/example/sourced-repo/internal/domain/product"
	"github.com/example/sourced-repo/internal/repository"
)

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

func healthHandler(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	}
}

// respondError maps domain and repository errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	status, kind := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, counter.ErrCounterNotFound), errors.Is(err, product.ErrProductNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, counter.ErrInvalidAmount),
		errors.Is(err, counter.ErrInvalidID),
		errors.Is(err, product.ErrInvalidName),
		errors.Is(err, product.ErrInvalidPrice),
		errors.Is(err, product.ErrInvalidSKU),
		errors.Is(err, product.ErrInsufficientStock),
		errors.Is(err, repository.ErrMissingIdentifier):
		status, kind = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, product.ErrProductDeleted), errors.Is(err, product.ErrProductExists):
		status, kind = http.StatusConflict, "conflict"
	case errors.Is(err, repository.ErrConcurrentModification):
		status, kind = http.StatusConflict, "concurrent_modification"
	case errors.Is(err, repository.ErrNotInitialized), errors.Is(err, repository.ErrConfiguration):
		status, kind = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, repository.ErrStorageRead), errors.Is(err, repository.ErrStorageWrite):
		status, kind = http.StatusBadGateway, "storage_error"
	}

	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, ErrorResponse{Error: kind, Message: err.Error()})
}

// bindOptionalJSON binds the request body when there is one
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
}

// Counter Handlers

type CounterHandlers struct {
	counters *counter.Service
}

func NewCounterHandlers(counters *counter.Service) *CounterHandlers {
	return &CounterHandlers{counters: counters}
}

type createCounterRequest struct {
	Owner string `json:"owner"`
}

type incrementRequest struct {
	By *int `json:"by"`
}

func (h *CounterHandlers) CreateCounter(c *gin.Context) {
	var req createCounterRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}

	created, err := h.counters.Create(c.Request.Context(), req.Owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *CounterHandlers) GetCounter(c *gin.Context) {
	found, err := h.counters.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// FindCounter handles GET /counters?owner=
func (h *CounterHandlers) FindCounter(c *gin.Context) {
	var query struct {
		Owner string `form:"owner" binding:"required"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}

	found, err := h.counters.FindByOwner(c.Request.Context(), query.Owner)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// IncrementCounter handles POST /counters/:id/increment; "by" defaults to 1
func (h *CounterHandlers) IncrementCounter(c *gin.Context) {
	var req incrementRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	by := 1
	if req.By != nil {
		by = *req.By
	}

	updated, err := h.counters.Increment(c.Request.Context(), c.Param("id"), by)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}
