package stock

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/pglock"
	domainstock "github.com/alanyang/pglock/internal/domain/stock"
	stocksvc "github.com/alanyang/pglock/internal/service/stock"
)

func Register(rg *gin.RouterGroup, svc *stocksvc.Service) {
	rg.POST("/", createStock(svc))
	rg.GET("/:sku", getStock(svc))
	rg.POST("/:sku/buy-bad", buy(svc.BuyUnsafe))
	rg.POST("/:sku/buy-row", buy(svc.BuyRowLock))
	rg.POST("/:sku/buy-safe", buy(svc.BuyKeyLock))
}

type createStockReq struct {
	SKU      string `json:"sku" binding:"required"`
	Quantity int    `json:"quantity" binding:"min=0"`
}

func createStock(svc *stocksvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createStockReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		s, err := svc.Create(c.Request.Context(), req.SKU, req.Quantity)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, s)
	}
}

func getStock(svc *stocksvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := svc.GetBySKU(c.Request.Context(), c.Param("sku"))
		if err != nil {
			if errors.Is(err, stocksvc.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown sku"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, s)
	}
}

// buy adapts the three purchase paths onto one response shape: {ok, sku,
// qty} on success, 409 for out-of-stock and for busy conflicts.
func buy(purchase func(ctx context.Context, sku string) (domainstock.Stock, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sku := c.Param("sku")
		s, err := purchase(c.Request.Context(), sku)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"ok": true, "sku": s.SKU, "qty": s.Quantity})
		case errors.Is(err, stocksvc.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown sku"})
		case errors.Is(err, stocksvc.ErrOutOfStock):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "sku": sku, "detail": "out of stock"})
		case errors.Is(err, stocksvc.ErrBusy) || errors.Is(err, pglock.ErrAcquireTimeout):
			c.JSON(http.StatusConflict, gin.H{"ok": false, "sku": sku, "detail": "busy, try again"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		}
	}
}
