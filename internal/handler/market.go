package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/GoPolymarket/feedgate/internal/market"
	"github.com/GoPolymarket/feedgate/internal/pkg/apperrors"
)

type MarketHandler struct {
	hub *market.Hub
}

func NewMarketHandler(hub *market.Hub) *MarketHandler {
	return &MarketHandler{hub: hub}
}

func (h *MarketHandler) Exchanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exchanges": h.hub.Exchanges()})
}

func (h *MarketHandler) Markets(c *gin.Context) {
	markets, err := h.hub.Markets(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": c.Param("id"), "markets": markets})
}

func (h *MarketHandler) Ticker(c *gin.Context) {
	t, err := h.hub.Ticker(c.Request.Context(), c.Param("id"), c.Query("symbol"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": c.Param("id"), "symbol": querySymbol(c), "ticker": t})
}

func (h *MarketHandler) OrderBook(c *gin.Context) {
	depth, err := queryInt(c, "depth")
	if err != nil {
		c.Error(err)
		return
	}
	book, err := h.hub.OrderBook(c.Request.Context(), c.Param("id"), c.Query("symbol"), depth)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchange": c.Param("id"), "symbol": querySymbol(c), "orderbook": book})
}

func (h *MarketHandler) OHLCV(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.Error(err)
		return
	}
	interval := c.DefaultQuery("interval", "1h")
	candles, err := h.hub.OHLCV(c.Request.Context(), c.Param("id"), c.Query("symbol"), interval, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"exchange": c.Param("id"),
		"symbol":   querySymbol(c),
		"interval": interval,
		"candles":  candles,
	})
}

func (h *MarketHandler) Feeds(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Stats())
}

func querySymbol(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
}

// queryInt reads an optional positive integer; absent means zero.
func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, apperrors.NewInvalidRequest(name + " must be a positive integer")
	}
	return n, nil
}
