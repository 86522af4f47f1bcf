package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/erain9/mbocache/pkg/cache"
	"github.com/erain9/mbocache/pkg/codec"
	"github.com/erain9/mbocache/pkg/core"
	"github.com/erain9/mbocache/pkg/logging"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// DefaultDepth is the number of levels returned when depth is not requested
const DefaultDepth = cache.ChecksumDepth

// layerView is a price level with exact decimal strings
type layerView struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
}

// depthView is the aggregated top of book for one instrument
type depthView struct {
	Exchange         string      `json:"exchange"`
	Symbol           string      `json:"symbol"`
	ExchangeSequence int64       `json:"exchange_sequence"`
	Checksum         uint32      `json:"checksum"`
	Bids             []layerView `json:"bids"`
	Asks             []layerView `json:"asks"`
}

// orderView is a resident order and its queue position
type orderView struct {
	OrderID  string `json:"order_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Priority uint64 `json:"priority"`
	Before   string `json:"quantity_before"`
	Level    string `json:"level_quantity"`
}

type handler struct {
	manager *CacheManager
}

// NewHTTPHandler serves read-only views of the caches held by manager
func NewHTTPHandler(manager *CacheManager) http.Handler {
	h := &handler{manager: manager}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mbo-cache"))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	books := router.Group("/books")
	{
		books.GET("", h.handleListBooks)
		books.GET("/:exchange/:symbol", h.handleGetBook)
		books.GET("/:exchange/:symbol/depth", h.handleGetDepth)
		books.GET("/:exchange/:symbol/orders/:side/:id", h.handleGetOrder)
	}

	return logging.HTTPMiddleware(router)
}

func instrumentKey(c *gin.Context) string {
	return core.InstrumentKey(c.Param("exchange"), c.Param("symbol"))
}

func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, ErrCacheNotFound) {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handler) handleListBooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"books": h.manager.List(c.Request.Context())})
}

func (h *handler) handleGetBook(c *gin.Context) {
	info, err := h.manager.Get(c.Request.Context(), instrumentKey(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handler) handleGetDepth(c *gin.Context) {
	depth := DefaultDepth
	if s := c.Query("depth"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
			return
		}
		depth = n
	}

	var view depthView
	err := h.manager.View(c.Request.Context(), instrumentKey(c), func(b *cache.Cache) error {
		bids, asks := b.ExtractLayers(depth)
		view = depthView{
			Exchange:         b.Exchange(),
			Symbol:           b.Symbol(),
			ExchangeSequence: b.ExchangeSequence(),
			Checksum:         b.Checksum(),
			Bids:             layerViews(bids, b.PriceDecimals(), b.QuantityDecimals()),
			Asks:             layerViews(asks, b.PriceDecimals(), b.QuantityDecimals()),
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handler) handleGetOrder(c *gin.Context) {
	side, err := core.ParseSide(c.Param("side"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")

	var (
		view  orderView
		found bool
	)
	err = h.manager.View(c.Request.Context(), instrumentKey(c), func(b *cache.Cache) error {
		order, ok := b.FindOrder(side, id)
		if !ok {
			return nil
		}
		pos := b.QueuePosition(side, id)
		found = true
		view = orderView{
			OrderID:  order.OrderID,
			Side:     side.String(),
			Price:    codec.FormatNumber(order.Price, b.PriceDecimals()),
			Quantity: codec.FormatNumber(order.Quantity, b.QuantityDecimals()),
			Priority: order.Priority,
			Before:   codec.FormatNumber(pos.Before, b.QuantityDecimals()),
			Level:    codec.FormatNumber(pos.Total, b.QuantityDecimals()),
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func layerViews(layers []core.Layer, priceDecimals, quantityDecimals core.Decimals) []layerView {
	result := make([]layerView, len(layers))
	for i, l := range layers {
		result[i] = layerView{
			Price:    codec.FormatNumber(l.Price, priceDecimals),
			Quantity: codec.FormatNumber(l.Quantity, quantityDecimals),
		}
	}
	return result
}
