package cache

import (
	"math"

	"github.com/erain9/mbocache/pkg/core"
)

// Exists reports whether a price level exists
func (c *Cache) Exists(side core.Side, price float64) bool {
	_, found := c.FindIndex(side, price)
	return found
}

// FindIndex returns the 0-based rank of the price level (best is 0)
func (c *Cache) FindIndex(side core.Side, price float64) (int, bool) {
	b := c.book(side)
	if b == nil {
		return 0, false
	}
	p, ok := c.prices.toInt(price)
	if !ok {
		return 0, false
	}
	return b.search(p)
}

// TotalQuantity returns the aggregated quantity at price, NaN when the level does not exist
func (c *Cache) TotalQuantity(side core.Side, price float64) float64 {
	b := c.book(side)
	if b == nil {
		return math.NaN()
	}
	p, ok := c.prices.toInt(price)
	if !ok {
		return math.NaN()
	}
	lvl := b.level(p)
	if lvl == nil {
		return math.NaN()
	}
	return c.quantities.totalToFloat(lvl.total)
}

// AccumulatedQuantity returns the quantity between best and price (inclusive
// unless excludingPrice), NaN when the level does not exist
func (c *Cache) AccumulatedQuantity(side core.Side, price float64, excludingPrice bool) float64 {
	b := c.book(side)
	if b == nil {
		return math.NaN()
	}
	p, ok := c.prices.toInt(price)
	if !ok {
		return math.NaN()
	}
	sum, found := b.accumulated(p, excludingPrice)
	if !found {
		return math.NaN()
	}
	return c.quantities.totalToFloat(sum)
}

// FindOrder returns a resident order
func (c *Cache) FindOrder(side core.Side, orderID string) (core.MBOUpdate, bool) {
	b := c.book(side)
	if b == nil {
		return core.MBOUpdate{}, false
	}
	rec, ok := b.lookup(orderID)
	if !ok {
		return core.MBOUpdate{}, false
	}
	return c.toUpdate(rec, core.ActionNew), true
}

// QueuePosition returns the order's quantity, the quantity ahead of it and the
// level total. All fields are NaN when the order is not found.
func (c *Cache) QueuePosition(side core.Side, orderID string) core.Position {
	b := c.book(side)
	if b == nil {
		return core.NotFoundPosition()
	}
	rec, before, lvl, ok := b.queuePosition(orderID)
	if !ok {
		return core.NotFoundPosition()
	}
	return core.Position{
		Quantity: c.quantities.toFloat(rec.quantity),
		Before:   c.quantities.totalToFloat(before),
		Total:    c.quantities.totalToFloat(lvl.total),
	}
}

// ExtractOrders returns every resident order as an add, best level first and
// FIFO within a level. maxDepth == 0 means all levels.
func (c *Cache) ExtractOrders(maxDepth int) (bids, asks []core.MBOUpdate) {
	return c.extractSide(c.bids, maxDepth), c.extractSide(c.asks, maxDepth)
}

func (c *Cache) extractSide(b *sideBook, maxDepth int) []core.MBOUpdate {
	levels := b.levels[:b.depthLimit(maxDepth)]
	n := 0
	for _, lvl := range levels {
		n += lvl.count
	}
	result := make([]core.MBOUpdate, 0, n)
	for _, lvl := range levels {
		result = c.appendLevel(result, b, lvl)
	}
	return result
}

// ExtractOrdersAt returns all orders at one price level in FIFO order
func (c *Cache) ExtractOrdersAt(side core.Side, price float64) []core.MBOUpdate {
	b := c.book(side)
	if b == nil {
		return []core.MBOUpdate{}
	}
	p, ok := c.prices.toInt(price)
	if !ok {
		return []core.MBOUpdate{}
	}
	lvl := b.level(p)
	if lvl == nil {
		return []core.MBOUpdate{}
	}
	return c.appendLevel(make([]core.MBOUpdate, 0, lvl.count), b, lvl)
}

func (c *Cache) appendLevel(dst []core.MBOUpdate, b *sideBook, lvl *priceLevel) []core.MBOUpdate {
	lvl.each(&b.orders, func(_ int32, rec *orderRecord) bool {
		dst = append(dst, c.toUpdate(rec, core.ActionNew))
		return true
	})
	return dst
}

// ExtractLayers returns the aggregated depth per side. Quantities saturate to
// +Inf when the internal accumulator overflows.
func (c *Cache) ExtractLayers(maxDepth int) (bids, asks []core.Layer) {
	return c.layers(c.bids, maxDepth), c.layers(c.asks, maxDepth)
}

func (c *Cache) layers(b *sideBook, maxDepth int) []core.Layer {
	levels := b.levels[:b.depthLimit(maxDepth)]
	result := make([]core.Layer, len(levels))
	for i, lvl := range levels {
		result[i] = core.Layer{
			Price:    c.prices.toFloat(lvl.price),
			Quantity: c.quantities.totalToFloat(lvl.total),
		}
	}
	return result
}

// CreateSnapshot exports the full book as a snapshot update carrying the
// current metadata and checksum
func (c *Cache) CreateSnapshot() *core.MarketByOrderUpdate {
	bids, asks := c.ExtractOrders(0)
	return &core.MarketByOrderUpdate{
		StreamID:         c.streamID,
		Exchange:         c.exchange,
		Symbol:           c.symbol,
		Bids:             bids,
		Asks:             asks,
		UpdateType:       core.UpdateTypeSnapshot,
		ExchangeTimeUTC:  c.exchangeTimeUTC,
		ExchangeSequence: c.exchangeSequence,
		PriceDecimals:    c.priceDecimals,
		QuantityDecimals: c.quantityDecimals,
		MaxDepth:         c.maxDepth,
		Checksum:         c.checksum,
	}
}

// ReferenceData returns the current configuration
func (c *Cache) ReferenceData() core.ReferenceData {
	return core.ReferenceData{
		StreamID:          c.streamID,
		Exchange:          c.exchange,
		Symbol:            c.symbol,
		MaxDepth:          c.maxDepth,
		PriceIncrement:    c.priceIncrement,
		QuantityIncrement: c.quantityIncrement,
		PriceDecimals:     c.priceDecimals,
		QuantityDecimals:  c.quantityDecimals,
	}
}

func (c *Cache) toUpdate(rec *orderRecord, action core.UpdateAction) core.MBOUpdate {
	return core.MBOUpdate{
		Price:    c.prices.toFloat(rec.price),
		Quantity: c.quantities.toFloat(rec.quantity),
		Priority: rec.priority,
		OrderID:  rec.id,
		Action:   action,
	}
}
