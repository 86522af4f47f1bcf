// Package cache maintains a live market-by-order book for one instrument.
//
// A Cache has a single writer: the feed path for its instrument applies
// updates in increasing exchange sequence order. It does no locking; readers
// must be fenced behind the writer (see server.CacheManager).
package cache

import (
	"fmt"
	"math"
	"time"

	"github.com/erain9/mbocache/pkg/core"
)

// Cache is the order book cache for one instrument
type Cache struct {
	exchange          string
	symbol            string
	maxDepth          int
	priceIncrement    float64
	quantityIncrement float64
	priceDecimals     core.Decimals
	quantityDecimals  core.Decimals
	prices            scale
	quantities        scale

	streamID         uint16
	exchangeTimeUTC  time.Duration
	exchangeSequence int64
	checksum         uint32

	priority uint64
	bids     *sideBook
	asks     *sideBook
}

// New creates an empty cache for exchange and symbol with unbounded depth
func New(exchange, symbol string) *Cache {
	return &Cache{
		exchange:          exchange,
		symbol:            symbol,
		priceIncrement:    math.NaN(),
		quantityIncrement: math.NaN(),
		priceDecimals:     core.DecimalsUndefined,
		quantityDecimals:  core.DecimalsUndefined,
		prices:            newPriceScale(math.NaN()),
		quantities:        newQuantityScale(math.NaN()),
		bids:              newSideBook(core.Buy),
		asks:              newSideBook(core.Sell),
	}
}

// NewFromReferenceData creates a cache already configured from reference data
func NewFromReferenceData(ref core.ReferenceData) *Cache {
	c := New(ref.Exchange, ref.Symbol)
	c.ApplyReferenceData(ref)
	return c
}

// Exchange returns the exchange name
func (c *Cache) Exchange() string { return c.exchange }

// Symbol returns the instrument symbol
func (c *Cache) Symbol() string { return c.symbol }

// MaxDepth returns the maximum number of levels retained per side (0 is unbounded)
func (c *Cache) MaxDepth() int { return c.maxDepth }

// PriceIncrement returns the configured tick size (NaN when not configured)
func (c *Cache) PriceIncrement() float64 { return c.priceIncrement }

// QuantityIncrement returns the configured lot size (NaN when not configured)
func (c *Cache) QuantityIncrement() float64 { return c.quantityIncrement }

// PriceDecimals returns the price precision
func (c *Cache) PriceDecimals() core.Decimals { return c.priceDecimals }

// QuantityDecimals returns the quantity precision
func (c *Cache) QuantityDecimals() core.Decimals { return c.quantityDecimals }

// StreamID returns the stream of the last applied update
func (c *Cache) StreamID() uint16 { return c.streamID }

// ExchangeTimeUTC returns the exchange time of the last applied update
func (c *Cache) ExchangeTimeUTC() time.Duration { return c.exchangeTimeUTC }

// ExchangeSequence returns the sequence number of the last applied update
func (c *Cache) ExchangeSequence() int64 { return c.exchangeSequence }

// Checksum returns the checksum of the current top of book
func (c *Cache) Checksum() uint32 { return c.checksum }

// Size returns the number of price levels per side
func (c *Cache) Size() (bids, asks int) {
	return len(c.bids.levels), len(c.asks.levels)
}

// Orders returns the number of resident orders per side
func (c *Cache) Orders() (bids, asks int) {
	return c.bids.orderCount(), c.asks.orderCount()
}

// Empty reports whether both sides are empty
func (c *Cache) Empty() bool {
	return len(c.bids.levels) == 0 && len(c.asks.levels) == 0
}

// Clear drops every order; configuration and last-update metadata are kept
func (c *Cache) Clear() {
	c.bids.reset()
	c.asks.reset()
	c.refresh()
}

// ApplyReferenceData updates depth, increments and precision. Shrinking the
// depth evicts the worst levels; changing an increment re-keys resident orders.
func (c *Cache) ApplyReferenceData(ref core.ReferenceData) {
	if c.exchange == "" {
		c.exchange = ref.Exchange
	}
	if c.symbol == "" {
		c.symbol = ref.Symbol
	}
	prices := newPriceScale(ref.PriceIncrement)
	quantities := newQuantityScale(ref.QuantityIncrement)
	rescale := prices != c.prices || quantities != c.quantities

	var bids, asks []core.MBOUpdate
	if rescale && !c.Empty() {
		bids, asks = c.ExtractOrders(0)
		c.bids.reset()
		c.asks.reset()
	}

	c.maxDepth = max(ref.MaxDepth, 0)
	c.priceIncrement = ref.PriceIncrement
	c.quantityIncrement = ref.QuantityIncrement
	c.priceDecimals = ref.PriceDecimals
	c.quantityDecimals = ref.QuantityDecimals
	c.prices = prices
	c.quantities = quantities
	c.bids.maxDepth = c.maxDepth
	c.asks.maxDepth = c.maxDepth

	if rescale {
		c.replay(c.bids, bids)
		c.replay(c.asks, asks)
	}
	c.bids.truncate(c.maxDepth)
	c.asks.truncate(c.maxDepth)
	c.refresh()
}

// replay re-inserts extracted orders, preserving relative priority
func (c *Cache) replay(b *sideBook, orders []core.MBOUpdate) {
	for _, o := range orders {
		price, ok := c.prices.toInt(o.Price)
		if !ok {
			continue
		}
		quantity, ok := c.quantities.toUnits(o.Quantity)
		if !ok || quantity <= 0 {
			continue
		}
		b.insert(o.OrderID, price, quantity, c.nextPriority())
	}
}

// ApplyOrderUpdate applies an already-normalized update. The whole batch is
// validated first: a failed update leaves the cache untouched.
func (c *Cache) ApplyOrderUpdate(update *core.MarketByOrderUpdate) error {
	if update.ExchangeSequence <= c.exchangeSequence {
		return fmt.Errorf("%w: got %d, last applied %d", core.ErrSequence, update.ExchangeSequence, c.exchangeSequence)
	}
	snapshot := update.UpdateType == core.UpdateTypeSnapshot
	bids, err := c.validate(c.bids, update.Bids, snapshot)
	if err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	asks, err := c.validate(c.asks, update.Asks, snapshot)
	if err != nil {
		return fmt.Errorf("asks: %w", err)
	}

	if snapshot {
		c.bids.reset()
		c.asks.reset()
	}
	c.applyChecked(c.bids, bids)
	c.applyChecked(c.asks, asks)

	c.streamID = update.StreamID
	c.exchangeTimeUTC = update.ExchangeTimeUTC
	c.exchangeSequence = update.ExchangeSequence
	c.refresh()
	return nil
}

// checkedUpdate is a validated instruction with converted price and quantity
type checkedUpdate struct {
	id       string
	action   core.UpdateAction
	price    int64
	quantity int64
}

func (c *Cache) validate(b *sideBook, updates []core.MBOUpdate, snapshot bool) ([]checkedUpdate, error) {
	checked := make([]checkedUpdate, 0, len(updates))
	// presence overrides for ids touched earlier in this batch
	touched := make(map[string]bool, len(updates))
	present := func(id string) bool {
		if p, ok := touched[id]; ok {
			return p
		}
		if snapshot {
			return false
		}
		_, ok := b.index[id]
		return ok
	}
	for i, u := range updates {
		cu := checkedUpdate{id: u.OrderID, action: u.Action}
		switch u.Action {
		case core.ActionNew, core.ActionModify:
			if u.Action == core.ActionNew && present(u.OrderID) {
				return nil, fmt.Errorf("%w: %q (instruction %d)", core.ErrOrderExists, u.OrderID, i)
			}
			if u.Action == core.ActionModify && !present(u.OrderID) {
				return nil, fmt.Errorf("%w: %q (instruction %d)", core.ErrUnknownOrder, u.OrderID, i)
			}
			price, ok := c.prices.toInt(u.Price)
			if !ok {
				return nil, fmt.Errorf("%w: %v (instruction %d)", core.ErrInvalidPrice, u.Price, i)
			}
			quantity, ok := c.quantities.toUnits(u.Quantity)
			if !ok || (u.Action == core.ActionNew && quantity <= 0) {
				return nil, fmt.Errorf("%w: %v (instruction %d)", core.ErrInvalidQuantity, u.Quantity, i)
			}
			cu.price, cu.quantity = price, quantity
			touched[u.OrderID] = quantity > 0
		case core.ActionCancel:
			if !present(u.OrderID) {
				return nil, fmt.Errorf("%w: %q (instruction %d)", core.ErrUnknownOrder, u.OrderID, i)
			}
			touched[u.OrderID] = false
		default:
			return nil, fmt.Errorf("%w: %s (instruction %d)", core.ErrInvalidAction, u.Action, i)
		}
		checked = append(checked, cu)
	}
	return checked, nil
}

func (c *Cache) applyChecked(b *sideBook, updates []checkedUpdate) {
	for _, u := range updates {
		switch u.action {
		case core.ActionNew:
			b.insert(u.id, u.price, u.quantity, c.nextPriority())
		case core.ActionModify:
			// orders rejected earlier by the depth bound are untracked
			b.modify(u.id, u.price, u.quantity, c.nextPriority)
		case core.ActionCancel:
			b.remove(u.id)
		}
	}
}

// ApplySequential applies trusted deltas in order without validation, e.g. when
// seeding from a snapshot. Malformed input is a contract violation and panics.
func (c *Cache) ApplySequential(bids, asks []core.MBOUpdate) {
	c.applySequential(c.bids, bids)
	c.applySequential(c.asks, asks)
	c.refresh()
}

func (c *Cache) applySequential(b *sideBook, updates []core.MBOUpdate) {
	for _, u := range updates {
		switch u.Action {
		case core.ActionNew:
			if _, exists := b.index[u.OrderID]; exists {
				panic(fmt.Sprintf("mbo: sequential add of resident order %q", u.OrderID))
			}
			b.insert(u.OrderID, c.mustPrice(u.Price), c.mustQuantity(u.Quantity), c.nextPriority())
		case core.ActionModify:
			if _, ok := b.modify(u.OrderID, c.mustPrice(u.Price), c.mustQuantity(u.Quantity), c.nextPriority); !ok {
				panic(fmt.Sprintf("mbo: sequential modify of unknown order %q", u.OrderID))
			}
		case core.ActionCancel:
			if _, ok := b.remove(u.OrderID); !ok {
				panic(fmt.Sprintf("mbo: sequential cancel of unknown order %q", u.OrderID))
			}
		default:
			panic(fmt.Sprintf("mbo: sequential update with action %s", u.Action))
		}
	}
}

func (c *Cache) mustPrice(v float64) int64 {
	p, ok := c.prices.toInt(v)
	if !ok {
		panic(fmt.Sprintf("mbo: invalid price %v", v))
	}
	return p
}

func (c *Cache) mustQuantity(v float64) int64 {
	q, ok := c.quantities.toUnits(v)
	if !ok {
		panic(fmt.Sprintf("mbo: invalid quantity %v", v))
	}
	return q
}

func (c *Cache) nextPriority() uint64 {
	c.priority++
	return c.priority
}

func (c *Cache) refresh() {
	c.checksum = computeChecksum(c.bids, c.asks)
}

func (c *Cache) book(side core.Side) *sideBook {
	switch side {
	case core.Buy:
		return c.bids
	case core.Sell:
		return c.asks
	}
	return nil
}
