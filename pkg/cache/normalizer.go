package cache

import (
	"math"

	"github.com/erain9/mbocache/pkg/core"
)

// orderState is the presence and fields of one order id during a fold
type orderState struct {
	present  bool
	price    int64
	quantity int64
}

// fold tracks one order id across a raw batch
type fold struct {
	id    string
	prior orderState
	state orderState
}

// Normalize reduces a raw, possibly noisy venue update to its net per-order
// effect, applies that effect to the cache once and hands the canonical update
// to fn. It never fails: instructions that cannot be applied become no-ops.
//
// Raw updates whose non-zero sequence does not exceed the cache's are treated as
// replays and yield an empty canonical update. A raw update without a sequence
// is numbered locally. A snapshot replaces the book: resident orders missing
// from it are cancelled.
func (c *Cache) Normalize(update *core.MarketByOrderUpdate, fn func(*core.MarketByOrderUpdate)) {
	canonical := &core.MarketByOrderUpdate{
		StreamID:         update.StreamID,
		Exchange:         c.exchange,
		Symbol:           c.symbol,
		UpdateType:       core.UpdateTypeIncremental,
		ExchangeTimeUTC:  update.ExchangeTimeUTC,
		PriceDecimals:    c.priceDecimals,
		QuantityDecimals: c.quantityDecimals,
		MaxDepth:         c.maxDepth,
	}
	if update.ExchangeSequence > 0 && update.ExchangeSequence <= c.exchangeSequence {
		canonical.StreamID = c.streamID
		canonical.ExchangeTimeUTC = c.exchangeTimeUTC
		canonical.ExchangeSequence = c.exchangeSequence
		canonical.Checksum = c.checksum
		canonical.Bids = []core.MBOUpdate{}
		canonical.Asks = []core.MBOUpdate{}
		fn(canonical)
		return
	}

	snapshot := update.UpdateType == core.UpdateTypeSnapshot
	canonical.Bids = c.normalizeSide(c.bids, update.Bids, snapshot)
	canonical.Asks = c.normalizeSide(c.asks, update.Asks, snapshot)

	c.streamID = update.StreamID
	c.exchangeTimeUTC = update.ExchangeTimeUTC
	if update.ExchangeSequence > 0 {
		c.exchangeSequence = update.ExchangeSequence
	} else {
		c.exchangeSequence++
	}
	c.refresh()

	canonical.ExchangeSequence = c.exchangeSequence
	canonical.Checksum = c.checksum
	fn(canonical)
}

func (c *Cache) normalizeSide(b *sideBook, raw []core.MBOUpdate, snapshot bool) []core.MBOUpdate {
	folds := make(map[string]*fold, len(raw))
	order := make([]*fold, 0, len(raw))
	for _, u := range raw {
		if u.OrderID == "" {
			continue
		}
		f, ok := folds[u.OrderID]
		if !ok {
			f = &fold{id: u.OrderID, prior: c.priorState(b, u.OrderID)}
			f.state = f.prior
			if snapshot {
				// a snapshot restates orders from scratch
				f.state = orderState{}
			}
			folds[u.OrderID] = f
			order = append(order, f)
		}
		c.step(f, u)
	}

	result := make([]core.MBOUpdate, 0, len(order))
	if snapshot {
		// residents not restated by the snapshot are gone; walk levels so the
		// emitted cancels are deterministic
		var stale []*fold
		for _, lvl := range b.levels {
			lvl.each(&b.orders, func(_ int32, rec *orderRecord) bool {
				if _, ok := folds[rec.id]; !ok {
					stale = append(stale, &fold{
						id:    rec.id,
						prior: orderState{present: true, price: rec.price, quantity: rec.quantity},
					})
				}
				return true
			})
		}
		for _, f := range stale {
			result = c.applyNet(b, f, result)
		}
	}
	for _, f := range order {
		result = c.applyNet(b, f, result)
	}
	return result
}

func (c *Cache) priorState(b *sideBook, id string) orderState {
	rec, ok := b.lookup(id)
	if !ok {
		return orderState{}
	}
	return orderState{present: true, price: rec.price, quantity: rec.quantity}
}

// step folds one raw instruction into the running state
func (c *Cache) step(f *fold, u core.MBOUpdate) {
	switch u.Action {
	case core.ActionNew:
		price, ok := c.prices.toInt(u.Price)
		if !ok {
			return
		}
		quantity, ok := c.quantities.toUnits(u.Quantity)
		if !ok {
			return
		}
		if quantity <= 0 {
			f.state = orderState{}
			return
		}
		f.state = orderState{present: true, price: price, quantity: quantity}
	case core.ActionModify:
		if !f.state.present {
			return
		}
		next := f.state
		if u.Price != 0 && !math.IsNaN(u.Price) {
			price, ok := c.prices.toInt(u.Price)
			if !ok {
				return
			}
			next.price = price
		}
		if !math.IsNaN(u.Quantity) {
			quantity, ok := c.quantities.toUnits(u.Quantity)
			if !ok {
				return
			}
			next.quantity = quantity
		}
		if next.quantity <= 0 {
			next = orderState{}
		}
		f.state = next
	case core.ActionCancel:
		f.state = orderState{}
	}
}

// applyNet applies the net effect of a fold and appends the canonical delta
// when the book actually changed
func (c *Cache) applyNet(b *sideBook, f *fold, dst []core.MBOUpdate) []core.MBOUpdate {
	switch {
	case !f.prior.present && f.state.present:
		if !b.insert(f.id, f.state.price, f.state.quantity, c.nextPriority()) {
			return dst
		}
		rec, _ := b.lookup(f.id)
		return append(dst, c.toUpdate(rec, core.ActionNew))
	case f.prior.present && !f.state.present:
		rec, ok := b.remove(f.id)
		if !ok {
			return dst
		}
		return append(dst, c.toUpdate(&rec, core.ActionCancel))
	case f.prior.present && f.state != f.prior:
		result, _ := b.modify(f.id, f.state.price, f.state.quantity, c.nextPriority)
		switch result {
		case modifyInPlace, modifyRequeued:
			rec, _ := b.lookup(f.id)
			return append(dst, c.toUpdate(rec, core.ActionModify))
		case modifyRemoved:
			return append(dst, core.MBOUpdate{
				Price:    c.prices.toFloat(f.prior.price),
				Quantity: 0,
				OrderID:  f.id,
				Action:   core.ActionCancel,
			})
		}
	}
	return dst
}
