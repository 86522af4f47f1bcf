package cache

import (
	"cmp"
	"slices"

	"github.com/erain9/mbocache/pkg/core"
)

// sideBook holds one side's price levels in side-correct order (rank 0 is best)
// plus the order-id index into the arena.
type sideBook struct {
	side     core.Side
	levels   []*priceLevel
	index    map[string]int32
	orders   arena
	maxDepth int
}

func newSideBook(side core.Side) *sideBook {
	return &sideBook{
		side:  side,
		index: make(map[string]int32),
	}
}

// compare orders levels: negative when a ranks ahead of b
func (b *sideBook) compare(a, c int64) int {
	if b.side == core.Buy {
		return cmp.Compare(c, a)
	}
	return cmp.Compare(a, c)
}

// search returns the rank of price, or the rank it would be inserted at
func (b *sideBook) search(price int64) (int, bool) {
	return slices.BinarySearchFunc(b.levels, price, func(l *priceLevel, p int64) int {
		return b.compare(l.price, p)
	})
}

func (b *sideBook) level(price int64) *priceLevel {
	if i, ok := b.search(price); ok {
		return b.levels[i]
	}
	return nil
}

func (b *sideBook) lookup(id string) (*orderRecord, bool) {
	slot, ok := b.index[id]
	if !ok {
		return nil, false
	}
	return b.orders.get(slot), true
}

// insert adds an order at the tail of its level, creating the level when needed.
// It returns false when the level would rank beyond maxDepth; the order is then untracked.
func (b *sideBook) insert(id string, price, quantity int64, priority uint64) bool {
	i, found := b.search(price)
	var lvl *priceLevel
	if found {
		lvl = b.levels[i]
	} else {
		if b.maxDepth > 0 && i >= b.maxDepth {
			return false
		}
		lvl = newPriceLevel(price)
		b.levels = slices.Insert(b.levels, i, lvl)
	}
	slot := b.orders.alloc(id, price, quantity, priority)
	lvl.pushBack(&b.orders, slot)
	b.index[id] = slot
	if !found && b.maxDepth > 0 && len(b.levels) > b.maxDepth {
		b.truncate(b.maxDepth)
	}
	return true
}

// remove drops the order and its level when the level becomes empty
func (b *sideBook) remove(id string) (orderRecord, bool) {
	slot, ok := b.index[id]
	if !ok {
		return orderRecord{}, false
	}
	rec := *b.orders.get(slot)
	i, found := b.search(rec.price)
	if !found {
		panic("mbo: order index references a missing price level")
	}
	lvl := b.levels[i]
	lvl.unlink(&b.orders, slot)
	if lvl.empty() {
		b.levels = slices.Delete(b.levels, i, i+1)
	}
	delete(b.index, id)
	b.orders.release(slot)
	return rec, true
}

// modifyResult describes what a modify did to the book
type modifyResult int

const (
	modifyUnchanged modifyResult = iota
	modifyInPlace
	modifyRequeued
	modifyRemoved
)

// modify changes price and/or quantity of a resident order. A quantity decrease
// at the same price keeps queue position; anything else requeues at the tail
// with the priority returned by next. Quantity <= 0 removes the order.
func (b *sideBook) modify(id string, price, quantity int64, next func() uint64) (modifyResult, bool) {
	slot, ok := b.index[id]
	if !ok {
		return modifyUnchanged, false
	}
	rec := b.orders.get(slot)
	switch {
	case quantity <= 0:
		b.remove(id)
		return modifyRemoved, true
	case rec.price == price && rec.quantity == quantity:
		return modifyUnchanged, true
	case rec.price == price && quantity < rec.quantity:
		b.level(price).reduce(&b.orders, slot, quantity)
		return modifyInPlace, true
	}
	b.remove(id)
	if !b.insert(id, price, quantity, next()) {
		return modifyRemoved, true
	}
	return modifyRequeued, true
}

// truncate evicts every level ranked at or beyond depth
func (b *sideBook) truncate(depth int) {
	if depth <= 0 || len(b.levels) <= depth {
		return
	}
	for _, lvl := range b.levels[depth:] {
		lvl.each(&b.orders, func(slot int32, rec *orderRecord) bool {
			delete(b.index, rec.id)
			b.orders.release(slot)
			return true
		})
	}
	clear(b.levels[depth:])
	b.levels = b.levels[:depth]
}

func (b *sideBook) reset() {
	clear(b.levels)
	b.levels = b.levels[:0]
	clear(b.index)
	b.orders.reset()
}

func (b *sideBook) orderCount() int {
	return len(b.index)
}

// depthLimit bounds an extraction depth (0 means all levels)
func (b *sideBook) depthLimit(maxDepth int) int {
	if maxDepth <= 0 || maxDepth > len(b.levels) {
		return len(b.levels)
	}
	return maxDepth
}

// accumulated sums level totals from best through price (optionally excluding price)
func (b *sideBook) accumulated(price int64, excludingPrice bool) (total128, bool) {
	i, found := b.search(price)
	if !found {
		return total128{}, false
	}
	var sum total128
	for _, lvl := range b.levels[:i] {
		sum.addTotal(lvl.total)
	}
	if !excludingPrice {
		sum.addTotal(b.levels[i].total)
	}
	return sum, true
}

// queuePosition returns quantity ahead of id within its level
func (b *sideBook) queuePosition(id string) (rec orderRecord, before total128, lvl *priceLevel, ok bool) {
	slot, found := b.index[id]
	if !found {
		return orderRecord{}, total128{}, nil, false
	}
	rec = *b.orders.get(slot)
	lvl = b.level(rec.price)
	lvl.each(&b.orders, func(s int32, r *orderRecord) bool {
		if s == slot {
			return false
		}
		before.add(r.quantity)
		return true
	})
	return rec, before, lvl, true
}
