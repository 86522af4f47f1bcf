package cache

// priceLevel is one price's FIFO queue of orders, linked through arena slots.
// total always equals the sum of the quantities in the queue.
type priceLevel struct {
	price int64
	total total128
	head  int32
	tail  int32
	count int
}

func newPriceLevel(price int64) *priceLevel {
	return &priceLevel{
		price: price,
		head:  nilSlot,
		tail:  nilSlot,
	}
}

// pushBack appends slot at the tail (lowest priority)
func (l *priceLevel) pushBack(a *arena, slot int32) {
	rec := a.get(slot)
	rec.prev = l.tail
	rec.next = nilSlot
	if l.tail != nilSlot {
		a.get(l.tail).next = slot
	} else {
		l.head = slot
	}
	l.tail = slot
	l.count++
	l.total.add(rec.quantity)
}

// unlink removes slot from anywhere in the queue in O(1)
func (l *priceLevel) unlink(a *arena, slot int32) {
	rec := a.get(slot)
	if rec.prev != nilSlot {
		a.get(rec.prev).next = rec.next
	} else {
		l.head = rec.next
	}
	if rec.next != nilSlot {
		a.get(rec.next).prev = rec.prev
	} else {
		l.tail = rec.prev
	}
	rec.prev, rec.next = nilSlot, nilSlot
	l.count--
	l.total.sub(rec.quantity)
}

// reduce lowers the quantity of slot in place, keeping its queue position
func (l *priceLevel) reduce(a *arena, slot int32, quantity int64) {
	rec := a.get(slot)
	l.total.sub(rec.quantity - quantity)
	rec.quantity = quantity
}

func (l *priceLevel) empty() bool {
	return l.count == 0
}

// each visits the queue in priority order until fn returns false
func (l *priceLevel) each(a *arena, fn func(slot int32, rec *orderRecord) bool) {
	for slot := l.head; slot != nilSlot; {
		rec := a.get(slot)
		next := rec.next
		if !fn(slot, rec) {
			return
		}
		slot = next
	}
}
