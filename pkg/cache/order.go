package cache

// nilSlot marks the absence of a neighbour in a level queue
const nilSlot int32 = -1

// orderRecord is the per-order state held in an arena slot.
// Prices are in ticks, quantities in units.
type orderRecord struct {
	id       string
	price    int64
	quantity int64
	priority uint64
	prev     int32
	next     int32
	inUse    bool
}

// arena stores order records under stable slot indices so the order-id index
// can refer to queue positions without holding pointers into level queues.
type arena struct {
	records []orderRecord
	free    []int32
}

func (a *arena) alloc(id string, price, quantity int64, priority uint64) int32 {
	rec := orderRecord{
		id:       id,
		price:    price,
		quantity: quantity,
		priority: priority,
		prev:     nilSlot,
		next:     nilSlot,
		inUse:    true,
	}
	if n := len(a.free); n > 0 {
		slot := a.free[n-1]
		a.free = a.free[:n-1]
		a.records[slot] = rec
		return slot
	}
	a.records = append(a.records, rec)
	return int32(len(a.records) - 1)
}

func (a *arena) release(slot int32) {
	a.records[slot] = orderRecord{prev: nilSlot, next: nilSlot}
	a.free = append(a.free, slot)
}

func (a *arena) get(slot int32) *orderRecord {
	return &a.records[slot]
}

func (a *arena) reset() {
	a.records = a.records[:0]
	a.free = a.free[:0]
}
