package main

import (
	"fmt"
	"math/rand"

	"github.com/erain9/mbocache/pkg/core"
)

// generator produces noisy raw updates around a drifting mid price. About a
// tenth of the instructions are redundant or refer to unknown orders.
type generator struct {
	r      *rand.Rand
	symbol string
	ids    []string
	live   map[string]core.Side
	mid    float64
}

func newGenerator(r *rand.Rand, symbol string, orders int) *generator {
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", symbol, i)
	}
	return &generator{
		r:      r,
		symbol: symbol,
		ids:    ids,
		live:   make(map[string]core.Side, orders),
		mid:    1000,
	}
}

func (g *generator) price(side core.Side) float64 {
	offset := float64(1+g.r.Intn(200)) * 0.5
	if side == core.Buy {
		return g.mid - offset
	}
	return g.mid + offset
}

func (g *generator) next(seq int64, n int) *core.MarketByOrderUpdate {
	update := &core.MarketByOrderUpdate{
		Exchange:         "load",
		Symbol:           g.symbol,
		UpdateType:       core.UpdateTypeIncremental,
		ExchangeSequence: seq,
		PriceDecimals:    core.DecimalsUndefined,
		QuantityDecimals: core.DecimalsUndefined,
	}
	g.mid += float64(g.r.Intn(3)-1) * 0.5

	for range n {
		id := g.ids[g.r.Intn(len(g.ids))]
		side, live := g.live[id]
		var u core.MBOUpdate
		switch {
		case g.r.Intn(10) == 0:
			// noise: cancel of an id that may not exist
			u = core.MBOUpdate{OrderID: id, Action: core.ActionCancel}
			if !live {
				side = core.Side(1 + g.r.Intn(2))
			}
			delete(g.live, id)
		case !live:
			side = core.Side(1 + g.r.Intn(2))
			u = core.MBOUpdate{OrderID: id, Action: core.ActionNew, Price: g.price(side), Quantity: float64(1 + g.r.Intn(100))}
			g.live[id] = side
		case g.r.Intn(3) == 0:
			u = core.MBOUpdate{OrderID: id, Action: core.ActionCancel}
			delete(g.live, id)
		default:
			u = core.MBOUpdate{OrderID: id, Action: core.ActionModify, Price: g.price(side), Quantity: float64(1 + g.r.Intn(100))}
		}
		if side == core.Buy {
			update.Bids = append(update.Bids, u)
		} else {
			update.Asks = append(update.Asks, u)
		}
	}
	return update
}
