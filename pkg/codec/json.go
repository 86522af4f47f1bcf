// Package codec converts cache messages to and from their wire forms: JSON for
// the feed topics and a CRC-framed protobuf encoding for stored snapshots.
package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/erain9/mbocache/pkg/core"
	"github.com/shopspring/decimal"
)

// Kind identifies the payload carried by a feed message
type Kind string

// Feed message kinds
const (
	KindReferenceData Kind = "reference_data"
	KindMarketByOrder Kind = "market_by_order"
	KindDisconnected  Kind = "disconnected"
)

type jsonOrder struct {
	OrderID  string `json:"order_id"`
	Action   string `json:"action"`
	Price    string `json:"price,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Priority uint64 `json:"priority,omitempty"`
}

type jsonUpdate struct {
	StreamID         uint16      `json:"stream_id"`
	Exchange         string      `json:"exchange"`
	Symbol           string      `json:"symbol"`
	Bids             []jsonOrder `json:"bids"`
	Asks             []jsonOrder `json:"asks"`
	UpdateType       string      `json:"update_type"`
	ExchangeTimeUTC  int64       `json:"exchange_time_utc"`
	ExchangeSequence int64       `json:"exchange_sequence"`
	PriceDecimals    *int8       `json:"price_decimals,omitempty"`
	QuantityDecimals *int8       `json:"quantity_decimals,omitempty"`
	MaxDepth         int         `json:"max_depth,omitempty"`
	Checksum         uint32      `json:"checksum,omitempty"`
}

type jsonReferenceData struct {
	StreamID          uint16 `json:"stream_id"`
	Exchange          string `json:"exchange"`
	Symbol            string `json:"symbol"`
	MaxDepth          int    `json:"max_depth,omitempty"`
	PriceIncrement    string `json:"price_increment,omitempty"`
	QuantityIncrement string `json:"quantity_increment,omitempty"`
	PriceDecimals     *int8  `json:"price_decimals,omitempty"`
	QuantityDecimals  *int8  `json:"quantity_decimals,omitempty"`
}

type jsonDisconnected struct {
	StreamID          uint16 `json:"stream_id"`
	OrderCancelPolicy string `json:"order_cancel_policy"`
}

// FormatNumber renders v as an exact decimal string, fixed to decimals places
// when the precision is known. Non-finite values use "NaN", "Inf" and "-Inf".
func FormatNumber(v float64, decimals core.Decimals) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	d := decimal.NewFromFloat(v)
	if decimals.Valid() {
		return d.StringFixed(int32(decimals))
	}
	return d.String()
}

// ParseNumber is the inverse of FormatNumber. An empty string is NaN.
func ParseNumber(s string) (float64, error) {
	switch s {
	case "", "NaN":
		return math.NaN(), nil
	case "Inf", "+Inf":
		return math.Inf(1), nil
	case "-Inf":
		return math.Inf(-1), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}

func encodeDecimals(d core.Decimals) *int8 {
	if !d.Valid() {
		return nil
	}
	v := int8(d)
	return &v
}

func decodeDecimals(v *int8) core.Decimals {
	if v == nil {
		return core.DecimalsUndefined
	}
	return core.Decimals(*v)
}

func encodeOrders(orders []core.MBOUpdate, priceDecimals, quantityDecimals core.Decimals) []jsonOrder {
	result := make([]jsonOrder, len(orders))
	for i, o := range orders {
		result[i] = jsonOrder{
			OrderID:  o.OrderID,
			Action:   o.Action.String(),
			Price:    FormatNumber(o.Price, priceDecimals),
			Quantity: FormatNumber(o.Quantity, quantityDecimals),
			Priority: o.Priority,
		}
	}
	return result
}

func decodeOrders(orders []jsonOrder) ([]core.MBOUpdate, error) {
	result := make([]core.MBOUpdate, len(orders))
	for i, o := range orders {
		action, err := core.ParseUpdateAction(o.Action)
		if err != nil {
			return nil, fmt.Errorf("order %q: %w", o.OrderID, err)
		}
		price, err := ParseNumber(o.Price)
		if err != nil {
			return nil, fmt.Errorf("order %q: price: %w", o.OrderID, err)
		}
		quantity, err := ParseNumber(o.Quantity)
		if err != nil {
			return nil, fmt.Errorf("order %q: quantity: %w", o.OrderID, err)
		}
		result[i] = core.MBOUpdate{
			Price:    price,
			Quantity: quantity,
			Priority: o.Priority,
			OrderID:  o.OrderID,
			Action:   action,
		}
	}
	return result, nil
}

// MarshalUpdate encodes a market-by-order update as JSON
func MarshalUpdate(u *core.MarketByOrderUpdate) ([]byte, error) {
	return json.Marshal(jsonUpdate{
		StreamID:         u.StreamID,
		Exchange:         u.Exchange,
		Symbol:           u.Symbol,
		Bids:             encodeOrders(u.Bids, u.PriceDecimals, u.QuantityDecimals),
		Asks:             encodeOrders(u.Asks, u.PriceDecimals, u.QuantityDecimals),
		UpdateType:       u.UpdateType.String(),
		ExchangeTimeUTC:  int64(u.ExchangeTimeUTC),
		ExchangeSequence: u.ExchangeSequence,
		PriceDecimals:    encodeDecimals(u.PriceDecimals),
		QuantityDecimals: encodeDecimals(u.QuantityDecimals),
		MaxDepth:         u.MaxDepth,
		Checksum:         u.Checksum,
	})
}

// UnmarshalUpdate decodes a JSON market-by-order update
func UnmarshalUpdate(data []byte) (*core.MarketByOrderUpdate, error) {
	var j jsonUpdate
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to decode update: %w", err)
	}
	updateType, err := core.ParseUpdateType(j.UpdateType)
	if err != nil {
		return nil, err
	}
	bids, err := decodeOrders(j.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := decodeOrders(j.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}
	return &core.MarketByOrderUpdate{
		StreamID:         j.StreamID,
		Exchange:         j.Exchange,
		Symbol:           j.Symbol,
		Bids:             bids,
		Asks:             asks,
		UpdateType:       updateType,
		ExchangeTimeUTC:  time.Duration(j.ExchangeTimeUTC),
		ExchangeSequence: j.ExchangeSequence,
		PriceDecimals:    decodeDecimals(j.PriceDecimals),
		QuantityDecimals: decodeDecimals(j.QuantityDecimals),
		MaxDepth:         j.MaxDepth,
		Checksum:         j.Checksum,
	}, nil
}

// MarshalReferenceData encodes reference data as JSON
func MarshalReferenceData(r core.ReferenceData) ([]byte, error) {
	j := jsonReferenceData{
		StreamID:         r.StreamID,
		Exchange:         r.Exchange,
		Symbol:           r.Symbol,
		MaxDepth:         r.MaxDepth,
		PriceDecimals:    encodeDecimals(r.PriceDecimals),
		QuantityDecimals: encodeDecimals(r.QuantityDecimals),
	}
	if !math.IsNaN(r.PriceIncrement) {
		j.PriceIncrement = FormatNumber(r.PriceIncrement, core.DecimalsUndefined)
	}
	if !math.IsNaN(r.QuantityIncrement) {
		j.QuantityIncrement = FormatNumber(r.QuantityIncrement, core.DecimalsUndefined)
	}
	return json.Marshal(j)
}

// UnmarshalReferenceData decodes JSON reference data. Missing increments are NaN.
func UnmarshalReferenceData(data []byte) (core.ReferenceData, error) {
	var j jsonReferenceData
	if err := json.Unmarshal(data, &j); err != nil {
		return core.ReferenceData{}, fmt.Errorf("failed to decode reference data: %w", err)
	}
	priceIncrement, err := ParseNumber(j.PriceIncrement)
	if err != nil {
		return core.ReferenceData{}, fmt.Errorf("price_increment: %w", err)
	}
	quantityIncrement, err := ParseNumber(j.QuantityIncrement)
	if err != nil {
		return core.ReferenceData{}, fmt.Errorf("quantity_increment: %w", err)
	}
	return core.ReferenceData{
		StreamID:          j.StreamID,
		Exchange:          j.Exchange,
		Symbol:            j.Symbol,
		MaxDepth:          j.MaxDepth,
		PriceIncrement:    priceIncrement,
		QuantityIncrement: quantityIncrement,
		PriceDecimals:     decodeDecimals(j.PriceDecimals),
		QuantityDecimals:  decodeDecimals(j.QuantityDecimals),
	}, nil
}

// MarshalDisconnected encodes a disconnect notification as JSON
func MarshalDisconnected(d core.Disconnected) ([]byte, error) {
	return json.Marshal(jsonDisconnected{
		StreamID:          d.StreamID,
		OrderCancelPolicy: d.OrderCancelPolicy.String(),
	})
}

// UnmarshalDisconnected decodes a JSON disconnect notification
func UnmarshalDisconnected(data []byte) (core.Disconnected, error) {
	var j jsonDisconnected
	if err := json.Unmarshal(data, &j); err != nil {
		return core.Disconnected{}, fmt.Errorf("failed to decode disconnected: %w", err)
	}
	policy, err := core.ParseOrderCancelPolicy(j.OrderCancelPolicy)
	if err != nil {
		return core.Disconnected{}, err
	}
	return core.Disconnected{StreamID: j.StreamID, OrderCancelPolicy: policy}, nil
}
