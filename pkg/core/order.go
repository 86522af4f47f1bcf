package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// Side represents buy (bid) or sell (ask) side of the book
type Side int

// Book sides
const (
	Undefined Side = iota
	Buy
	Sell
)

// String returns side as string
func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	case Undefined:
		return "UNDEFINED"
	default:
		return "UNKNOWN"
	}
}

// ParseSide converts the textual form back into a Side
func ParseSide(s string) (Side, error) {
	switch s {
	case "BUY", "buy", "BID", "bid":
		return Buy, nil
	case "SELL", "sell", "ASK", "ask":
		return Sell, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// MarshalJSON implements json.Marshaler
func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Side) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	side, err := ParseSide(str)
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// UpdateAction is the per-order instruction carried by an MBOUpdate
type UpdateAction int

// Update actions
const (
	ActionUndefined UpdateAction = iota
	ActionNew
	ActionModify
	ActionCancel
)

// String returns action as string
func (a UpdateAction) String() string {
	switch a {
	case ActionNew:
		return "NEW"
	case ActionModify:
		return "MODIFY"
	case ActionCancel:
		return "CANCEL"
	case ActionUndefined:
		return "UNDEFINED"
	default:
		return "UNKNOWN"
	}
}

// ParseUpdateAction converts the textual form back into an UpdateAction
func ParseUpdateAction(s string) (UpdateAction, error) {
	switch s {
	case "NEW", "ADD":
		return ActionNew, nil
	case "MODIFY":
		return ActionModify, nil
	case "CANCEL", "DELETE":
		return ActionCancel, nil
	}
	return ActionUndefined, fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// MBOUpdate is a single per-order delta
type MBOUpdate struct {
	Price    float64
	Quantity float64
	// Priority is the queue priority assigned by the cache (0 when unknown)
	Priority uint64
	OrderID  string
	Action   UpdateAction
}

// String implements Stringer interface
func (u MBOUpdate) String() string {
	return fmt.Sprintf("{order_id=%q, action=%s, price=%v, quantity=%v, priority=%d}",
		u.OrderID, u.Action, u.Price, u.Quantity, u.Priority)
}

// Layer is the aggregated quantity of one price level
type Layer struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Position describes an order's place in its price level queue.
// All fields are NaN when the order is not found.
type Position struct {
	Quantity float64
	Before   float64
	Total    float64
}

// NotFoundPosition returns the all-NaN position
func NotFoundPosition() Position {
	return Position{
		Quantity: math.NaN(),
		Before:   math.NaN(),
		Total:    math.NaN(),
	}
}

// Found reports whether the position refers to a resident order
func (p Position) Found() bool {
	return !math.IsNaN(p.Quantity)
}
