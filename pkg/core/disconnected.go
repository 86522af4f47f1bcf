package core

import "fmt"

// OrderCancelPolicy says which orders a venue cancels when a session disconnects
type OrderCancelPolicy uint8

// Order cancel policies
const (
	OrderCancelPolicyUndefined OrderCancelPolicy = iota
	OrderCancelPolicyManagedOrders
	OrderCancelPolicyByAccount
)

// String returns policy as string
func (p OrderCancelPolicy) String() string {
	switch p {
	case OrderCancelPolicyManagedOrders:
		return "MANAGED_ORDERS"
	case OrderCancelPolicyByAccount:
		return "BY_ACCOUNT"
	case OrderCancelPolicyUndefined:
		return "UNDEFINED"
	default:
		return "<UNKNOWN>"
	}
}

// ParseOrderCancelPolicy is the inverse of OrderCancelPolicy.String
func ParseOrderCancelPolicy(s string) (OrderCancelPolicy, error) {
	switch s {
	case "MANAGED_ORDERS":
		return OrderCancelPolicyManagedOrders, nil
	case "BY_ACCOUNT":
		return OrderCancelPolicyByAccount, nil
	case "", "UNDEFINED":
		return OrderCancelPolicyUndefined, nil
	}
	return OrderCancelPolicyUndefined, fmt.Errorf("invalid order cancel policy: %q", s)
}

// Disconnected signals that the venue connection for a stream was lost
type Disconnected struct {
	StreamID          uint16
	OrderCancelPolicy OrderCancelPolicy
}

// String implements Stringer interface
func (d Disconnected) String() string {
	return fmt.Sprintf("{stream_id=%d, order_cancel_policy=%s}", d.StreamID, d.OrderCancelPolicy)
}
