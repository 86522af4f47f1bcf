package core

import "fmt"

// RateLimitType classifies which request kinds a venue rate limit applies to
type RateLimitType uint8

// Rate limit types
const (
	RateLimitUndefined RateLimitType = iota
	RateLimitOrderAction
	RateLimitCreateOrder
)

// String returns rate limit type as string
func (r RateLimitType) String() string {
	switch r {
	case RateLimitOrderAction:
		return "ORDER_ACTION"
	case RateLimitCreateOrder:
		return "CREATE_ORDER"
	case RateLimitUndefined:
		return "UNDEFINED"
	default:
		return "<UNKNOWN>"
	}
}

// ParseRateLimitType parses the textual form; unknown values map to undefined
func ParseRateLimitType(s string) (RateLimitType, error) {
	switch s {
	case "ORDER_ACTION":
		return RateLimitOrderAction, nil
	case "CREATE_ORDER":
		return RateLimitCreateOrder, nil
	case "UNDEFINED", "":
		return RateLimitUndefined, nil
	}
	return RateLimitUndefined, fmt.Errorf("unknown rate limit type %q", s)
}
