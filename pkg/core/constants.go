package core

import "errors"

// Errors
var (
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidAction   = errors.New("invalid action")
	ErrInvalidSide     = errors.New("invalid side")
	ErrOrderExists     = errors.New("order exists")
	ErrUnknownOrder    = errors.New("unknown order")
	ErrSequence        = errors.New("sequence not increasing")
)

// Fallback increments used while no reference data has been applied
const (
	DefaultPriceIncrement    = 1e-8
	DefaultQuantityIncrement = 1e-8
)
