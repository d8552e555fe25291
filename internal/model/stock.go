package model

import (
	"fmt"
	"math"
)

// ApplyMovement returns the quantity that results from applying a movement of
// amount units to current. Outbound movements that would leave negative stock
// are rejected with a validation error wrapping ErrInsufficientStock, inbound
// movements that would overflow int64 with INVALID_INPUT.
//
// The same function backs the online path (server quantity) and the offline
// path (cached quantity).
func ApplyMovement(current int64, typ MovementType, amount int64) (int64, error) {
	if amount <= 0 {
		return current, NewValidationError("apply movement", CodeInvalidInput,
			fmt.Errorf("quantity must be positive, got %d", amount))
	}

	switch typ {
	case MovementInbound:
		if amount > math.MaxInt64-current {
			return current, NewValidationError("apply movement", CodeInvalidInput,
				fmt.Errorf("quantity %d would overflow stock of %d", amount, current))
		}
		return current + amount, nil
	case MovementOutbound:
		next := current - amount
		if next < 0 {
			return current, NewValidationError("apply movement", CodeInsufficientStock,
				fmt.Errorf("%w: have %d, need %d", ErrInsufficientStock, current, amount))
		}
		return next, nil
	default:
		return current, NewValidationError("apply movement", CodeInvalidInput,
			fmt.Errorf("unknown movement type %q", typ))
	}
}
