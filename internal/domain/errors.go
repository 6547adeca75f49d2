package domain

import (
	"errors"
	"strings"
)

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderNotActive    = errors.New("order_not_active")
	ErrPositionNotFound  = errors.New("position_not_found")
	ErrInvalidTransition = errors.New("invalid_status_transition")
	ErrInvalidFill       = errors.New("invalid_fill")
	ErrOverfill          = errors.New("fill_exceeds_order_quantity")
	ErrBrokerUnavailable = errors.New("broker_unavailable")
	ErrUnknownBrokerID   = errors.New("unknown_broker_order_id")
)

// ValidationError aggregates every violation discovered while validating a
// request, so the caller sees all problems at once instead of the first.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Reasons, "; ")
}

// RiskError is a business-rule denial from the RiskManager, distinct from
// caller-input validation failures.
type RiskError struct {
	Reason    string
	RiskScore float64
}

func (e *RiskError) Error() string {
	return "risk check rejected order: " + e.Reason
}
