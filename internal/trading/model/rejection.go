package model

import (
	"errors"
	"fmt"
)

// RejectKind enumerates why an order or command was refused.
type RejectKind string

const (
	RejectUnknownPair        RejectKind = "unknown-pair"
	RejectInvalidQuantity    RejectKind = "invalid-quantity"
	RejectInvalidPrice       RejectKind = "invalid-price"
	RejectMissingStopPrice   RejectKind = "missing-stop-price"
	RejectBadIceberg         RejectKind = "bad-iceberg"
	RejectBadOCO             RejectKind = "bad-oco"
	RejectBadTrailing        RejectKind = "bad-trailing"
	RejectSlippageGuard      RejectKind = "slippage-guard"
	RejectRiskExceeded       RejectKind = "risk-exceeded"
	RejectBreakerOpen        RejectKind = "breaker-open"
	RejectSelfCrossRefused   RejectKind = "self-cross-refused"
	RejectOverloaded         RejectKind = "overloaded"
	RejectTerminal           RejectKind = "terminal"
	RejectUnknownOrder       RejectKind = "unknown-order"
	RejectPostOnlyWouldCross RejectKind = "post-only-would-cross"
	// RejectInvalidOrder covers malformed requests no other kind describes:
	// missing account, unknown side, type or TIF, past expiry and fee
	// overrides out of range.
	RejectInvalidOrder       RejectKind = "invalid-order"
)

// Rejection is the tagged failure result returned by the core.
type Rejection struct {
	Kind   RejectKind `json:"kind"`
	Detail string     `json:"detail,omitempty"`
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ": " + r.Detail
}

// Reject builds a Rejection with a formatted detail.
func Reject(kind RejectKind, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the rejection kind from err.
func KindOf(err error) (RejectKind, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind, true
	}
	return "", false
}

// IsRejection reports whether err is a Rejection of the given kind.
func IsRejection(err error, kind RejectKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
