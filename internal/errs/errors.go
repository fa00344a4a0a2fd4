// Package errs holds the typed failure taxonomy shared by the settlement core
// and its transports.
package errs

import "errors"

// Kind groups failures by how a caller should react to them.
type Kind uint8

const (
	KindValidation Kind = iota
	KindStateMismatch
	KindAuthorization
	KindCapacity
	KindArithmetic
	KindCommitReveal
	KindOrdering
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStateMismatch:
		return "state_mismatch"
	case KindAuthorization:
		return "authorization"
	case KindCapacity:
		return "capacity"
	case KindArithmetic:
		return "arithmetic"
	case KindCommitReveal:
		return "commit_reveal"
	case KindOrdering:
		return "ordering"
	default:
		return "unknown"
	}
}

// DomainError is a sentinel failure with a stable wire code.
type DomainError struct {
	Code string
	Kind Kind
	msg  string
}

func (e *DomainError) Error() string { return e.msg }

func newError(code string, kind Kind, msg string) *DomainError {
	return &DomainError{Code: code, Kind: kind, msg: msg}
}

// Validation
var (
	ErrInvalidBps           = newError("invalid_bps", KindValidation, "basis points must be within [0, 10000]")
	ErrInvalidTimes         = newError("invalid_times", KindValidation, "invalid time window")
	ErrInvalidCapacity      = newError("invalid_capacity", KindValidation, "invalid capacity")
	ErrInvalidPrice         = newError("invalid_price", KindValidation, "invalid price")
	ErrInvalidAmount        = newError("invalid_amount", KindValidation, "amount must be positive")
	ErrInvalidAutoBid       = newError("invalid_auto_bid", KindValidation, "max auto bid must cover the bid amount")
	ErrMissingAuctionWindow = newError("missing_auction_window", KindValidation, "auction window not configured")
	ErrUnknownPlatform      = newError("unknown_platform", KindValidation, "platform not initialized")
	ErrUnknownProfile       = newError("unknown_profile", KindValidation, "creator profile not found")
	ErrUnknownSlot          = newError("unknown_slot", KindValidation, "time slot not found")
	ErrAlreadyExists        = newError("already_exists", KindValidation, "record already exists")
	ErrUnknownAsset         = newError("unknown_asset", KindValidation, "unknown asset")
)

// State mismatch
var (
	ErrWrongMode            = newError("wrong_mode", KindStateMismatch, "operation not valid for slot mode")
	ErrInvalidState         = newError("invalid_state", KindStateMismatch, "operation not valid in current slot state")
	ErrTooEarly             = newError("too_early", KindStateMismatch, "too early")
	ErrTooLate              = newError("too_late", KindStateMismatch, "too late")
	ErrNotReserved          = newError("not_reserved", KindStateMismatch, "slot has no buyer")
	ErrInvalidEscrowBalance = newError("invalid_escrow_balance", KindStateMismatch, "escrow balance does not match")
	ErrFrozen               = newError("frozen", KindStateMismatch, "slot is frozen by a dispute")
	ErrNotFrozen            = newError("not_frozen", KindStateMismatch, "slot is not under dispute")
	ErrBuyNowUnavailable    = newError("buy_now_unavailable", KindStateMismatch, "buy now is not available")
)

// Authorization
var (
	ErrUnauthorized      = newError("unauthorized", KindAuthorization, "caller not authorized")
	ErrUnauthorizedBuyer = newError("unauthorized_buyer", KindAuthorization, "caller is not the buyer")
)

// Capacity and resources
var (
	ErrCapacityExhausted   = newError("capacity_exhausted", KindCapacity, "slot capacity exhausted")
	ErrBidTooLow           = newError("bid_too_low", KindCapacity, "bid below minimum")
	ErrRefundsPending      = newError("refunds_pending", KindCapacity, "earlier refunds must be claimed first")
	ErrNoBids              = newError("no_bids", KindCapacity, "no bids")
	ErrStoreFull           = newError("store_full", KindCapacity, "bounded store is full")
	ErrNothingToRefund     = newError("nothing_to_refund", KindCapacity, "nothing to refund")
	ErrInsufficientFunds   = newError("insufficient_funds", KindCapacity, "insufficient funds")
	ErrProxyRoundsExceeded = newError("proxy_rounds_exceeded", KindCapacity, "auto bid resolution exceeded round limit")
)

// Arithmetic
var ErrOverflow = newError("overflow", KindArithmetic, "arithmetic overflow")

// Commit-reveal
var (
	ErrAlreadyCommitted     = newError("already_committed", KindCommitReveal, "bidder already committed")
	ErrNotCommitted         = newError("not_committed", KindCommitReveal, "no commitment for bidder")
	ErrAlreadyRevealed      = newError("already_revealed", KindCommitReveal, "commitment already revealed")
	ErrRevealMismatch       = newError("reveal_mismatch", KindCommitReveal, "reveal does not match commitment")
	ErrRevealExceedsDeposit = newError("reveal_exceeds_deposit", KindCommitReveal, "revealed amount exceeds deposit")
)

// Ordering
var (
	ErrSequenceGap   = newError("sequence_gap", KindOrdering, "source sequence gap")
	ErrSequenceStale = newError("sequence_stale", KindOrdering, "source sequence already consumed")
)

// As extracts the DomainError carried by err, if any.
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Code returns the stable code for err, or "internal" for unclassified failures.
func Code(err error) string {
	if de, ok := As(err); ok {
		return de.Code
	}
	return "internal"
}
