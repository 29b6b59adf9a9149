package pool

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pool errors. Kinds are errors themselves so callers can test a whole
// class with errors.Is(err, pool.KindState).
type Kind int

const (
	KindValidation Kind = iota + 1
	KindState
	KindSlippage
	KindExpired
	KindParameterBounds
	KindExternalCall
	KindArithmetic
	KindAccess
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindState:
		return "state error"
	case KindSlippage:
		return "slippage exceeded"
	case KindExpired:
		return "transaction expired"
	case KindParameterBounds:
		return "parameter out of bounds"
	case KindExternalCall:
		return "external call failed"
	case KindArithmetic:
		return "arithmetic error"
	case KindAccess:
		return "access denied"
	case KindInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

func (k Kind) Error() string {
	return k.String()
}

var (
	ErrZeroAmount             = errors.New("zero amount")
	ErrZeroAddress            = errors.New("zero address")
	ErrInsufficientOutput     = errors.New("trade output rounds to zero")
	ErrPaused                 = errors.New("pool is paused")
	ErrSellsDisabledDuringIBR = errors.New("sells disabled during initial bonding round")
	ErrTradeTooLarge          = errors.New("trade exceeds max size")
	ErrEmptyPool              = errors.New("pool has no reserve")
	ErrSlippageExceeded       = errors.New("slippage exceeded")
	ErrTransactionExpired     = errors.New("transaction expired")
	ErrParameterOutOfBounds   = errors.New("parameter out of bounds")
	ErrExternalCallFailed     = errors.New("external call failed")
	ErrCompensationFailed     = errors.New("compensating rollback failed")
	ErrArithmetic             = errors.New("arithmetic guard tripped")
	ErrUnauthorized           = errors.New("caller lacks required role")
	ErrInvariantViolation     = errors.New("ledger invariant violated")
)

var reasonKinds = map[error]Kind{
	ErrZeroAmount:             KindValidation,
	ErrZeroAddress:            KindValidation,
	ErrInsufficientOutput:     KindValidation,
	ErrPaused:                 KindState,
	ErrSellsDisabledDuringIBR: KindState,
	ErrTradeTooLarge:          KindState,
	ErrEmptyPool:              KindState,
	ErrSlippageExceeded:       KindSlippage,
	ErrTransactionExpired:     KindExpired,
	ErrParameterOutOfBounds:   KindParameterBounds,
	ErrExternalCallFailed:     KindExternalCall,
	ErrCompensationFailed:     KindExternalCall,
	ErrArithmetic:             KindArithmetic,
	ErrUnauthorized:           KindAccess,
	ErrInvariantViolation:     KindInternal,
}

// Error is returned by every pool operation that fails.
type Error struct {
	Op     string
	Kind   Kind
	Reason error
	Detail string
	Err    error
}

// NewError builds a pool error for collaborators such as the factory. The kind follows
// from reason; reasons outside the pool's own sentinels are internal errors.
func NewError(op string, reason error, cause error, format string, args ...interface{}) *Error {
	return newError(op, reason, cause, format, args...)
}

func newError(op string, reason error, cause error, format string, args ...interface{}) *Error {
	kind, ok := reasonKinds[reason]
	if !ok {
		kind = KindInternal
	}
	e := &Error{Op: op, Kind: kind, Reason: reason, Err: cause}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("pool: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Reason != nil {
		b.WriteString(e.Reason.Error())
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Detail != "" {
		b.WriteString(" (")
		b.WriteString(e.Detail)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is this error's Kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Reason != nil {
		out = append(out, e.Reason)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the Kind of a pool error, or zero for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
