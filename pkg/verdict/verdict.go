// Package verdict defines the rejection taxonomy shared by every script
// validator. A transaction is either accepted (nil error) or rejected with
// exactly one Kind; rejections are terminal and never retried.
package verdict

import (
	"errors"
	"fmt"
)

// Kind classifies why a transaction was rejected.
type Kind uint32

const (
	KindOK Kind = iota

	// Validation failures of the token and order scripts.
	KindMalformedCellData
	KindMintNotAuthorized
	KindPriceCrossFailure
	KindSettlementMismatch
	KindOrderIdentityMutated
	KindInsufficientDealmakerProfit
	KindAmountArithmeticOverflow

	// Failures raised by the devnet around the scripts.
	KindUnauthorized
	KindScriptNotFound
	KindMissingCellDep
	KindDeadCell
	KindMalformedTransaction
)

var kindNames = map[Kind]string{
	KindOK:                          "OK",
	KindMalformedCellData:           "MalformedCellData",
	KindMintNotAuthorized:           "MintNotAuthorized",
	KindPriceCrossFailure:           "PriceCrossFailure",
	KindSettlementMismatch:          "SettlementMismatch",
	KindOrderIdentityMutated:        "OrderIdentityMutated",
	KindInsufficientDealmakerProfit: "InsufficientDealmakerProfit",
	KindAmountArithmeticOverflow:    "AmountArithmeticOverflow",
	KindUnauthorized:                "Unauthorized",
	KindScriptNotFound:              "ScriptNotFound",
	KindMissingCellDep:              "MissingCellDep",
	KindDeadCell:                    "DeadCell",
	KindMalformedTransaction:        "MalformedTransaction",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", b)
}

// Error is a rejection carrying its Kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is reports whether target is a rejection of the same kind, so callers can
// write errors.Is(err, verdict.ErrMintNotAuthorized).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrMalformedCellData           = &Error{Kind: KindMalformedCellData}
	ErrMintNotAuthorized           = &Error{Kind: KindMintNotAuthorized}
	ErrPriceCrossFailure           = &Error{Kind: KindPriceCrossFailure}
	ErrSettlementMismatch          = &Error{Kind: KindSettlementMismatch}
	ErrOrderIdentityMutated        = &Error{Kind: KindOrderIdentityMutated}
	ErrInsufficientDealmakerProfit = &Error{Kind: KindInsufficientDealmakerProfit}
	ErrAmountArithmeticOverflow    = &Error{Kind: KindAmountArithmeticOverflow}
	ErrUnauthorized                = &Error{Kind: KindUnauthorized}
	ErrScriptNotFound              = &Error{Kind: KindScriptNotFound}
	ErrMissingCellDep              = &Error{Kind: KindMissingCellDep}
	ErrDeadCell                    = &Error{Kind: KindDeadCell}
	ErrMalformedTransaction        = &Error{Kind: KindMalformedTransaction}
)

// Newf builds a rejection of the given kind.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, KindOK for nil
// and KindMalformedTransaction for errors that carry no kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindMalformedTransaction
}

// Verdict is the boolean outcome of evaluating one script.
type Verdict struct {
	Accepted bool
	Kind     Kind
	Reason   string
}

// FromError converts a validator result into a Verdict.
func FromError(err error) Verdict {
	if err == nil {
		return Verdict{Accepted: true, Kind: KindOK}
	}
	return Verdict{Kind: KindOf(err), Reason: err.Error()}
}
