package cell

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/celldex/pkg/verdict"
)

// AmountSize is the byte length of an encoded token amount (u128 LE).
const AmountSize = 16

// Amount is an unsigned 128-bit token quantity. It is backed by a 256-bit
// integer so intermediate products can be checked before being narrowed.
// The zero value is 0.
type Amount struct {
	n uint256.Int
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	var a Amount
	a.n.SetUint64(v)
	return a
}

// MaxAmount is 2^128 - 1.
func MaxAmount() Amount {
	var a Amount
	a.n[0] = ^uint64(0)
	a.n[1] = ^uint64(0)
	return a
}

// ParseAmount parses a base-10 string.
func ParseAmount(s string) (Amount, error) {
	n, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	a := Amount{n: *n}
	if !a.fits() {
		return Amount{}, verdict.Newf(verdict.KindAmountArithmeticOverflow, "amount %s exceeds 128 bits", s)
	}
	return a, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AmountFromLE decodes a 16-byte little-endian u128.
func AmountFromLE(b []byte) (Amount, error) {
	if len(b) != AmountSize {
		return Amount{}, verdict.Newf(verdict.KindMalformedCellData, "amount must be %d bytes, got %d", AmountSize, len(b))
	}
	var a Amount
	a.n[0] = binary.LittleEndian.Uint64(b[0:8])
	a.n[1] = binary.LittleEndian.Uint64(b[8:16])
	return a, nil
}

// PutLE writes the amount as 16 little-endian bytes into dst.
func (a Amount) PutLE(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], a.n[0])
	binary.LittleEndian.PutUint64(dst[8:16], a.n[1])
}

// Bytes returns the 16-byte little-endian encoding.
func (a Amount) Bytes() []byte {
	out := make([]byte, AmountSize)
	a.PutLE(out)
	return out
}

func (a Amount) fits() bool { return a.n[2] == 0 && a.n[3] == 0 }

func overflow(op string, x, y Amount) error {
	return verdict.Newf(verdict.KindAmountArithmeticOverflow, "%s %s %s", x, op, y)
}

// Add returns a+b or an overflow rejection.
func (a Amount) Add(b Amount) (Amount, error) {
	var out Amount
	if _, carry := out.n.AddOverflow(&a.n, &b.n); carry || !out.fits() {
		return Amount{}, overflow("+", a, b)
	}
	return out, nil
}

// Sub returns a-b or an underflow rejection.
func (a Amount) Sub(b Amount) (Amount, error) {
	var out Amount
	if _, borrow := out.n.SubOverflow(&a.n, &b.n); borrow {
		return Amount{}, overflow("-", a, b)
	}
	return out, nil
}

// MulUint64 returns a*m or an overflow rejection.
func (a Amount) MulUint64(m uint64) (Amount, error) {
	var out Amount
	mm := uint256.NewInt(m)
	if _, of := out.n.MulOverflow(&a.n, mm); of || !out.fits() {
		return Amount{}, overflow("*", a, NewAmount(m))
	}
	return out, nil
}

// MulAmount returns a*b or an overflow rejection.
func (a Amount) MulAmount(b Amount) (Amount, error) {
	var out Amount
	if _, of := out.n.MulOverflow(&a.n, &b.n); of || !out.fits() {
		return Amount{}, overflow("*", a, b)
	}
	return out, nil
}

// DivUint64 returns a/d truncated. d must be non-zero.
func (a Amount) DivUint64(d uint64) Amount {
	var out Amount
	out.n.Div(&a.n, uint256.NewInt(d))
	return out
}

// Uint64 narrows the amount, failing when it does not fit 64 bits.
func (a Amount) Uint64() (uint64, error) {
	if !a.n.IsUint64() {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "%s exceeds 64 bits", a)
	}
	return a.n.Uint64(), nil
}

func (a Amount) Cmp(b Amount) int { return a.n.Cmp(&b.n) }
func (a Amount) Eq(b Amount) bool { return a.n.Eq(&b.n) }
func (a Amount) Lt(b Amount) bool { return a.n.Lt(&b.n) }
func (a Amount) IsZero() bool     { return a.n.IsZero() }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.Lt(b) {
		return a
	}
	return b
}

func (a Amount) String() string { return a.n.Dec() }

func (a Amount) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Amount) UnmarshalText(b []byte) error {
	v, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}
