// Package orderstate encodes and decodes the data carried by token cells:
// a plain 16-byte balance or a 57-byte resting order.
package orderstate

import (
	"encoding/binary"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

const (
	BalanceSize = cell.AmountSize
	OrderSize   = 3*cell.AmountSize + 8 + 1

	// PriceScale is the fixed-point denominator of Order.Price
	PriceScale int64 = 10_000_000_000
	priceExp         = 10
)

// Side of a resting order. Bid buys tokens with native capacity; Ask sells them.
type Side uint8

const (
	Bid Side = 0
	Ask Side = 1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "bid":
		*s = Bid
	case "ask":
		*s = Ask
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// State is the decoded content of a token cell: Balance or Order.
type State interface {
	// Amount is the token balance the cell currently holds
	Amount() cell.Amount
	isState()
}

// Balance is a bare token amount
type Balance struct {
	Value cell.Amount
}

func (b Balance) Amount() cell.Amount { return b.Value }
func (Balance) isState()              {}

// Order is a resting limit order. Price and Side are fixed at creation;
// TradedAmount grows and TargetAmount shrinks by the same delta on every fill.
type Order struct {
	CurrentAmount cell.Amount `json:"current_amount"`
	TradedAmount  cell.Amount `json:"traded_amount"`
	TargetAmount  cell.Amount `json:"target_amount"`
	Price         int64       `json:"price"`
	Side          Side        `json:"side"`
}

func (o Order) Amount() cell.Amount { return o.CurrentAmount }
func (Order) isState()              {}

// Status of an order cell across its life
type Status uint8

const (
	Created Status = iota
	PartiallyFilled
	FullyFilled
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case PartiallyFilled:
		return "partially_filled"
	case FullyFilled:
		return "fully_filled"
	}
	return "unknown"
}

// Status derives the fill status from traded and target amounts
func (o Order) Status() Status {
	switch {
	case o.TargetAmount.IsZero():
		return FullyFilled
	case o.TradedAmount.IsZero():
		return Created
	default:
		return PartiallyFilled
	}
}

// SameIdentity reports whether price and side are unchanged
func (o Order) SameIdentity(other Order) bool {
	return o.Price == other.Price && o.Side == other.Side
}

// Decode parses cell data by length: 16 bytes is a Balance, 57 bytes an Order.
// Anything else, or an order whose side byte is not 0 or 1, is MalformedCellData.
func Decode(data []byte) (State, error) {
	switch len(data) {
	case BalanceSize:
		v, err := cell.AmountFromLE(data)
		if err != nil {
			return nil, err
		}
		return Balance{Value: v}, nil
	case OrderSize:
		return decodeOrder(data)
	default:
		return nil, verdict.Newf(verdict.KindMalformedCellData, "cell data length %d is neither %d nor %d", len(data), BalanceSize, OrderSize)
	}
}

func decodeOrder(data []byte) (Order, error) {
	var (
		o   Order
		err error
	)
	if o.CurrentAmount, err = cell.AmountFromLE(data[0:16]); err != nil {
		return Order{}, err
	}
	if o.TradedAmount, err = cell.AmountFromLE(data[16:32]); err != nil {
		return Order{}, err
	}
	if o.TargetAmount, err = cell.AmountFromLE(data[32:48]); err != nil {
		return Order{}, err
	}
	o.Price = int64(binary.LittleEndian.Uint64(data[48:56]))
	switch side := Side(data[56]); side {
	case Bid, Ask:
		o.Side = side
	default:
		return Order{}, verdict.Newf(verdict.KindMalformedCellData, "invalid order side byte %d", data[56])
	}
	return o, nil
}

// DecodeOrder decodes data that must be a full order
func DecodeOrder(data []byte) (Order, error) {
	if len(data) != OrderSize {
		return Order{}, verdict.Newf(verdict.KindMalformedCellData, "order data must be %d bytes, got %d", OrderSize, len(data))
	}
	return decodeOrder(data)
}

// DecodeBalance returns the token amount of any token cell
func DecodeBalance(data []byte) (cell.Amount, error) {
	st, err := Decode(data)
	if err != nil {
		return cell.Amount{}, err
	}
	return st.Amount(), nil
}

// Encode is the inverse of Decode. A nil state is the empty data of a plain
// cell.
func Encode(s State) []byte {
	switch v := s.(type) {
	case nil:
		return []byte{}
	case Balance:
		return v.Value.Bytes()
	case Order:
		return v.Encode()
	case *Order:
		if v == nil {
			return []byte{}
		}
		return v.Encode()
	default:
		panic(fmt.Sprintf("orderstate: unknown state %T", s))
	}
}

// Encode returns the 57-byte layout
// current u128 | traded u128 | target u128 | price i64 | side u8, all little-endian
func (o Order) Encode() []byte {
	out := make([]byte, OrderSize)
	o.CurrentAmount.PutLE(out[0:16])
	o.TradedAmount.PutLE(out[16:32])
	o.TargetAmount.PutLE(out[32:48])
	binary.LittleEndian.PutUint64(out[48:56], uint64(o.Price))
	out[56] = byte(o.Side)
	return out
}

// PriceDecimal renders a fixed-point price (scaled by 10^10) as a decimal
func PriceDecimal(price int64) decimal.Decimal {
	return decimal.New(price, -priceExp)
}

// PriceFromDecimal converts a human price back into fixed point, truncating
// digits beyond the tenth decimal place.
func PriceFromDecimal(d decimal.Decimal) int64 {
	return d.Shift(priceExp).IntPart()
}
