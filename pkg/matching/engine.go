// Package matching computes the state two crossing orders must end up in
// after a fill of a given token quantity.
package matching

import (
	"math/bits"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// Fee is 3/1000 of what each side receives
const (
	FeeNumerator   = 3
	FeeDenominator = 1000
)

// Position is an order cell as the matching engine sees it: the native
// capacity it holds plus its decoded order state.
type Position struct {
	Capacity uint64
	Order    orderstate.Order
}

// Fill is the outcome of matching a bid against an ask
type Fill struct {
	Traded       cell.Amount
	TradedNative uint64
	// NativeFee is paid by the bid in capacity
	NativeFee uint64
	// TokenFee is paid by the ask in tokens
	TokenFee cell.Amount

	Bid Position
	Ask Position
}

// Surplus is what the dealmaker may absorb from this fill before paying the
// miner fee.
func (f Fill) Surplus() (native uint64, token cell.Amount) {
	return f.NativeFee, f.TokenFee
}

// ComputeFill settles traded token units between bid and ask at the ask's price.
//
//	tradedNative = traded * askPrice / 10^10
//	bid: capacity - nativeFee - tradedNative, token + traded
//	ask: capacity + tradedNative,             token - tokenFee - traded
//
// Every step is checked; any over- or underflow is AmountArithmeticOverflow.
func ComputeFill(bid, ask Position, traded cell.Amount) (Fill, error) {
	if bid.Order.Side != orderstate.Bid || ask.Order.Side != orderstate.Ask {
		return Fill{}, verdict.Newf(verdict.KindPriceCrossFailure, "sides %s/%s cannot match", bid.Order.Side, ask.Order.Side)
	}
	if ask.Order.Price <= 0 {
		return Fill{}, verdict.Newf(verdict.KindPriceCrossFailure, "ask price %d is not positive", ask.Order.Price)
	}
	if bid.Order.Price < ask.Order.Price {
		return Fill{}, verdict.Newf(verdict.KindPriceCrossFailure, "bid price %d below ask price %d", bid.Order.Price, ask.Order.Price)
	}
	if traded.IsZero() {
		return Fill{}, verdict.Newf(verdict.KindSettlementMismatch, "traded amount must be positive")
	}

	tradedNative, err := NativeValue(traded, ask.Order.Price)
	if err != nil {
		return Fill{}, err
	}
	nativeFee, err := feeOf(tradedNative)
	if err != nil {
		return Fill{}, err
	}
	tokenFee, err := TokenFee(traded)
	if err != nil {
		return Fill{}, err
	}

	f := Fill{
		Traded:       traded,
		TradedNative: tradedNative,
		NativeFee:    nativeFee,
		TokenFee:     tokenFee,
	}

	// bid gives native, receives token
	bidCost, err := addU64(nativeFee, tradedNative)
	if err != nil {
		return Fill{}, err
	}
	if f.Bid.Capacity, err = subU64(bid.Capacity, bidCost); err != nil {
		return Fill{}, err
	}
	if f.Bid.Order, err = advance(bid.Order, traded); err != nil {
		return Fill{}, err
	}
	if f.Bid.Order.CurrentAmount, err = bid.Order.CurrentAmount.Add(traded); err != nil {
		return Fill{}, err
	}

	// ask gives token, receives native
	if f.Ask.Capacity, err = addU64(ask.Capacity, tradedNative); err != nil {
		return Fill{}, err
	}
	if f.Ask.Order, err = advance(ask.Order, traded); err != nil {
		return Fill{}, err
	}
	askCost, err := tokenFee.Add(traded)
	if err != nil {
		return Fill{}, err
	}
	if f.Ask.Order.CurrentAmount, err = ask.Order.CurrentAmount.Sub(askCost); err != nil {
		return Fill{}, err
	}
	return f, nil
}

// advance moves traded units from target to traded, copying price and side
func advance(o orderstate.Order, traded cell.Amount) (orderstate.Order, error) {
	next := o
	var err error
	if next.TradedAmount, err = o.TradedAmount.Add(traded); err != nil {
		return orderstate.Order{}, err
	}
	if next.TargetAmount, err = o.TargetAmount.Sub(traded); err != nil {
		return orderstate.Order{}, err
	}
	return next, nil
}

// NativeValue converts token units to shannons at a fixed-point price.
// The product is taken before dividing by the scale so fractional prices
// keep their precision.
func NativeValue(tokens cell.Amount, price int64) (uint64, error) {
	if price <= 0 {
		return 0, verdict.Newf(verdict.KindPriceCrossFailure, "price %d is not positive", price)
	}
	product, err := tokens.MulUint64(uint64(price))
	if err != nil {
		return 0, err
	}
	return product.DivUint64(uint64(orderstate.PriceScale)).Uint64()
}

// TokenFee is the ask side's fee on traded tokens
func TokenFee(traded cell.Amount) (cell.Amount, error) {
	scaled, err := traded.MulUint64(FeeNumerator)
	if err != nil {
		return cell.Amount{}, err
	}
	return scaled.DivUint64(FeeDenominator), nil
}

func feeOf(native uint64) (uint64, error) {
	hi, lo := bits.Mul64(native, FeeNumerator)
	if hi != 0 {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "fee on %d overflows", native)
	}
	return lo / FeeDenominator, nil
}

func addU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "%d + %d overflows", a, b)
	}
	return sum, nil
}

func subU64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "%d - %d underflows", a, b)
	}
	return diff, nil
}
