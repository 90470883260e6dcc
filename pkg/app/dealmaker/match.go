// Package dealmaker builds and submits settlement transactions that fill
// crossing orders, taking the trading fees as its reward.
package dealmaker

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/matching"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

type MatchParams struct {
	Codes devnet.Codes
	// Dealmaker funds the miner fee and collects the trading fees. It must be
	// a plain cell or a cell of the matched token.
	Dealmaker cell.ResolvedCell
	Bid       cell.ResolvedCell
	Ask       cell.ResolvedCell
	Traded    cell.Amount
	MinerFee  uint64
}

// BuildMatch returns the unsigned settlement tx for p. Inputs are dealmaker,
// bid, ask; outputs follow the same order. The dealmaker witness goes at
// input 0.
func BuildMatch(p MatchParams) (*cell.Transaction, matching.Fill, error) {
	bid, err := position(p.Bid)
	if err != nil {
		return nil, matching.Fill{}, fmt.Errorf("bid %s: %w", p.Bid.OutPoint, err)
	}
	ask, err := position(p.Ask)
	if err != nil {
		return nil, matching.Fill{}, fmt.Errorf("ask %s: %w", p.Ask.OutPoint, err)
	}

	token := p.Bid.Cell.Output.Type
	if token == nil || p.Ask.Cell.Output.Type == nil || !token.Equal(*p.Ask.Cell.Output.Type) {
		return nil, matching.Fill{}, verdict.Newf(verdict.KindSettlementMismatch, "bid and ask trade different tokens")
	}

	fill, err := matching.ComputeFill(bid, ask, p.Traded)
	if err != nil {
		return nil, matching.Fill{}, err
	}

	dm := p.Dealmaker.Cell
	var held cell.Amount
	if t := dm.Output.Type; t != nil {
		if !t.Equal(*token) {
			return nil, matching.Fill{}, fmt.Errorf("dealmaker cell %s holds a different token", p.Dealmaker.OutPoint)
		}
		if held, err = orderstate.DecodeBalance(dm.Data); err != nil {
			return nil, matching.Fill{}, fmt.Errorf("dealmaker cell %s: %w", p.Dealmaker.OutPoint, err)
		}
	}

	native, tokens := fill.Surplus()
	if native < p.MinerFee {
		return nil, matching.Fill{}, verdict.Newf(verdict.KindInsufficientDealmakerProfit,
			"native fee %d does not cover miner fee %d", native, p.MinerFee)
	}
	dmCapacity := dm.Output.Capacity + (native - p.MinerFee)
	if dmCapacity < dm.Output.Capacity {
		return nil, matching.Fill{}, verdict.Newf(verdict.KindAmountArithmeticOverflow, "dealmaker capacity overflows")
	}
	dmTokens, err := held.Add(tokens)
	if err != nil {
		return nil, matching.Fill{}, err
	}

	tx := &cell.Transaction{
		CellDeps: p.Codes.CellDeps(),
		Inputs: []cell.CellInput{
			{PreviousOutput: p.Dealmaker.OutPoint},
			{PreviousOutput: p.Bid.OutPoint},
			{PreviousOutput: p.Ask.OutPoint},
		},
		Outputs: []cell.CellOutput{
			{Capacity: dmCapacity, Lock: dm.Output.Lock, Type: token},
			{Capacity: fill.Bid.Capacity, Lock: p.Bid.Cell.Output.Lock, Type: token},
			{Capacity: fill.Ask.Capacity, Lock: p.Ask.Cell.Output.Lock, Type: token},
		},
		OutputsData: []hexutil.Bytes{
			dmTokens.Bytes(),
			fill.Bid.Order.Encode(),
			fill.Ask.Order.Encode(),
		},
	}
	return tx, fill, nil
}

func position(rc cell.ResolvedCell) (matching.Position, error) {
	o, err := orderstate.DecodeOrder(rc.Cell.Data)
	if err != nil {
		return matching.Position{}, err
	}
	return matching.Position{Capacity: rc.Cell.Output.Capacity, Order: o}, nil
}

// Fillable is the largest quantity bid and ask can trade: neither target may
// go negative, the ask must cover traded tokens plus its token fee, and the
// bid's capacity must cover the native cost plus its native fee. It returns
// zero when the orders cannot trade.
func Fillable(bid, ask matching.Position) cell.Amount {
	if ask.Order.Price <= 0 || bid.Order.Price < ask.Order.Price {
		return cell.Amount{}
	}
	limit := cell.Min(bid.Order.TargetAmount, ask.Order.TargetAmount)

	// traded * (1000+3) / 1000 <= ask current
	if scaled, err := ask.Order.CurrentAmount.MulUint64(matching.FeeDenominator); err == nil {
		limit = cell.Min(limit, scaled.DivUint64(matching.FeeDenominator+matching.FeeNumerator))
	}

	// native * (1000+3) / 1000 <= bid capacity, native = traded * price / 10^10
	maxNative, err := cell.NewAmount(bid.Capacity).MulUint64(matching.FeeDenominator)
	if err != nil {
		return cell.Amount{}
	}
	maxNative = maxNative.DivUint64(matching.FeeDenominator + matching.FeeNumerator)
	if scaled, err := maxNative.MulUint64(uint64(orderstate.PriceScale)); err == nil {
		limit = cell.Min(limit, scaled.DivUint64(uint64(ask.Order.Price)))
	}
	return limit
}
