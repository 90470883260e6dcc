// Package settlement implements the order lock. An order cell may be spent
// either by its owner (withdrawal) or by a dealmaker transaction that fills a
// bid against an ask exactly as the matching engine prescribes.
package settlement

import (
	"fmt"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/matching"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/sudt"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// Validator is stateless; the order lock's code is taken from the activated
// script so one value serves every order owner.
type Validator struct{}

// leg is one order cell spent and recreated by the match
type leg struct {
	inputIndex  int
	outputIndex int
	in          orderstate.Order
	out         orderstate.Order
	inCell      cell.Cell
	outCell     cell.Cell
}

// Evaluate runs once per distinct order lock (owner) on the transaction
func (Validator) Evaluate(tx *cell.ResolvedTransaction, self cell.Script) error {
	// owner withdrawal: the owner's own lock appears among the inputs
	if tx.HasInputLock(self.Args) {
		return nil
	}
	return VerifyMatch(tx, self)
}

// VerifyMatch checks a dealmaker transaction. orderCode identifies order cells
// by code; inputs under that code whose owner also signs the transaction are
// withdrawals and take no part in the match.
func VerifyMatch(tx *cell.ResolvedTransaction, orderCode cell.Script) error {
	outputs := tx.Outputs()

	legs, dealmaker, err := partition(tx, outputs, orderCode)
	if err != nil {
		return err
	}

	var bids, asks []leg
	for _, l := range legs {
		if !l.in.SameIdentity(l.out) {
			return verdict.Newf(verdict.KindOrderIdentityMutated, "input %d: price/side %d/%s became %d/%s",
				l.inputIndex, l.in.Price, l.in.Side, l.out.Price, l.out.Side)
		}
		if !sameType(l.inCell.Output.Type, l.outCell.Output.Type) {
			return verdict.Newf(verdict.KindSettlementMismatch, "input %d: order token type changed", l.inputIndex)
		}
		if l.in.Side == orderstate.Bid {
			bids = append(bids, l)
		} else {
			asks = append(asks, l)
		}
	}
	if len(bids) == 0 || len(bids) != len(asks) {
		return verdict.Newf(verdict.KindSettlementMismatch, "%d bids cannot pair with %d asks", len(bids), len(asks))
	}

	tokenTypes := make(map[cell.Hash]cell.Script)
	for k := range bids {
		if err := checkPair(bids[k], asks[k]); err != nil {
			return fmt.Errorf("pair %d: %w", k, err)
		}
		for _, l := range []leg{bids[k], asks[k]} {
			if t := l.inCell.Output.Type; t != nil {
				tokenTypes[t.Hash()] = *t
			}
		}
	}

	if err := checkDealmaker(tx, outputs, dealmaker, tokenTypes); err != nil {
		return err
	}

	for _, o := range outputs {
		if o.Output.Lock.Equal(dealmaker) && o.Output.Type != nil {
			tokenTypes[o.Output.Type.Hash()] = *o.Output.Type
		}
	}
	for _, t := range tokenTypes {
		if err := sudt.Validate(tx, t); err != nil {
			return fmt.Errorf("token %s: %w", t.Hash(), err)
		}
	}
	return nil
}

// partition pairs each order input with its recreated output. The k-th input
// under a given order lock pairs with the k-th output under the same lock.
// The dealmaker is the lock of the first input that is not an order cell.
func partition(tx *cell.ResolvedTransaction, outputs []cell.Cell, orderCode cell.Script) ([]leg, cell.Script, error) {
	var (
		legs         []leg
		dealmaker    cell.Script
		hasDealmaker bool
		used         = make(map[int]bool)
	)
	for i, in := range tx.Inputs {
		lock := in.Cell.Output.Lock
		if !lock.SameCode(orderCode) {
			if !hasDealmaker {
				dealmaker, hasDealmaker = lock, true
			}
			continue
		}
		if tx.HasInputLock(lock.Args) {
			continue
		}

		j := nextOutput(outputs, lock, used)
		if j < 0 {
			return nil, cell.Script{}, verdict.Newf(verdict.KindSettlementMismatch, "order input %d has no matching output", i)
		}
		used[j] = true

		inOrder, err := orderstate.DecodeOrder(in.Cell.Data)
		if err != nil {
			return nil, cell.Script{}, fmt.Errorf("order input %d: %w", i, err)
		}
		outOrder, err := orderstate.DecodeOrder(outputs[j].Data)
		if err != nil {
			return nil, cell.Script{}, fmt.Errorf("order output %d: %w", j, err)
		}
		legs = append(legs, leg{
			inputIndex:  i,
			outputIndex: j,
			in:          inOrder,
			out:         outOrder,
			inCell:      in.Cell,
			outCell:     outputs[j],
		})
	}
	if !hasDealmaker {
		return nil, cell.Script{}, verdict.Newf(verdict.KindSettlementMismatch, "no dealmaker input")
	}
	if len(legs) == 0 {
		return nil, cell.Script{}, verdict.Newf(verdict.KindSettlementMismatch, "no order cells to settle")
	}
	return legs, dealmaker, nil
}

func nextOutput(outputs []cell.Cell, lock cell.Script, used map[int]bool) int {
	for j, o := range outputs {
		if !used[j] && o.Output.Lock.Equal(lock) {
			return j
		}
	}
	return -1
}

// checkPair recomputes the fill and compares it with the declared outputs
func checkPair(bid, ask leg) error {
	bidTraded, err := tradedDelta(bid)
	if err != nil {
		return err
	}
	askTraded, err := tradedDelta(ask)
	if err != nil {
		return err
	}
	if !bidTraded.Eq(askTraded) {
		return verdict.Newf(verdict.KindSettlementMismatch, "bid traded %s != ask traded %s", bidTraded, askTraded)
	}
	if bidTraded.IsZero() {
		return verdict.Newf(verdict.KindSettlementMismatch, "nothing traded")
	}

	fill, err := matching.ComputeFill(
		matching.Position{Capacity: bid.inCell.Output.Capacity, Order: bid.in},
		matching.Position{Capacity: ask.inCell.Output.Capacity, Order: ask.in},
		bidTraded,
	)
	if err != nil {
		return err
	}
	if err := compare("bid", bid, fill.Bid); err != nil {
		return err
	}
	return compare("ask", ask, fill.Ask)
}

func tradedDelta(l leg) (cell.Amount, error) {
	if l.out.TradedAmount.Lt(l.in.TradedAmount) {
		return cell.Amount{}, verdict.Newf(verdict.KindSettlementMismatch, "input %d: traded amount decreased", l.inputIndex)
	}
	return l.out.TradedAmount.Sub(l.in.TradedAmount)
}

func compare(side string, l leg, want matching.Position) error {
	got := l.outCell.Output.Capacity
	if got != want.Capacity {
		return verdict.Newf(verdict.KindSettlementMismatch, "%s output %d capacity %d, expected %d", side, l.outputIndex, got, want.Capacity)
	}
	if l.out != want.Order {
		return verdict.Newf(verdict.KindSettlementMismatch, "%s output %d state %+v, expected %+v", side, l.outputIndex, l.out, want.Order)
	}
	return nil
}

// checkDealmaker requires the dealmaker to keep at least its input capacity
// less the miner fee, and at least its input balance of every matched token.
// Tokens pay no miner fee.
func checkDealmaker(tx *cell.ResolvedTransaction, outputs []cell.Cell, dealmaker cell.Script, tokenTypes map[cell.Hash]cell.Script) error {
	minerFee, err := tx.Fee()
	if err != nil {
		return err
	}

	var inNative, outNative uint64
	for _, in := range tx.Inputs {
		if in.Cell.Output.Lock.Equal(dealmaker) {
			if inNative, err = add(inNative, in.Cell.Output.Capacity); err != nil {
				return err
			}
		}
	}
	for _, o := range outputs {
		if o.Output.Lock.Equal(dealmaker) {
			if outNative, err = add(outNative, o.Output.Capacity); err != nil {
				return err
			}
		}
	}
	// the dealmaker may fund part of the miner fee itself: out >= in - fee
	covered, err := add(outNative, minerFee)
	if err != nil {
		return err
	}
	if covered < inNative {
		return verdict.Newf(verdict.KindInsufficientDealmakerProfit, "dealmaker capacity %d below input %d less miner fee %d", outNative, inNative, minerFee)
	}

	for _, t := range tokenTypes {
		inToken, err := tokenBalance(inputCells(tx), dealmaker, t)
		if err != nil {
			return err
		}
		outToken, err := tokenBalance(outputs, dealmaker, t)
		if err != nil {
			return err
		}
		if outToken.Lt(inToken) {
			return verdict.Newf(verdict.KindInsufficientDealmakerProfit, "dealmaker token %s below input %s", outToken, inToken)
		}
	}
	return nil
}

func inputCells(tx *cell.ResolvedTransaction) []cell.Cell {
	out := make([]cell.Cell, len(tx.Inputs))
	for i, in := range tx.Inputs {
		out[i] = in.Cell
	}
	return out
}

// tokenBalance sums the balances of lock's cells of type t. Cells without a
// type hold no tokens.
func tokenBalance(cells []cell.Cell, lock, t cell.Script) (cell.Amount, error) {
	var total cell.Amount
	for _, c := range cells {
		if !c.Output.Lock.Equal(lock) || !c.Output.HasType(t) {
			continue
		}
		amt, err := orderstate.DecodeBalance(c.Data)
		if err != nil {
			return cell.Amount{}, err
		}
		if total, err = total.Add(amt); err != nil {
			return cell.Amount{}, err
		}
	}
	return total, nil
}

func sameType(a, b *cell.Script) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func add(a, b uint64) (uint64, error) {
	if a+b < a {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "%d + %d overflows", a, b)
	}
	return a + b, nil
}
