package cell

import (
	"math/bits"

	"github.com/uhyunpark/celldex/pkg/verdict"
)

// ResolvedTransaction is a transaction whose inputs have been looked up in the
// live-cell set. It is the read-only value every script validator receives.
type ResolvedTransaction struct {
	Tx     *Transaction
	Inputs []ResolvedCell
}

// Outputs pairs each output with its data
func (rtx *ResolvedTransaction) Outputs() []Cell {
	out := make([]Cell, len(rtx.Tx.Outputs))
	for i, o := range rtx.Tx.Outputs {
		var data []byte
		if i < len(rtx.Tx.OutputsData) {
			data = rtx.Tx.OutputsData[i]
		}
		out[i] = Cell{Output: o, Data: data}
	}
	return out
}

// InputCapacity sums input capacities
func (rtx *ResolvedTransaction) InputCapacity() (uint64, error) {
	var total uint64
	for _, in := range rtx.Inputs {
		sum, carry := bits.Add64(total, in.Cell.Output.Capacity, 0)
		if carry != 0 {
			return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "input capacity overflows u64")
		}
		total = sum
	}
	return total, nil
}

// OutputCapacity sums output capacities
func (rtx *ResolvedTransaction) OutputCapacity() (uint64, error) {
	var total uint64
	for _, o := range rtx.Tx.Outputs {
		sum, carry := bits.Add64(total, o.Capacity, 0)
		if carry != 0 {
			return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "output capacity overflows u64")
		}
		total = sum
	}
	return total, nil
}

// Fee is the miner fee: input capacity minus output capacity
func (rtx *ResolvedTransaction) Fee() (uint64, error) {
	in, err := rtx.InputCapacity()
	if err != nil {
		return 0, err
	}
	out, err := rtx.OutputCapacity()
	if err != nil {
		return 0, err
	}
	if out > in {
		return 0, verdict.Newf(verdict.KindAmountArithmeticOverflow, "outputs create %d shannons", out-in)
	}
	return in - out, nil
}

// InputIndexesByLock groups input indexes by lock hash, preserving input order
func (rtx *ResolvedTransaction) InputIndexesByLock(lockHash Hash) []int {
	var idx []int
	for i, in := range rtx.Inputs {
		if in.Cell.Output.Lock.Hash() == lockHash {
			idx = append(idx, i)
		}
	}
	return idx
}

// HasInputLock reports whether some input is guarded by a lock hashing to h
func (rtx *ResolvedTransaction) HasInputLock(h []byte) bool {
	want, ok := BytesToHash(h)
	if !ok {
		return false
	}
	for _, in := range rtx.Inputs {
		if in.Cell.Output.Lock.Hash() == want {
			return true
		}
	}
	return false
}
