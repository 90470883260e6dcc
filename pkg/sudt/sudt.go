// Package sudt implements the simple user-defined token rule: within one
// transaction the total of a token type may not grow unless the token owner
// signs for one of the inputs.
package sudt

import (
	"fmt"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// Totals are the summed token amounts of one type on both sides of a tx
type Totals struct {
	In  cell.Amount
	Out cell.Amount
}

// Sum adds up the token amount of every input and output tagged with tokenType.
// Cells may carry a plain balance or a full order; both encode the balance
// in their first 16 bytes.
func Sum(tx *cell.ResolvedTransaction, tokenType cell.Script) (Totals, error) {
	var t Totals
	for i, in := range tx.Inputs {
		if !in.Cell.Output.HasType(tokenType) {
			continue
		}
		amt, err := orderstate.DecodeBalance(in.Cell.Data)
		if err != nil {
			return Totals{}, fmt.Errorf("input %d: %w", i, err)
		}
		if t.In, err = t.In.Add(amt); err != nil {
			return Totals{}, err
		}
	}
	for i, out := range tx.Outputs() {
		if !out.Output.HasType(tokenType) {
			continue
		}
		amt, err := orderstate.DecodeBalance(out.Data)
		if err != nil {
			return Totals{}, fmt.Errorf("output %d: %w", i, err)
		}
		if t.Out, err = t.Out.Add(amt); err != nil {
			return Totals{}, err
		}
	}
	return t, nil
}

// Validate accepts tx if the token total of tokenType does not grow, or if an
// input is locked by the owner whose lock hash is tokenType.Args.
func Validate(tx *cell.ResolvedTransaction, tokenType cell.Script) error {
	totals, err := Sum(tx, tokenType)
	if err != nil {
		return err
	}
	if totals.Out.Cmp(totals.In) <= 0 {
		return nil
	}
	if tx.HasInputLock(tokenType.Args) {
		return nil
	}
	return verdict.Newf(verdict.KindMintNotAuthorized, "outputs %s exceed inputs %s for token %s", totals.Out, totals.In, tokenType.Hash())
}

// Script adapts Validate to the script engine. It runs once per distinct
// token type found on the transaction.
type Script struct{}

func (Script) Evaluate(tx *cell.ResolvedTransaction, self cell.Script) error {
	return Validate(tx, self)
}
