package devnet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/orderstate"
)

// TokenCellCapacity is what builders lock into every new token cell
const TokenCellCapacity = 142 * cell.ShannonsPerCKB

// Builder assembles unsigned transactions for common devnet flows. Every tx
// lists all code cells as deps. Sign them with Sign once built.
type Builder struct {
	Codes Codes
}

func (b *Builder) newTx(inputs []cell.ResolvedCell) *cell.Transaction {
	tx := &cell.Transaction{CellDeps: b.Codes.CellDeps()}
	for _, in := range inputs {
		tx.Inputs = append(tx.Inputs, cell.CellInput{PreviousOutput: in.OutPoint})
	}
	return tx
}

func addOutput(tx *cell.Transaction, capacity uint64, lock cell.Script, typ *cell.Script, data []byte) {
	tx.Outputs = append(tx.Outputs, cell.CellOutput{Capacity: capacity, Lock: lock, Type: typ})
	tx.OutputsData = append(tx.OutputsData, hexutil.Bytes(data))
}

func totalCapacity(cells []cell.ResolvedCell) (uint64, error) {
	rtx := cell.ResolvedTransaction{Inputs: cells}
	return rtx.InputCapacity()
}

func spend(total uint64, parts ...uint64) (uint64, error) {
	for _, p := range parts {
		if p > total {
			return 0, fmt.Errorf("insufficient capacity: need %d more shannons", p-total)
		}
		total -= p
	}
	return total, nil
}

// Transfer moves capacity from plain cells to `to`, returning change to the
// lock of from[0]
func (b *Builder) Transfer(from []cell.ResolvedCell, to cell.Script, capacity, fee uint64) (*cell.Transaction, error) {
	if len(from) == 0 {
		return nil, fmt.Errorf("no input cells")
	}
	for _, c := range from {
		if c.Cell.Output.Type != nil {
			return nil, fmt.Errorf("input %s carries a type script", c.OutPoint)
		}
	}
	total, err := totalCapacity(from)
	if err != nil {
		return nil, err
	}
	change, err := spend(total, capacity, fee)
	if err != nil {
		return nil, err
	}

	tx := b.newTx(from)
	addOutput(tx, capacity, to, nil, nil)
	if change > 0 {
		addOutput(tx, change, from[0].Cell.Output.Lock, nil, nil)
	}
	return tx, nil
}

// Issue mints amount of the token owned by from's lock into a new cell held
// by that lock. It returns the token's type script.
func (b *Builder) Issue(from cell.ResolvedCell, amount cell.Amount, fee uint64) (*cell.Transaction, cell.Script, error) {
	owner := from.Cell.Output.Lock
	typ := b.Codes.TokenType(owner)
	change, err := spend(from.Cell.Output.Capacity, TokenCellCapacity, fee)
	if err != nil {
		return nil, cell.Script{}, err
	}

	tx := b.newTx([]cell.ResolvedCell{from})
	addOutput(tx, TokenCellCapacity, owner, &typ, amount.Bytes())
	if change > 0 {
		addOutput(tx, change, owner, nil, nil)
	}
	return tx, typ, nil
}

// tokenInputs sums the tokenType balance and the capacity of inputs. Plain
// cells only contribute capacity; any other type is refused.
func tokenInputs(inputs []cell.ResolvedCell, tokenType cell.Script) (balance cell.Amount, capacity uint64, err error) {
	if len(inputs) == 0 {
		return balance, 0, fmt.Errorf("no input cells")
	}
	for _, in := range inputs {
		t := in.Cell.Output.Type
		if t == nil {
			continue
		}
		if !t.Equal(tokenType) {
			return balance, 0, fmt.Errorf("input %s holds a different token", in.OutPoint)
		}
		v, err := orderstate.DecodeBalance(in.Cell.Data)
		if err != nil {
			return balance, 0, fmt.Errorf("input %s: %w", in.OutPoint, err)
		}
		if balance, err = balance.Add(v); err != nil {
			return balance, 0, err
		}
	}
	capacity, err = totalCapacity(inputs)
	return balance, capacity, err
}

// TransferToken sends amount of tokenType to `to`. inputs are cells of one
// owner: token cells plus plain cells paying for the new cells and the fee.
// Leftover tokens and capacity go back to the owner of inputs[0].
func (b *Builder) TransferToken(inputs []cell.ResolvedCell, tokenType, to cell.Script, amount cell.Amount, fee uint64) (*cell.Transaction, error) {
	balance, total, err := tokenInputs(inputs, tokenType)
	if err != nil {
		return nil, err
	}
	leftover, err := balance.Sub(amount)
	if err != nil {
		return nil, fmt.Errorf("transfer needs %s tokens, inputs hold %s", amount, balance)
	}
	parts := []uint64{TokenCellCapacity, fee}
	if !leftover.IsZero() {
		parts = append(parts, TokenCellCapacity)
	}
	change, err := spend(total, parts...)
	if err != nil {
		return nil, err
	}

	owner := inputs[0].Cell.Output.Lock
	tx := b.newTx(inputs)
	addOutput(tx, TokenCellCapacity, to, &tokenType, amount.Bytes())
	if !leftover.IsZero() {
		addOutput(tx, TokenCellCapacity, owner, &tokenType, leftover.Bytes())
	}
	if change > 0 {
		addOutput(tx, change, owner, nil, nil)
	}
	return tx, nil
}

// CreateOrder places o from cells held by one owner. The inputs must hold at
// least o.CurrentAmount of tokenType; leftover tokens and capacity go back to
// the owner of inputs[0].
func (b *Builder) CreateOrder(inputs []cell.ResolvedCell, tokenType cell.Script, o orderstate.Order, orderCapacity, fee uint64) (*cell.Transaction, error) {
	balance, total, err := tokenInputs(inputs, tokenType)
	if err != nil {
		return nil, err
	}
	leftover, err := balance.Sub(o.CurrentAmount)
	if err != nil {
		return nil, fmt.Errorf("order needs %s tokens, inputs hold %s", o.CurrentAmount, balance)
	}
	parts := []uint64{orderCapacity, fee}
	if !leftover.IsZero() {
		parts = append(parts, TokenCellCapacity)
	}
	change, err := spend(total, parts...)
	if err != nil {
		return nil, err
	}

	owner := inputs[0].Cell.Output.Lock
	tx := b.newTx(inputs)
	addOutput(tx, orderCapacity, b.Codes.OrderLockFor(owner), &tokenType, o.Encode())
	if !leftover.IsZero() {
		addOutput(tx, TokenCellCapacity, owner, &tokenType, leftover.Bytes())
	}
	if change > 0 {
		addOutput(tx, change, owner, nil, nil)
	}
	return tx, nil
}

// Withdraw returns an order cell to its owner as a plain token cell. auth is
// a plain cell of the owner; spending it is what proves ownership.
func (b *Builder) Withdraw(order, auth cell.ResolvedCell, fee uint64) (*cell.Transaction, error) {
	owner := auth.Cell.Output.Lock
	if !order.Cell.Output.Lock.Equal(b.Codes.OrderLockFor(owner)) {
		return nil, fmt.Errorf("order %s is not owned by %s", order.OutPoint, owner.Hash())
	}
	if auth.Cell.Output.Type != nil {
		return nil, fmt.Errorf("auth cell %s carries a type script", auth.OutPoint)
	}
	state, err := orderstate.Decode(order.Cell.Data)
	if err != nil {
		return nil, err
	}
	capacity, err := totalCapacity([]cell.ResolvedCell{auth, order})
	if err != nil {
		return nil, err
	}
	if capacity, err = spend(capacity, fee); err != nil {
		return nil, err
	}

	tx := b.newTx([]cell.ResolvedCell{auth, order})
	addOutput(tx, capacity, owner, order.Cell.Output.Type, state.Amount().Bytes())
	return tx, nil
}

// Sign adds each signer's witness at the first input it owns. cells must
// contain every input of tx that a signer owns.
func (b *Builder) Sign(tx *cell.Transaction, cells []cell.ResolvedCell, signers ...*crypto.Signer) error {
	byOutPoint := make(map[cell.OutPoint]cell.Script, len(cells))
	for _, c := range cells {
		byOutPoint[c.OutPoint] = c.Cell.Output.Lock
	}
	for _, s := range signers {
		lock := b.Codes.Lock(s.Address())
		idx := -1
		for i, in := range tx.Inputs {
			if l, ok := byOutPoint[in.PreviousOutput]; ok && l.Equal(lock) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("signer %s owns no input", s.Address().Hex())
		}
		if err := s.SignTransaction(tx, idx); err != nil {
			return fmt.Errorf("failed to sign input %d: %w", idx, err)
		}
	}
	return nil
}
