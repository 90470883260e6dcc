package devnet

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/script"
)

// Code blobs deployed by the genesis block. Scripts reference them by data
// hash; the validators behind them are native Go.
var (
	Secp256k1LockCode = []byte("celldex/secp256k1-keccak-lock/v1")
	SUDTCode          = []byte("celldex/simple-udt/v1")
	OrderLockCode     = []byte("celldex/order-lock/v1")
)

// CodeCellCapacity is the capacity locked in each genesis code cell
const CodeCellCapacity = 100_000 * cell.ShannonsPerCKB

// Codes are the deployed scripts of a devnet chain
type Codes struct {
	Secp256k1Lock script.CodeRef `json:"secp256k1_lock"`
	SUDT          script.CodeRef `json:"sudt"`
	OrderLock     script.CodeRef `json:"order_lock"`
}

// CellDeps lists every code cell; builders attach all of them
func (c Codes) CellDeps() []cell.CellDep {
	var deps []cell.CellDep
	for _, r := range []script.CodeRef{c.Secp256k1Lock, c.SUDT, c.OrderLock} {
		deps = append(deps, cell.CellDep{OutPoint: *r.Dep, DepType: cell.DepTypeCode})
	}
	return deps
}

// Lock is the default lock of addr
func (c Codes) Lock(addr common.Address) cell.Script {
	return crypto.LockScript(c.Secp256k1Lock.CodeHash, c.Secp256k1Lock.HashType, addr)
}

// TokenType is the token issued by owner
func (c Codes) TokenType(owner cell.Script) cell.Script {
	h := owner.Hash()
	return c.SUDT.Script(h.Bytes())
}

// OrderLockFor returns the order lock whose cells owner may withdraw
func (c Codes) OrderLockFor(owner cell.Script) cell.Script {
	h := owner.Hash()
	return c.OrderLock.Script(h.Bytes())
}

// IsOrderLock reports whether s runs the order lock code
func (c Codes) IsOrderLock(s cell.Script) bool {
	return s.CodeHash == c.OrderLock.CodeHash && s.HashType == c.OrderLock.HashType
}

// GenesisCell funds an address at genesis
type GenesisCell struct {
	Address  common.Address `json:"address"`
	Capacity uint64         `json:"capacity"`
}

type Genesis struct {
	Timestamp int64         `json:"timestamp"`
	Cells     []GenesisCell `json:"cells"`
}

// unspendable guards the code cells: no validator is registered for its code,
// so any attempt to spend them fails with ScriptNotFound.
var unspendable = cell.Script{HashType: cell.HashTypeData}

// Tx returns the genesis transaction: code cells first, in a fixed order,
// then the funded cells. It has no inputs and is never verified.
func (g Genesis) Tx() *cell.Transaction {
	tx := &cell.Transaction{}
	for _, code := range [][]byte{Secp256k1LockCode, SUDTCode, OrderLockCode} {
		tx.Outputs = append(tx.Outputs, cell.CellOutput{Capacity: CodeCellCapacity, Lock: unspendable})
		tx.OutputsData = append(tx.OutputsData, hexutil.Bytes(code))
	}

	codes := codesAt(cell.Hash{})
	for _, gc := range g.Cells {
		tx.Outputs = append(tx.Outputs, cell.CellOutput{Capacity: gc.Capacity, Lock: codes.Lock(gc.Address)})
		tx.OutputsData = append(tx.OutputsData, hexutil.Bytes{})
	}
	return tx
}

// Codes returns the code refs deployed by the genesis tx
func (g Genesis) Codes() Codes { return codesAt(g.Tx().Hash()) }

func codesAt(genesisTx cell.Hash) Codes {
	ref := func(i uint32, code []byte) script.CodeRef {
		return script.CodeRef{
			CodeHash: cell.DataHash(code),
			HashType: cell.HashTypeData,
			Dep:      &cell.OutPoint{TxHash: genesisTx, Index: i},
		}
	}
	return Codes{
		Secp256k1Lock: ref(0, Secp256k1LockCode),
		SUDT:          ref(1, SUDTCode),
		OrderLock:     ref(2, OrderLockCode),
	}
}
