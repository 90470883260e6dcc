// Package devnet is a single-node ledger that runs every transaction through
// the script engine before committing it to the live-cell store.
package devnet

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/abci"
	"github.com/uhyunpark/celldex/pkg/app/core/mempool"
	"github.com/uhyunpark/celldex/pkg/app/core/orderbook"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/script"
	"github.com/uhyunpark/celldex/pkg/settlement"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/sudt"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// ErrAlreadyPending is returned when a tx with the same hash is in the mempool
var ErrAlreadyPending = errors.New("tx already pending")

// Committed is passed to commit hooks after a block is stored
type Committed struct {
	Block   storage.Block
	Txs     []*cell.Transaction
	Results []abci.TxResult
}

type Status struct {
	Height    uint64    `json:"height"`
	Hash      cell.Hash `json:"hash"`
	Timestamp int64     `json:"timestamp"`
	StateHash cell.Hash `json:"state_hash"`
	Pending   int       `json:"pending"`
	Codes     Codes     `json:"codes"`
}

type App struct {
	mu      sync.Mutex
	store   storage.CellStore
	engine  *script.Engine
	mempool *mempool.Mempool
	logger  *zap.SugaredLogger

	genesis Genesis
	codes   Codes

	hookMu sync.RWMutex
	hooks  []func(Committed)
}

var _ abci.Application = (*App)(nil)

// NewApp opens the chain in store, writing the genesis block if store is empty.
// A store holding a different genesis is refused.
func NewApp(store storage.CellStore, genesis Genesis, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{
		store:   store,
		engine:  script.NewEngine(logger),
		logger:  logger,
		genesis: genesis,
		codes:   genesis.Codes(),
	}
	a.mempool = mempool.NewMempool(a.classify)

	a.engine.Register(a.codes.Secp256k1Lock, crypto.Secp256k1Lock{})
	a.engine.Register(a.codes.SUDT, sudt.Script{})
	a.engine.Register(a.codes.OrderLock, settlement.Validator{})

	first, err := store.GetBlock(0)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if err := a.writeGenesis(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read genesis block: %w", err)
	default:
		want := genesis.Tx().Hash()
		if len(first.TxHashes) != 1 || first.TxHashes[0] != want {
			return nil, fmt.Errorf("store holds a different genesis (want tx %s)", want)
		}
	}
	return a, nil
}

func (a *App) writeGenesis() error {
	tx := a.genesis.Tx()
	txHash := tx.Hash()

	created := make([]cell.ResolvedCell, len(tx.Outputs))
	for i, o := range tx.Outputs {
		created[i] = cell.ResolvedCell{
			OutPoint: cell.OutPoint{TxHash: txHash, Index: uint32(i)},
			Cell:     cell.Cell{Output: o, Data: tx.OutputsData[i]},
		}
	}
	block := sealBlock(0, cell.Hash{}, a.genesis.Timestamp, []cell.Hash{txHash})
	if err := a.store.ApplyBlock(storage.BlockUpdate{Block: block, Created: created}); err != nil {
		return fmt.Errorf("failed to write genesis: %w", err)
	}
	a.logger.Infow("genesis_written", "hash", block.Hash.Hex(), "cells", len(created))
	return nil
}

func (a *App) Codes() Codes            { return a.codes }
func (a *App) Engine() *script.Engine { return a.engine }
func (a *App) Builder() *Builder      { return &Builder{Codes: a.codes} }

// OnCommit registers fn to run after every committed block, outside the
// app lock. Hooks must not block.
func (a *App) OnCommit(fn func(Committed)) {
	a.hookMu.Lock()
	a.hooks = append(a.hooks, fn)
	a.hookMu.Unlock()
}

// view resolves out points against the store plus whatever the current block
// has already created and spent
type view struct {
	store   storage.CellStore
	created map[cell.OutPoint]cell.ResolvedCell
	spent   map[cell.OutPoint]bool
}

func newView(store storage.CellStore) *view {
	return &view{store: store, created: map[cell.OutPoint]cell.ResolvedCell{}, spent: map[cell.OutPoint]bool{}}
}

func (v *view) get(op cell.OutPoint) (cell.ResolvedCell, error) {
	if v.spent[op] {
		return cell.ResolvedCell{}, storage.ErrNotFound
	}
	if rc, ok := v.created[op]; ok {
		return rc, nil
	}
	return v.store.GetLiveCell(op)
}

func (a *App) resolve(tx *cell.Transaction, v *view) (*cell.ResolvedTransaction, error) {
	if err := tx.Validate(); err != nil {
		return nil, verdict.Newf(verdict.KindMalformedTransaction, "%v", err)
	}
	for _, d := range tx.CellDeps {
		if _, err := v.get(d.OutPoint); err != nil {
			return nil, deadCell("cell dep", d.OutPoint, err)
		}
	}
	rtx := &cell.ResolvedTransaction{Tx: tx, Inputs: make([]cell.ResolvedCell, len(tx.Inputs))}
	for i, in := range tx.Inputs {
		rc, err := v.get(in.PreviousOutput)
		if err != nil {
			return nil, deadCell("input", in.PreviousOutput, err)
		}
		rtx.Inputs[i] = rc
	}
	return rtx, nil
}

func deadCell(what string, op cell.OutPoint, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return verdict.Newf(verdict.KindDeadCell, "%s %s is not live", what, op)
	}
	return fmt.Errorf("failed to load %s %s: %w", what, op, err)
}

// Resolve looks up tx's inputs in the live-cell set
func (a *App) Resolve(tx *cell.Transaction) (*cell.ResolvedTransaction, error) {
	return a.resolve(tx, newView(a.store))
}

func (a *App) verify(tx *cell.Transaction, v *view) (*cell.ResolvedTransaction, error) {
	rtx, err := a.resolve(tx, v)
	if err != nil {
		return nil, err
	}
	if _, err := rtx.Fee(); err != nil {
		return nil, err
	}
	if err := a.engine.Verify(rtx); err != nil {
		return nil, err
	}
	return rtx, nil
}

// Check verifies tx against the current tip
func (a *App) Check(tx *cell.Transaction) error {
	_, err := a.verify(tx, newView(a.store))
	return err
}

func (a *App) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	resp := abci.ResponseCheckTx{Hash: req.Tx.Hash()}
	if err := a.Check(req.Tx); err != nil {
		resp.Kind = verdict.KindOf(err)
		resp.Log = err.Error()
	}
	return resp
}

// SubmitTx checks tx and queues it for the next block
func (a *App) SubmitTx(tx *cell.Transaction) (cell.Hash, error) {
	h := tx.Hash()
	if err := a.Check(tx); err != nil {
		a.logger.Infow("tx_rejected", "hash", h.Hex(), "kind", verdict.KindOf(err).String(), "err", err)
		return h, err
	}
	if !a.mempool.Push(tx.Clone()) {
		return h, ErrAlreadyPending
	}
	a.logger.Debugw("tx_accepted", "hash", h.Hex(), "pending", a.mempool.Len())
	return h, nil
}

// Pending reports whether tx h is waiting for a block
func (a *App) Pending(h cell.Hash) bool { return a.mempool.Contains(h) }

func (a *App) PendingTxs() []*cell.Transaction { return a.mempool.Pending() }

func (a *App) Info(abci.RequestInfo) abci.ResponseInfo {
	tip, err := a.store.Tip()
	if err != nil {
		a.logger.Errorw("tip_unavailable", "err", err)
	}
	return abci.ResponseInfo{LastBlockHeight: tip.Height, LastBlockHash: tip.Hash, Pending: a.mempool.Len()}
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// FinalizeBlock verifies req.Txs in order against the tip plus the effects of
// earlier txs in the same block, drops the ones that fail, and commits the
// rest in one atomic store update.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	resp, txs, err := a.finalize(req)
	a.mu.Unlock()
	if err != nil {
		return abci.ResponseFinalizeBlock{}, err
	}

	a.hookMu.RLock()
	hooks := append([]func(Committed){}, a.hooks...)
	a.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(Committed{Block: resp.Block, Txs: txs, Results: resp.Results})
	}
	return resp, nil
}

func (a *App) finalize(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, []*cell.Transaction, error) {
	tip, err := a.store.Tip()
	if err != nil {
		return abci.ResponseFinalizeBlock{}, nil, fmt.Errorf("failed to read tip: %w", err)
	}
	if req.Height != tip.Height+1 {
		return abci.ResponseFinalizeBlock{}, nil, fmt.Errorf("height %d does not extend tip %d", req.Height, tip.Height)
	}

	v := newView(a.store)
	var (
		accepted []*cell.Transaction
		hashes   []cell.Hash
		results  []abci.TxResult
		spent    []cell.OutPoint
		order    []cell.OutPoint
	)
	for _, tx := range req.Txs {
		h := tx.Hash()
		if _, err := a.verify(tx, v); err != nil {
			kind := verdict.KindOf(err)
			results = append(results, abci.TxResult{Hash: h, Kind: kind, Log: err.Error()})
			a.logger.Warnw("tx_dropped", "height", req.Height, "hash", h.Hex(), "kind", kind.String(), "err", err)
			continue
		}

		for _, in := range tx.Inputs {
			op := in.PreviousOutput
			if _, local := v.created[op]; local {
				delete(v.created, op)
			} else {
				spent = append(spent, op)
			}
			v.spent[op] = true
		}
		for i, o := range tx.Outputs {
			op := cell.OutPoint{TxHash: h, Index: uint32(i)}
			v.created[op] = cell.ResolvedCell{OutPoint: op, Cell: cell.Cell{Output: o, Data: tx.OutputsData[i]}}
			order = append(order, op)
		}
		accepted = append(accepted, tx)
		hashes = append(hashes, h)
		results = append(results, abci.TxResult{Hash: h, Kind: verdict.KindOK})
	}

	var created []cell.ResolvedCell
	for _, op := range order {
		if rc, live := v.created[op]; live {
			created = append(created, rc)
		}
	}

	block := sealBlock(req.Height, tip.Hash, req.Timestamp, hashes)
	if err := a.store.ApplyBlock(storage.BlockUpdate{Block: block, Spent: spent, Created: created}); err != nil {
		return abci.ResponseFinalizeBlock{}, nil, fmt.Errorf("failed to apply block %d: %w", req.Height, err)
	}

	if len(req.Txs) > 0 {
		a.logger.Infow("block_committed",
			"height", block.Height,
			"hash", block.Hash.Hex(),
			"txs", len(accepted),
			"dropped", len(req.Txs)-len(accepted),
			"spent", len(spent),
			"created", len(created),
		)
	}
	return abci.ResponseFinalizeBlock{Block: block, Results: results, AppHash: block.StateHash}, accepted, nil
}

// computeStateHash commits to a block's position and contents:
//  1. height (8 bytes, big-endian)
//  2. timestamp (8 bytes, big-endian)
//  3. parent block hash
//  4. committed tx hashes, in block order
//
// The live-cell set is fully determined by the tx history, so it is not
// rehashed here.
func computeStateHash(height uint64, parent cell.Hash, timestamp int64, txs []cell.Hash) cell.Hash {
	h := sha256.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])
	h.Write(parent[:])
	for _, tx := range txs {
		h.Write(tx[:])
	}

	var out cell.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func sealBlock(height uint64, parent cell.Hash, timestamp int64, txs []cell.Hash) storage.Block {
	state := computeStateHash(height, parent, timestamp, txs)
	return storage.Block{
		Height:     height,
		Hash:       cell.Blake2b256(parent[:], state[:]),
		ParentHash: parent,
		Timestamp:  timestamp,
		TxHashes:   txs,
		StateHash:  state,
	}
}

// Truncate resets the chain to its genesis block and empties the mempool
func (a *App) Truncate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Truncate(); err != nil {
		return fmt.Errorf("failed to truncate store: %w", err)
	}
	a.mempool.Clear()
	if err := a.writeGenesis(); err != nil {
		return err
	}
	a.logger.Infow("chain_truncated")
	return nil
}

func (a *App) CollectCells(q storage.Query) ([]cell.ResolvedCell, error) {
	return a.store.CollectCells(q)
}

func (a *App) LiveCell(op cell.OutPoint) (cell.ResolvedCell, error) {
	return a.store.GetLiveCell(op)
}

func (a *App) Block(height uint64) (storage.Block, error) {
	return a.store.GetBlock(height)
}

func (a *App) Status() (Status, error) {
	tip, err := a.store.Tip()
	if err != nil {
		return Status{}, fmt.Errorf("failed to read tip: %w", err)
	}
	return Status{
		Height:    tip.Height,
		Hash:      tip.Hash,
		Timestamp: tip.Timestamp,
		StateHash: tip.StateHash,
		Pending:   a.mempool.Len(),
		Codes:     a.codes,
	}, nil
}

// OrderBook builds the book of live orders for one token type
func (a *App) OrderBook(typeHash cell.Hash) (*orderbook.OrderBook, error) {
	code := a.codes.OrderLock.CodeHash
	cells, err := a.store.CollectCells(storage.Query{LockCodeHash: &code, TypeHash: &typeHash})
	if err != nil {
		return nil, fmt.Errorf("failed to collect order cells: %w", err)
	}
	return orderbook.FromCells(cells), nil
}

// classify buckets a tx for the mempool: anything touching an order cell is
// an order tx, unless it spends order cells without their owner's lock, which
// makes it a settlement.
func (a *App) classify(tx *cell.Transaction) mempool.TxType {
	kind := mempool.TxTransfer
	for _, o := range tx.Outputs {
		if a.codes.IsOrderLock(o.Lock) {
			kind = mempool.TxOrder
		}
	}

	owners := make(map[cell.Hash]bool)
	var orderOwners []cell.Hash
	for _, in := range tx.Inputs {
		rc, err := a.store.GetLiveCell(in.PreviousOutput)
		if err != nil {
			continue
		}
		lock := rc.Cell.Output.Lock
		owners[lock.Hash()] = true
		if a.codes.IsOrderLock(lock) {
			if h, ok := cell.BytesToHash(lock.Args); ok {
				orderOwners = append(orderOwners, h)
			}
		}
	}
	for _, h := range orderOwners {
		if !owners[h] {
			return mempool.TxSettlement
		}
		kind = mempool.TxOrder
	}
	return kind
}
