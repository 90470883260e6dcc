package storage

import (
	"errors"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// ErrNotFound is returned for unknown blocks and dead or unknown cells
var ErrNotFound = errors.New("not found")

// Block is the committed record of one devnet block
type Block struct {
	Height     uint64      `json:"height"`
	Hash       cell.Hash   `json:"hash"`
	ParentHash cell.Hash   `json:"parent_hash"`
	Timestamp  int64       `json:"timestamp"`
	TxHashes   []cell.Hash `json:"tx_hashes"`
	StateHash  cell.Hash   `json:"state_hash"`
}

// BlockUpdate is everything a block changes, applied atomically
type BlockUpdate struct {
	Block   Block
	Spent   []cell.OutPoint
	Created []cell.ResolvedCell
}

// Query selects live cells. Empty fields match everything; set fields must
// all match.
type Query struct {
	LockHash     *cell.Hash
	TypeHash     *cell.Hash
	LockCodeHash *cell.Hash
	Limit        int
}

// Match reports whether c satisfies every set criterion
func (q Query) Match(c cell.Cell) bool {
	if q.LockHash != nil && c.Output.Lock.Hash() != *q.LockHash {
		return false
	}
	if q.TypeHash != nil && (c.Output.Type == nil || c.Output.Type.Hash() != *q.TypeHash) {
		return false
	}
	if q.LockCodeHash != nil && c.Output.Lock.CodeHash != *q.LockCodeHash {
		return false
	}
	return true
}

// CellStore is the live-cell set plus the block log of the devnet
type CellStore interface {
	GetLiveCell(op cell.OutPoint) (cell.ResolvedCell, error)
	CollectCells(q Query) ([]cell.ResolvedCell, error)
	ApplyBlock(u BlockUpdate) error
	Tip() (Block, error)
	GetBlock(height uint64) (Block, error)
	// Truncate drops every cell and block
	Truncate() error
	Close() error
}
