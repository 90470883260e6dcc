package api

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/abci"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/storage"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ChainStatus describes the tip of the devnet
type ChainStatus struct {
	Height    uint64    `json:"height"`
	Hash      cell.Hash `json:"hash"`
	Timestamp int64     `json:"timestamp"` // Unix seconds
	StateHash cell.Hash `json:"stateHash"`
	Pending   int       `json:"pending"` // Txs waiting for the next block
	Codes     CodeInfo  `json:"codes"`
}

// CodeInfo lists the deployed scripts clients need to build transactions
type CodeInfo struct {
	Secp256k1Lock CodeRef `json:"secp256k1Lock"`
	SUDT          CodeRef `json:"sudt"`
	OrderLock     CodeRef `json:"orderLock"`
}

type CodeRef struct {
	CodeHash cell.Hash     `json:"codeHash"`
	HashType cell.HashType `json:"hashType"`
	Dep      cell.OutPoint `json:"dep"`
}

// BlockInfo is a committed block with the outcome of every proposed tx
type BlockInfo struct {
	storage.Block
	Results []abci.TxResult `json:"results,omitempty"`
}

// SubmitTxResponse is returned once a tx is queued
type SubmitTxResponse struct {
	Status string    `json:"status"` // "pending"
	Hash   cell.Hash `json:"hash"`
}

// CheckTxResponse reports what the validators think of a tx, without queueing it
type CheckTxResponse struct {
	Hash     cell.Hash `json:"hash"`
	Accepted bool      `json:"accepted"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason,omitempty"`
}

// CellInfo is a live cell with its data decoded where possible
type CellInfo struct {
	OutPoint    cell.OutPoint `json:"outPoint"`
	Capacity    uint64        `json:"capacity"`    // Shannons
	CapacityCKB string        `json:"capacityCkb"` // Capacity / 10^8 as a decimal
	Lock        cell.Script   `json:"lock"`
	LockHash    cell.Hash     `json:"lockHash"`
	Type        *cell.Script  `json:"type,omitempty"`
	TypeHash    *cell.Hash    `json:"typeHash,omitempty"`
	Data        hexutil.Bytes `json:"data"`
	State       *StateInfo    `json:"state,omitempty"`
}

// StateInfo is the decoded token state of a typed cell
type StateInfo struct {
	Kind    string       `json:"kind"` // "balance" or "order"
	Balance cell.Amount  `json:"balance"`
	Order   *OrderDetail `json:"order,omitempty"`
}

type OrderDetail struct {
	Side         string      `json:"side"`
	Status       string      `json:"status"`
	Price        int64       `json:"price"`        // Fixed point, 10^10 scale
	PriceDecimal string      `json:"priceDecimal"` // Shannons per token unit
	Traded       cell.Amount `json:"traded"`
	Target       cell.Amount `json:"target"`
}

// OrderbookSnapshot represents current book state of one token
type OrderbookSnapshot struct {
	TypeHash  cell.Hash    `json:"typeHash"`
	Bids      []PriceLevel `json:"bids"` // Sorted high to low
	Asks      []PriceLevel `json:"asks"` // Sorted low to high
	MidPrice  string       `json:"midPrice,omitempty"`
	Height    uint64       `json:"height"`
	Timestamp int64        `json:"timestamp"` // Unix milliseconds
}

// PriceLevel aggregates the open quantity of all orders at one price
type PriceLevel struct {
	Price        int64       `json:"price"`
	PriceDecimal string      `json:"priceDecimal"`
	Remaining    cell.Amount `json:"remaining"`
	Orders       int         `json:"orders"`
}

// ErrorResponse is returned for all errors. Kind is set for rejected txs.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by clients: {"op":"subscribe","channels":["blocks"]}
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSBlock is pushed on the "blocks" channel after each commit
type WSBlock struct {
	Type  string    `json:"type"` // "block"
	Block BlockInfo `json:"block"`
}

// WSTx is pushed on the "txs" channel when a tx enters the mempool
type WSTx struct {
	Type string    `json:"type"` // "tx"
	Hash cell.Hash `json:"hash"`
}
