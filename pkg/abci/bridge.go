package abci

import (
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

type RequestCheckTx struct{ Tx *cell.Transaction }
type ResponseCheckTx struct {
	Hash cell.Hash
	Kind verdict.Kind
	Log  string
}

// IsOK reports whether the tx would be accepted against the current tip
func (r ResponseCheckTx) IsOK() bool { return r.Kind == verdict.KindOK }

type RequestInfo struct{}
type ResponseInfo struct {
	LastBlockHeight uint64
	LastBlockHash   cell.Hash
	Pending         int
}

type RequestPrepareProposal struct {
	Height     uint64
	MaxTxBytes int64
}
type ResponsePrepareProposal struct{ Txs []*cell.Transaction }

type RequestFinalizeBlock struct {
	Height    uint64
	Timestamp int64 // Unix timestamp in seconds
	Txs       []*cell.Transaction
}

// TxResult is the outcome of one tx in a finalized block. Rejected txs are
// dropped from the block and keep their rejection kind here.
type TxResult struct {
	Hash cell.Hash    `json:"hash"`
	Kind verdict.Kind `json:"kind"`
	Log  string       `json:"log,omitempty"`
}

type ResponseFinalizeBlock struct {
	Block   storage.Block
	Results []TxResult
	AppHash cell.Hash // Hash of application state after execution
}

type Application interface {
	Info(RequestInfo) ResponseInfo
	CheckTx(RequestCheckTx) ResponseCheckTx
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
