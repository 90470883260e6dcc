package mempool

import (
	"sync"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// TxType classifies transactions into proposal buckets.
type TxType int

const (
	// TxTransfer moves or issues tokens and capacity between ordinary locks
	TxTransfer TxType = iota
	// TxOrder creates an order cell or withdraws one back to its owner
	TxOrder
	// TxSettlement fills resting orders on behalf of a dealmaker
	TxSettlement
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxOrder:
		return "order"
	case TxSettlement:
		return "settlement"
	}
	return "unknown"
}

// Classifier assigns a bucket. The devnet supplies one that knows the order
// lock and can resolve inputs.
type Classifier func(tx *cell.Transaction) TxType

// Mempool maintains three queues:
// (1) transfers, (2) order placement/withdrawal, (3) settlements.
// Within each bucket, FIFO by admission order. Settlements go last so that
// orders placed in the same block are visible to them.
type Mempool struct {
	mu       sync.Mutex
	classify Classifier
	buckets  [3][]*cell.Transaction
	pending  map[cell.Hash]struct{}
}

func NewMempool(classify Classifier) *Mempool {
	if classify == nil {
		classify = func(*cell.Transaction) TxType { return TxTransfer }
	}
	return &Mempool{classify: classify, pending: make(map[cell.Hash]struct{})}
}

// Push classifies and enqueues tx. It returns false if tx is already pending.
func (m *Mempool) Push(tx *cell.Transaction) bool {
	h := tx.Hash()
	kind := m.classify(tx)
	if kind < TxTransfer || kind > TxSettlement {
		kind = TxTransfer
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.pending[h]; dup {
		return false
	}
	m.pending[h] = struct{}{}
	m.buckets[kind] = append(m.buckets[kind], tx)
	return true
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. A tx too large for the remaining
// budget stops its bucket so FIFO order is kept.
func (m *Mempool) SelectForProposal(maxBytes int64) []*cell.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*cell.Transaction
	var used int64

	pull := func(q *[]*cell.Transaction) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(tx.Size())
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			delete(m.pending, tx.Hash())
			*q = (*q)[1:]
		}
	}

	for i := range m.buckets {
		pull(&m.buckets[i])
	}
	return out
}

// Contains reports whether a tx with hash h is waiting
func (m *Mempool) Contains(h cell.Hash) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[h]
	return ok
}

// Pending returns a snapshot of waiting txs in proposal order
func (m *Mempool) Pending() []*cell.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*cell.Transaction
	for _, b := range m.buckets {
		out = append(out, b...)
	}
	return out
}

// Clear drops every pending tx
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets = [3][]*cell.Transaction{}
	m.pending = make(map[cell.Hash]struct{})
}

// Len returns total pending txs
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
