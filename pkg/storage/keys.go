package storage

import (
	"encoding/binary"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// Key schema:
//
//	cell:<txhash><index>        → gob(cell.Cell)
//	lk:<lockhash><outpoint>     → empty (lock index)
//	ty:<typehash><outpoint>     → empty (type index)
//	lc:<lockcodehash><outpoint> → empty (lock code index)
//	blk:<height>                → gob(Block)
//	tip                         → height of the latest block
//
// Out points are 36 bytes (hash || big-endian index) so scans return cells of
// one transaction in output order.
const (
	prefixCell     = "cell:"
	prefixLock     = "lk:"
	prefixType     = "ty:"
	prefixLockCode = "lc:"
	prefixBlock    = "blk:"
	keyTip         = "tip"

	outPointLen = cell.HashSize + 4
)

func outPointBytes(op cell.OutPoint) []byte {
	b := make([]byte, 0, outPointLen)
	b = append(b, op.TxHash[:]...)
	return binary.BigEndian.AppendUint32(b, op.Index)
}

func outPointFromKey(key []byte) cell.OutPoint {
	tail := key[len(key)-outPointLen:]
	var op cell.OutPoint
	copy(op.TxHash[:], tail[:cell.HashSize])
	op.Index = binary.BigEndian.Uint32(tail[cell.HashSize:])
	return op
}

func cellKey(op cell.OutPoint) []byte {
	return append([]byte(prefixCell), outPointBytes(op)...)
}

func indexKey(prefix string, h cell.Hash, op cell.OutPoint) []byte {
	k := append([]byte(prefix), h[:]...)
	return append(k, outPointBytes(op)...)
}

func indexPrefix(prefix string, h cell.Hash) []byte {
	return append([]byte(prefix), h[:]...)
}

func blockKey(height uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte(prefixBlock), height)
}

// indexKeys lists the secondary index entries of a live cell
func indexKeys(rc cell.ResolvedCell) [][]byte {
	out := rc.Cell.Output
	keys := [][]byte{
		indexKey(prefixLock, out.Lock.Hash(), rc.OutPoint),
		indexKey(prefixLockCode, out.Lock.CodeHash, rc.OutPoint),
	}
	if out.Type != nil {
		keys = append(keys, indexKey(prefixType, out.Type.Hash(), rc.OutPoint))
	}
	return keys
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}
