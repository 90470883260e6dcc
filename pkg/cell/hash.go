package cell

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Blake2b256 hashes the concatenation of parts
func Blake2b256(parts ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hash returns the script hash: blake2b-256 over
// code_hash || hash_type || u32le(len(args)) || args
func (s Script) Hash() Hash {
	return Blake2b256(s.appendBytes(nil))
}

func (s Script) appendBytes(b []byte) []byte {
	b = append(b, s.CodeHash[:]...)
	b = append(b, byte(s.HashType))
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s.Args)))
	return append(b, s.Args...)
}

// DataHash is the code hash of a cell deployed with HashTypeData
func DataHash(data []byte) Hash { return Blake2b256(data) }

// Hash returns the transaction hash over the canonical serialization of every
// field except the witnesses. Signing the hash therefore commits to the whole
// transaction body.
func (tx *Transaction) Hash() Hash {
	return Blake2b256(tx.appendRaw(nil))
}

func (tx *Transaction) appendRaw(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, tx.Version)

	b = binary.LittleEndian.AppendUint32(b, uint32(len(tx.CellDeps)))
	for _, d := range tx.CellDeps {
		b = appendOutPoint(b, d.OutPoint)
		b = append(b, byte(d.DepType))
	}

	b = binary.LittleEndian.AppendUint32(b, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		b = appendOutPoint(b, in.PreviousOutput)
		b = binary.LittleEndian.AppendUint64(b, in.Since)
	}

	b = binary.LittleEndian.AppendUint32(b, uint32(len(tx.Outputs)))
	for _, o := range tx.Outputs {
		b = binary.LittleEndian.AppendUint64(b, o.Capacity)
		b = o.Lock.appendBytes(b)
		if o.Type == nil {
			b = append(b, 0)
		} else {
			b = append(b, 1)
			b = o.Type.appendBytes(b)
		}
	}

	b = binary.LittleEndian.AppendUint32(b, uint32(len(tx.OutputsData)))
	for _, d := range tx.OutputsData {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(d)))
		b = append(b, d...)
	}
	return b
}

func appendOutPoint(b []byte, o OutPoint) []byte {
	b = append(b, o.TxHash[:]...)
	return binary.LittleEndian.AppendUint32(b, o.Index)
}

// Size is the serialized size used for mempool byte budgets
func (tx *Transaction) Size() int {
	n := len(tx.appendRaw(nil))
	for _, w := range tx.Witnesses {
		n += 4 + len(w)
	}
	return n
}
