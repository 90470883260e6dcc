// Package cell models the UTXO-style ledger: cells guarded by a lock script,
// optionally tagged by a type script, and the transactions that consume and
// create them.
package cell

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ShannonsPerCKB is the number of shannons in one CKB
const ShannonsPerCKB = 100_000_000

// HashSize is the byte length of script, transaction and block hashes
const HashSize = 32

// Hash is a 32-byte blake2b digest
type Hash [HashSize]byte

func (h Hash) Bytes() []byte  { return h[:] }
func (h Hash) Hex() string    { return hexutil.Encode(h[:]) }
func (h Hash) String() string { return h.Hex() }
func (h Hash) IsZero() bool   { return h == Hash{} }

func (h Hash) MarshalText() ([]byte, error) { return hexutil.Bytes(h[:]).MarshalText() }

func (h *Hash) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return err
	}
	if len(b) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}

// BytesToHash copies b into a Hash; b must be exactly 32 bytes
func BytesToHash(b []byte) (Hash, bool) {
	var h Hash
	if len(b) != HashSize {
		return h, false
	}
	copy(h[:], b)
	return h, true
}

// HexToHash parses a 0x-prefixed hex hash
func HexToHash(s string) (Hash, error) {
	var h Hash
	if err := h.UnmarshalText([]byte(s)); err != nil {
		return Hash{}, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	return h, nil
}

// HashType selects how a script's CodeHash identifies its code
type HashType uint8

const (
	HashTypeData HashType = 0 // code_hash is the hash of the code cell's data
	HashTypeType HashType = 1 // code_hash is the type hash of the code cell
)

func (t HashType) String() string {
	if t == HashTypeType {
		return "type"
	}
	return "data"
}

func (t HashType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *HashType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "data":
		*t = HashTypeData
	case "type":
		*t = HashTypeType
	default:
		return fmt.Errorf("unknown hash type %q", b)
	}
	return nil
}

// Script names a piece of validation code and the arguments it runs with.
// Locks guard who may consume a cell; types constrain what the cell holds.
type Script struct {
	CodeHash Hash          `json:"code_hash"`
	HashType HashType      `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

// SameCode reports whether both scripts run the same code
func (s Script) SameCode(o Script) bool {
	return s.CodeHash == o.CodeHash && s.HashType == o.HashType
}

// Equal reports byte equality of code and args
func (s Script) Equal(o Script) bool {
	return s.SameCode(o) && bytes.Equal(s.Args, o.Args)
}

// OutPoint references one output of a committed transaction
type OutPoint struct {
	TxHash Hash   `json:"tx_hash"`
	Index  uint32 `json:"index"`
}

func (o OutPoint) String() string { return fmt.Sprintf("%s:%d", o.TxHash.Hex(), o.Index) }

// CellOutput is the header of a cell. Capacity is in shannons.
type CellOutput struct {
	Capacity uint64  `json:"capacity"`
	Lock     Script  `json:"lock"`
	Type     *Script `json:"type,omitempty"`
}

// HasType reports whether the output is tagged with the given type script
func (o CellOutput) HasType(t Script) bool {
	return o.Type != nil && o.Type.Equal(t)
}

// Cell is an output together with its data
type Cell struct {
	Output CellOutput    `json:"output"`
	Data   hexutil.Bytes `json:"data"`
}

// ResolvedCell is a live cell and where it lives
type ResolvedCell struct {
	OutPoint OutPoint `json:"out_point"`
	Cell     Cell     `json:"cell"`
}

type DepType uint8

const (
	DepTypeCode     DepType = 0
	DepTypeDepGroup DepType = 1
)

// CellDep makes a code cell visible to the scripts of a transaction
type CellDep struct {
	OutPoint OutPoint `json:"out_point"`
	DepType  DepType  `json:"dep_type"`
}

type CellInput struct {
	PreviousOutput OutPoint `json:"previous_output"`
	Since          uint64   `json:"since"`
}

// Transaction consumes Inputs and creates Outputs. OutputsData[i] is the data of
// Outputs[i]; Witnesses carry signatures and are excluded from the hash.
type Transaction struct {
	Version     uint32          `json:"version"`
	CellDeps    []CellDep       `json:"cell_deps"`
	Inputs      []CellInput     `json:"inputs"`
	Outputs     []CellOutput    `json:"outputs"`
	OutputsData []hexutil.Bytes `json:"outputs_data"`
	Witnesses   []hexutil.Bytes `json:"witnesses"`
}

// OutPoint returns the out point of the i-th output once tx is committed
func (tx *Transaction) OutPoint(i int) OutPoint {
	return OutPoint{TxHash: tx.Hash(), Index: uint32(i)}
}

// Clone returns a deep copy so callers can mutate witnesses freely
func (tx *Transaction) Clone() *Transaction {
	out := &Transaction{Version: tx.Version}
	out.CellDeps = append([]CellDep(nil), tx.CellDeps...)
	out.Inputs = append([]CellInput(nil), tx.Inputs...)
	out.Outputs = make([]CellOutput, len(tx.Outputs))
	for i, o := range tx.Outputs {
		o.Lock.Args = append(hexutil.Bytes(nil), o.Lock.Args...)
		if o.Type != nil {
			t := *o.Type
			t.Args = append(hexutil.Bytes(nil), t.Args...)
			o.Type = &t
		}
		out.Outputs[i] = o
	}
	out.OutputsData = cloneBytes(tx.OutputsData)
	out.Witnesses = cloneBytes(tx.Witnesses)
	return out
}

func cloneBytes(in []hexutil.Bytes) []hexutil.Bytes {
	if in == nil {
		return nil
	}
	out := make([]hexutil.Bytes, len(in))
	for i, b := range in {
		out[i] = append(hexutil.Bytes(nil), b...)
	}
	return out
}

// Validate checks structural consistency before any script runs
func (tx *Transaction) Validate() error {
	if len(tx.Inputs) == 0 {
		return fmt.Errorf("transaction has no inputs")
	}
	if len(tx.Outputs) != len(tx.OutputsData) {
		return fmt.Errorf("outputs/outputs_data length mismatch: %d != %d", len(tx.Outputs), len(tx.OutputsData))
	}
	seen := make(map[OutPoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.PreviousOutput]; dup {
			return fmt.Errorf("input %s spent twice", in.PreviousOutput)
		}
		seen[in.PreviousOutput] = struct{}{}
	}
	return nil
}
