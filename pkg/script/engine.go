// Package script dispatches a resolved transaction to every validator
// attached to it. A transaction is valid only if all of them accept.
package script

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// Validator is one piece of on-ledger logic. Evaluate receives the whole
// transaction and the script that activated it, and must not retain either.
type Validator interface {
	Evaluate(tx *cell.ResolvedTransaction, self cell.Script) error
}

// ValidatorFunc adapts a plain function to Validator
type ValidatorFunc func(tx *cell.ResolvedTransaction, self cell.Script) error

func (f ValidatorFunc) Evaluate(tx *cell.ResolvedTransaction, self cell.Script) error {
	return f(tx, self)
}

// CodeRef identifies deployed code. When Dep is set, transactions running the
// code must list Dep among their cell deps.
type CodeRef struct {
	CodeHash cell.Hash
	HashType cell.HashType
	Dep      *cell.OutPoint
}

// Script returns a script running this code with args
func (r CodeRef) Script(args []byte) cell.Script {
	return cell.Script{CodeHash: r.CodeHash, HashType: r.HashType, Args: args}
}

type codeKey struct {
	hash     cell.Hash
	hashType cell.HashType
}

type entry struct {
	ref       CodeRef
	validator Validator
}

// Engine maps code to validators
type Engine struct {
	mu      sync.RWMutex
	entries map[codeKey]entry
	logger  *zap.SugaredLogger
}

func NewEngine(logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{entries: make(map[codeKey]entry), logger: logger}
}

// Register binds v to the code ref; a later registration replaces an earlier one
func (e *Engine) Register(ref CodeRef, v Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[codeKey{ref.CodeHash, ref.HashType}] = entry{ref: ref, validator: v}
}

// Lookup returns the code ref registered for s
func (e *Engine) Lookup(s cell.Script) (CodeRef, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	en, ok := e.entries[codeKey{s.CodeHash, s.HashType}]
	return en.ref, ok
}

// Activated lists the distinct scripts a transaction runs: every input lock
// and every input or output type, ordered by script hash.
func Activated(tx *cell.ResolvedTransaction) []cell.Script {
	seen := make(map[cell.Hash]cell.Script)
	for _, in := range tx.Inputs {
		seen[in.Cell.Output.Lock.Hash()] = in.Cell.Output.Lock
		if t := in.Cell.Output.Type; t != nil {
			seen[t.Hash()] = *t
		}
	}
	for _, o := range tx.Tx.Outputs {
		if o.Type != nil {
			seen[o.Type.Hash()] = *o.Type
		}
	}

	hashes := make([]cell.Hash, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return string(hashes[i][:]) < string(hashes[j][:])
	})
	out := make([]cell.Script, len(hashes))
	for i, h := range hashes {
		out[i] = seen[h]
	}
	return out
}

// Verify runs every activated script and returns the first rejection
func (e *Engine) Verify(tx *cell.ResolvedTransaction) error {
	deps := make(map[cell.OutPoint]struct{}, len(tx.Tx.CellDeps))
	for _, d := range tx.Tx.CellDeps {
		deps[d.OutPoint] = struct{}{}
	}

	for _, s := range Activated(tx) {
		if err := e.run(tx, s, deps); err != nil {
			return fmt.Errorf("script %s: %w", s.Hash(), err)
		}
	}
	return nil
}

func (e *Engine) run(tx *cell.ResolvedTransaction, s cell.Script, deps map[cell.OutPoint]struct{}) error {
	e.mu.RLock()
	en, ok := e.entries[codeKey{s.CodeHash, s.HashType}]
	e.mu.RUnlock()
	if !ok {
		return verdict.Newf(verdict.KindScriptNotFound, "no code %s (%s)", s.CodeHash, s.HashType)
	}
	if en.ref.Dep != nil {
		if _, listed := deps[*en.ref.Dep]; !listed {
			return verdict.Newf(verdict.KindMissingCellDep, "code %s requires dep %s", s.CodeHash, en.ref.Dep)
		}
	}

	err := en.validator.Evaluate(tx, s)
	e.logger.Debugw("script_evaluated",
		"script", s.Hash().Hex(),
		"code", s.CodeHash.Hex(),
		"accepted", err == nil,
		"kind", verdict.KindOf(err).String(),
	)
	return err
}

// Evaluate runs a single activated script and reports the outcome as a Verdict
func (e *Engine) Evaluate(tx *cell.ResolvedTransaction, self cell.Script) verdict.Verdict {
	deps := make(map[cell.OutPoint]struct{}, len(tx.Tx.CellDeps))
	for _, d := range tx.Tx.CellDeps {
		deps[d.OutPoint] = struct{}{}
	}
	return verdict.FromError(e.run(tx, self, deps))
}
