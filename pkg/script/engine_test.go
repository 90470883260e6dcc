package script

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/sudt"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

var (
	alwaysCode = CodeRef{CodeHash: cell.Blake2b256([]byte("always"))}
	sudtRef    = CodeRef{
		CodeHash: cell.Blake2b256([]byte("sudt")),
		Dep:      &cell.OutPoint{TxHash: cell.Blake2b256([]byte("genesis")), Index: 1},
	}
)

func accept() Validator {
	return ValidatorFunc(func(*cell.ResolvedTransaction, cell.Script) error { return nil })
}

type counter struct {
	calls []cell.Script
	err   error
}

func (c *counter) Evaluate(_ *cell.ResolvedTransaction, self cell.Script) error {
	c.calls = append(c.calls, self)
	return c.err
}

func tokenTx(lock cell.Script, in, out uint64) *cell.ResolvedTransaction {
	tt := sudtRef.Script(lock.Hash().Bytes())
	other := alwaysCode.Script([]byte("other"))
	inCell := cell.Cell{
		Output: cell.CellOutput{Capacity: 1000, Lock: other, Type: &tt},
		Data:   cell.NewAmount(in).Bytes(),
	}
	tx := &cell.Transaction{
		CellDeps:    []cell.CellDep{{OutPoint: *sudtRef.Dep}},
		Inputs:      []cell.CellInput{{PreviousOutput: cell.OutPoint{Index: 7}}},
		Outputs:     []cell.CellOutput{{Capacity: 1000, Lock: lock, Type: &tt}},
		OutputsData: []hexutil.Bytes{cell.NewAmount(out).Bytes()},
	}
	return &cell.ResolvedTransaction{
		Tx:     tx,
		Inputs: []cell.ResolvedCell{{OutPoint: tx.Inputs[0].PreviousOutput, Cell: inCell}},
	}
}

func TestVerify_AllValidatorsMustAccept(t *testing.T) {
	owner := alwaysCode.Script([]byte("owner"))

	tests := []struct {
		name    string
		in, out uint64
		wantErr error
	}{
		{"conserved", 10, 10, nil},
		{"burn", 10, 4, nil},
		{"mint without owner", 10, 11, verdict.ErrMintNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			e.Register(alwaysCode, accept())
			e.Register(sudtRef, sudt.Script{})

			err := e.Verify(tokenTx(owner, tt.in, tt.out))
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_UnknownScript(t *testing.T) {
	e := NewEngine(nil)
	e.Register(sudtRef, sudt.Script{})

	err := e.Verify(tokenTx(alwaysCode.Script(nil), 1, 1))
	if !errors.Is(err, verdict.ErrScriptNotFound) {
		t.Errorf("err = %v, want ScriptNotFound", err)
	}
}

func TestVerify_MissingCellDep(t *testing.T) {
	e := NewEngine(nil)
	e.Register(alwaysCode, accept())
	e.Register(sudtRef, sudt.Script{})

	tx := tokenTx(alwaysCode.Script(nil), 1, 1)
	tx.Tx.CellDeps = nil
	if err := e.Verify(tx); !errors.Is(err, verdict.ErrMissingCellDep) {
		t.Errorf("err = %v, want MissingCellDep", err)
	}
}

func TestVerify_EachScriptOnce(t *testing.T) {
	c := &counter{}
	e := NewEngine(nil)
	e.Register(alwaysCode, c)
	e.Register(sudtRef, sudt.Script{})

	tx := tokenTx(alwaysCode.Script(nil), 5, 5)
	// a second input with the same lock and type must not trigger a second run
	tx.Inputs = append(tx.Inputs, tx.Inputs[0])
	tx.Inputs[1].OutPoint.Index++
	tx.Tx.Inputs = append(tx.Tx.Inputs, cell.CellInput{PreviousOutput: tx.Inputs[1].OutPoint})
	tx.Tx.Outputs[0].Capacity = 2000
	tx.Tx.OutputsData[0] = cell.NewAmount(10).Bytes()

	if err := e.Verify(tx); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(c.calls) != 1 {
		t.Errorf("lock evaluated %d times, want 1", len(c.calls))
	}
}

func TestEvaluate_Verdict(t *testing.T) {
	c := &counter{err: verdict.Newf(verdict.KindUnauthorized, "bad signature")}
	e := NewEngine(nil)
	e.Register(alwaysCode, c)

	tx := tokenTx(alwaysCode.Script(nil), 1, 1)
	v := e.Evaluate(tx, alwaysCode.Script([]byte("x")))
	if v.Accepted || v.Kind != verdict.KindUnauthorized {
		t.Errorf("verdict = %+v, want Unauthorized rejection", v)
	}

	c.err = nil
	if v := e.Evaluate(tx, alwaysCode.Script([]byte("x"))); !v.Accepted {
		t.Errorf("verdict = %+v, want accepted", v)
	}
}

func TestActivated_Deterministic(t *testing.T) {
	tx := tokenTx(alwaysCode.Script([]byte("a")), 1, 1)
	first := Activated(tx)
	if len(first) != 2 {
		t.Fatalf("activated %d scripts, want 2 (input lock, token type)", len(first))
	}
	for i := 0; i < 10; i++ {
		again := Activated(tx)
		for j := range first {
			if again[j].Hash() != first[j].Hash() {
				t.Fatalf("order changed between runs")
			}
		}
	}
}
