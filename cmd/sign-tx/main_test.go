package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
)

func sampleTx(t *testing.T) []byte {
	t.Helper()
	tx := cell.Transaction{
		Inputs: []cell.CellInput{
			{PreviousOutput: cell.OutPoint{TxHash: cell.Hash{1}, Index: 0}},
			{PreviousOutput: cell.OutPoint{TxHash: cell.Hash{1}, Index: 1}},
		},
		Outputs:     []cell.CellOutput{{Capacity: 100}},
		OutputsData: make([]hexutil.Bytes, 1),
	}
	b, err := json.Marshal(tx)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestSignTx(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	raw := sampleTx(t)

	var out bytes.Buffer
	if err := signTx(bytes.NewReader(raw), &out, signer.PrivateKeyHex(), []int{1}); err != nil {
		t.Fatal(err)
	}
	tx, err := readTx(&out)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Witnesses) != 2 || len(tx.Witnesses[0]) != 0 {
		t.Fatalf("witnesses = %v", tx.Witnesses)
	}
	got, err := crypto.RecoverAddress(crypto.SigningHash(tx), tx.Witnesses[1])
	if err != nil || got != signer.Address() {
		t.Errorf("recovered %s, %v; want %s", got.Hex(), err, signer.Address().Hex())
	}
}

func TestSignTx_Errors(t *testing.T) {
	signer, _ := crypto.GenerateKey()
	tests := []struct {
		name   string
		input  string
		key    string
		inputs []int
	}{
		{"bad key", string(sampleTx(t)), "zz", []int{0}},
		{"bad json", "{", signer.PrivateKeyHex(), []int{0}},
		{"index out of range", string(sampleTx(t)), signer.PrivateKeyHex(), []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := signTx(strings.NewReader(tt.input), &out, tt.key, tt.inputs); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCLI_Hash(t *testing.T) {
	cli := NewCLI()
	var out bytes.Buffer
	cli.root.SetOut(&out)
	cli.root.SetIn(bytes.NewReader(sampleTx(t)))
	cli.root.SetArgs([]string{"hash"})
	if err := cli.root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Tx Hash: 0x") || !strings.Contains(out.String(), "Signing Hash: 0x") {
		t.Errorf("output = %q", out.String())
	}
}
