package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/celldex/pkg/abci"
	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/util"
)

const funding = 1_000_000 * cell.ShannonsPerCKB

type fixture struct {
	app    *devnet.App
	srv    *httptest.Server
	signer *crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	app, err := devnet.NewApp(storage.NewMemoryStore(), devnet.Genesis{
		Timestamp: 1_700_000_000,
		Cells:     []devnet.GenesisCell{{Address: signer.Address(), Capacity: funding}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	producer := abci.NewProducer(app, util.NewManualClock(time.Unix(1_700_000_000, 0)), nil)
	s := NewServer(app, producer, []string{"*"}, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{app: app, srv: srv, signer: signer}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) plainCell(t *testing.T) cell.ResolvedCell {
	t.Helper()
	lh := f.app.Codes().Lock(f.signer.Address()).Hash()
	cells, err := f.app.CollectCells(storage.Query{LockHash: &lh})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range cells {
		if c.Cell.Output.Type == nil {
			return c
		}
	}
	t.Fatal("no plain cell")
	return cell.ResolvedCell{}
}

func TestServer_HealthAndStatus(t *testing.T) {
	f := newFixture(t)

	var health map[string]string
	if code := f.get(t, "/health", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("health = %d %v", code, health)
	}

	var st ChainStatus
	if code := f.get(t, "/api/v1/chain/status", &st); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if st.Height != 0 || st.Codes.OrderLock.CodeHash != f.app.Codes().OrderLock.CodeHash {
		t.Errorf("status = %+v", st)
	}
}

func TestServer_SubmitAndProduce(t *testing.T) {
	f := newFixture(t)
	b := f.app.Builder()

	src := f.plainCell(t)
	tx, typ, err := b.Issue(src, cell.NewAmount(1_000), 100_000)
	if err != nil {
		t.Fatal(err)
	}

	// unsigned: rejected with a kind
	var rejected ErrorResponse
	if code := f.post(t, "/api/v1/transactions", tx, &rejected); code != http.StatusBadRequest || rejected.Kind != "Unauthorized" {
		t.Errorf("unsigned submit = %d %+v", code, rejected)
	}

	if err := b.Sign(tx, []cell.ResolvedCell{src}, f.signer); err != nil {
		t.Fatal(err)
	}
	var check CheckTxResponse
	if code := f.post(t, "/api/v1/transactions/check", tx, &check); code != http.StatusOK || !check.Accepted || check.Kind != "OK" {
		t.Errorf("check = %d %+v", code, check)
	}

	var submitted SubmitTxResponse
	if code := f.post(t, "/api/v1/transactions", tx, &submitted); code != http.StatusOK || submitted.Hash != tx.Hash() {
		t.Fatalf("submit = %d %+v", code, submitted)
	}
	if code := f.post(t, "/api/v1/transactions", tx, nil); code != http.StatusConflict {
		t.Errorf("duplicate submit = %d, want 409", code)
	}

	var blocks []BlockInfo
	if code := f.post(t, "/api/v1/chain/blocks?count=2", nil, &blocks); code != http.StatusOK || len(blocks) != 2 {
		t.Fatalf("produce = %d, %d blocks", code, len(blocks))
	}
	if len(blocks[0].TxHashes) != 1 || blocks[0].TxHashes[0] != tx.Hash() || blocks[1].Height != 2 {
		t.Errorf("blocks = %+v", blocks)
	}

	var got BlockInfo
	if code := f.get(t, "/api/v1/chain/blocks/1", &got); code != http.StatusOK || got.Hash != blocks[0].Hash {
		t.Errorf("get block = %d %+v", code, got)
	}
	if code := f.get(t, "/api/v1/chain/blocks/99", nil); code != http.StatusNotFound {
		t.Errorf("missing block = %d", code)
	}

	var cells []CellInfo
	if code := f.get(t, "/api/v1/cells?type="+typ.Hash().Hex(), &cells); code != http.StatusOK || len(cells) != 1 {
		t.Fatalf("cells = %d %+v", code, cells)
	}
	c := cells[0]
	if c.State == nil || c.State.Kind != "balance" || c.State.Balance.String() != "1000" {
		t.Errorf("cell state = %+v", c.State)
	}
	if c.CapacityCKB != "142" {
		t.Errorf("capacity = %s CKB, want 142", c.CapacityCKB)
	}

	if code := f.post(t, "/api/v1/chain/truncate", nil, nil); code != http.StatusOK {
		t.Errorf("truncate = %d", code)
	}
	if code := f.get(t, "/api/v1/cells?type="+typ.Hash().Hex(), &cells); code != http.StatusOK || len(cells) != 0 {
		t.Errorf("cells after truncate = %d", len(cells))
	}
}

func TestServer_Orderbook(t *testing.T) {
	f := newFixture(t)
	b := f.app.Builder()
	producer := abci.NewProducer(f.app, util.NewManualClock(time.Unix(1_700_000_000, 0)), nil)

	src := f.plainCell(t)
	tx, typ, _ := b.Issue(src, cell.NewAmount(1_000), 100_000)
	if err := b.Sign(tx, []cell.ResolvedCell{src}, f.signer); err != nil {
		t.Fatal(err)
	}
	if _, err := f.app.SubmitTx(tx); err != nil {
		t.Fatal(err)
	}
	if _, err := producer.ProduceBlock(); err != nil {
		t.Fatal(err)
	}

	lh := f.app.Codes().Lock(f.signer.Address()).Hash()
	inputs, _ := f.app.CollectCells(storage.Query{LockHash: &lh})
	order := orderstate.Order{
		CurrentAmount: cell.NewAmount(1_000),
		TargetAmount:  cell.NewAmount(400),
		Price:         orderstate.PriceFromDecimal(decimal.RequireFromString("1.5")),
		Side:          orderstate.Ask,
	}
	tx, err := b.CreateOrder(inputs, typ, order, 500*cell.ShannonsPerCKB, 100_000)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Sign(tx, inputs, f.signer); err != nil {
		t.Fatal(err)
	}
	if _, err := f.app.SubmitTx(tx); err != nil {
		t.Fatal(err)
	}
	if _, err := producer.ProduceBlock(); err != nil {
		t.Fatal(err)
	}

	var snap OrderbookSnapshot
	if code := f.get(t, "/api/v1/orderbook/"+typ.Hash().Hex(), &snap); code != http.StatusOK {
		t.Fatalf("orderbook code = %d", code)
	}
	if len(snap.Bids) != 0 || len(snap.Asks) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
	ask := snap.Asks[0]
	if ask.PriceDecimal != "1.5" || ask.Remaining.String() != "400" || ask.Orders != 1 {
		t.Errorf("ask level = %+v", ask)
	}

	orderCode := f.app.Codes().OrderLock.CodeHash
	var cells []CellInfo
	f.get(t, "/api/v1/cells?lock_code="+orderCode.Hex(), &cells)
	if len(cells) != 1 || cells[0].State == nil || cells[0].State.Order == nil {
		t.Fatalf("order cells = %+v", cells)
	}
	if d := cells[0].State.Order; d.Side != "ask" || d.Status != "created" {
		t.Errorf("order detail = %+v", d)
	}

	if code := f.get(t, "/api/v1/orderbook/nothex", nil); code != http.StatusBadRequest {
		t.Errorf("bad type hash = %d", code)
	}
}
