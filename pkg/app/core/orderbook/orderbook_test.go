package orderbook

import (
	"testing"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
)

func orderCell(n uint32, side orderstate.Side, price int64, target uint64) cell.ResolvedCell {
	o := orderstate.Order{
		CurrentAmount: cell.NewAmount(1_000),
		TargetAmount:  cell.NewAmount(target),
		Price:         price,
		Side:          side,
	}
	return cell.ResolvedCell{
		OutPoint: cell.OutPoint{TxHash: cell.Blake2b256([]byte("orders")), Index: n},
		Cell:     cell.Cell{Data: o.Encode()},
	}
}

func TestOrderBook_BestPrices(t *testing.T) {
	ob := FromCells([]cell.ResolvedCell{
		orderCell(0, orderstate.Bid, 40, 10),
		orderCell(1, orderstate.Bid, 60, 5),
		orderCell(2, orderstate.Bid, 60, 7),
		orderCell(3, orderstate.Ask, 70, 3),
		orderCell(4, orderstate.Ask, 50, 4),
		{OutPoint: cell.OutPoint{Index: 9}, Cell: cell.Cell{Data: cell.NewAmount(1).Bytes()}}, // plain balance
		orderCell(5, orderstate.Ask, 45, 0), // fully filled
	})

	if ob.Len() != 5 {
		t.Fatalf("book has %d orders, want 5", ob.Len())
	}

	bid, ok := ob.BestBid()
	if !ok || bid.Order.Price != 60 || bid.Cell.OutPoint.Index != 1 {
		t.Errorf("best bid = %+v, want oldest order at 60", bid)
	}
	ask, ok := ob.BestAsk()
	if !ok || ask.Order.Price != 50 {
		t.Errorf("best ask = %+v, want 50", ask)
	}

	b, a, ok := ob.Crossing()
	if !ok || b.Order.Price != 60 || a.Order.Price != 50 {
		t.Errorf("Crossing() = %v %v %v", b, a, ok)
	}

	if mid := ob.GetMidPrice(); mid != 55 {
		t.Errorf("mid = %d, want 55", mid)
	}
}

func TestOrderBook_Levels(t *testing.T) {
	ob := FromCells([]cell.ResolvedCell{
		orderCell(0, orderstate.Bid, 40, 10),
		orderCell(1, orderstate.Bid, 60, 5),
		orderCell(2, orderstate.Bid, 60, 7),
		orderCell(3, orderstate.Ask, 70, 3),
		orderCell(4, orderstate.Ask, 50, 4),
	})

	bids := ob.GetBidLevels()
	if len(bids) != 2 || bids[0].Price != 60 || bids[0].Remaining.String() != "12" || bids[0].Orders != 2 {
		t.Errorf("bid levels = %+v", bids)
	}
	asks := ob.GetAskLevels()
	if len(asks) != 2 || asks[0].Price != 50 || asks[1].Price != 70 {
		t.Errorf("ask levels = %+v", asks)
	}

	pairs := ob.CrossingPairs()
	// bids at 60 (two orders) cross the ask at 50 only
	if len(pairs) != 2 {
		t.Fatalf("crossing pairs = %d, want 2", len(pairs))
	}
	for _, p := range pairs {
		if p[0].Order.Price < p[1].Order.Price {
			t.Errorf("pair does not cross: %d < %d", p[0].Order.Price, p[1].Order.Price)
		}
	}
}

func TestOrderBook_Remove(t *testing.T) {
	c := orderCell(1, orderstate.Ask, 50, 4)
	ob := FromCells([]cell.ResolvedCell{c, orderCell(2, orderstate.Bid, 40, 1)})

	if _, _, ok := ob.Crossing(); ok {
		t.Error("40 bid should not cross 50 ask")
	}
	if !ob.Remove(c.OutPoint) {
		t.Fatal("Remove() = false for resting order")
	}
	if ob.Remove(c.OutPoint) {
		t.Error("second Remove() = true")
	}
	if _, ok := ob.BestAsk(); ok {
		t.Error("ask level not cleared")
	}
	if err := ob.Add(orderCell(2, orderstate.Bid, 40, 1)); err == nil {
		t.Error("duplicate add accepted")
	}
}

// BenchmarkOrderBook_Add measures insertion into a book 100 levels deep per side
func BenchmarkOrderBook_Add(b *testing.B) {
	ob := NewOrderBook()
	for i := 0; i < 100; i++ {
		_ = ob.Add(orderCell(uint32(2*i), orderstate.Bid, int64(1000-i), 100))
		_ = ob.Add(orderCell(uint32(2*i+1), orderstate.Ask, int64(1100+i), 100))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		side := orderstate.Bid
		if i%2 == 0 {
			side = orderstate.Ask
		}
		_ = ob.Add(orderCell(uint32(1000+i), side, 1050, 10))
	}
}

func BenchmarkOrderBook_CrossingPairs(b *testing.B) {
	ob := NewOrderBook()
	for i := 0; i < 100; i++ {
		_ = ob.Add(orderCell(uint32(2*i), orderstate.Bid, int64(1000+i), 100))
		_ = ob.Add(orderCell(uint32(2*i+1), orderstate.Ask, int64(1000+i), 100))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ob.CrossingPairs()
	}
}
