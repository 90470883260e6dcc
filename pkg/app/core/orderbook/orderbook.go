// Package orderbook is a read model over live order cells of one token: it
// groups them by price level so a dealmaker can find crossing pairs.
// Matching itself happens on-ledger; the book never mutates cells.
package orderbook

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
)

// Entry is one resting order cell
type Entry struct {
	Cell  cell.ResolvedCell
	Order orderstate.Order
}

// Remaining is the quantity still open on the order
func (e *Entry) Remaining() cell.Amount { return e.Order.TargetAmount }

type PriceLevel struct {
	Price     int64       `json:"price"`
	Remaining cell.Amount `json:"remaining"`
	Orders    int         `json:"orders"`
}

type OrderBook struct {
	mu sync.RWMutex

	// Heap-based best price tracking (O(1) peek)
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// Price level queues, FIFO by insertion
	bids map[int64][]*Entry
	asks map[int64][]*Entry

	// out point -> price for O(1) removal
	index map[cell.OutPoint]int64
}

func NewOrderBook() *OrderBook {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &OrderBook{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*Entry),
		asks:    make(map[int64][]*Entry),
		index:   make(map[cell.OutPoint]int64),
	}
}

// FromCells builds a book from live order cells. Cells that do not carry a
// full order, or whose order is fully filled, are skipped.
func FromCells(cells []cell.ResolvedCell) *OrderBook {
	ob := NewOrderBook()
	for _, rc := range cells {
		_ = ob.Add(rc)
	}
	return ob
}

// Add inserts an order cell. It fails for non-order data and filled orders.
func (ob *OrderBook) Add(rc cell.ResolvedCell) error {
	o, err := orderstate.DecodeOrder(rc.Cell.Data)
	if err != nil {
		return err
	}
	if o.Status() == orderstate.FullyFilled {
		return fmt.Errorf("order %s is fully filled", rc.OutPoint)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()
	if _, dup := ob.index[rc.OutPoint]; dup {
		return fmt.Errorf("order %s already in book", rc.OutPoint)
	}
	e := &Entry{Cell: rc, Order: o}
	p := o.Price
	if o.Side == orderstate.Bid {
		if len(ob.bids[p]) == 0 {
			heap.Push(ob.bidHeap, p)
		}
		ob.bids[p] = append(ob.bids[p], e)
	} else {
		if len(ob.asks[p]) == 0 {
			heap.Push(ob.askHeap, p)
		}
		ob.asks[p] = append(ob.asks[p], e)
	}
	ob.index[rc.OutPoint] = p
	return nil
}

// Remove drops the order at op, e.g. once its cell has been spent
func (ob *OrderBook) Remove(op cell.OutPoint) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	price, ok := ob.index[op]
	if !ok {
		return false
	}
	delete(ob.index, op)

	if removeEntry(ob.bids, price, op) {
		if len(ob.bids[price]) == 0 {
			delete(ob.bids, price)
			ob.bidHeap.RemovePrice(price)
		}
		return true
	}
	if removeEntry(ob.asks, price, op) {
		if len(ob.asks[price]) == 0 {
			delete(ob.asks, price)
			ob.askHeap.RemovePrice(price)
		}
		return true
	}
	return false
}

func removeEntry(levels map[int64][]*Entry, price int64, op cell.OutPoint) bool {
	arr := levels[price]
	for i, e := range arr {
		if e.Cell.OutPoint == op {
			levels[price] = append(arr[:i], arr[i+1:]...)
			return true
		}
	}
	return false
}

// BestBid returns the oldest order at the highest bid price
func (ob *OrderBook) BestBid() (*Entry, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	p, ok := ob.bidHeap.Peek()
	if !ok {
		return nil, false
	}
	return ob.bids[p][0], true
}

// BestAsk returns the oldest order at the lowest ask price
func (ob *OrderBook) BestAsk() (*Entry, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	p, ok := ob.askHeap.Peek()
	if !ok {
		return nil, false
	}
	return ob.asks[p][0], true
}

// Crossing returns the best bid and ask when the bid's price is at least the
// ask's, i.e. when a match can settle at the ask's price.
func (ob *OrderBook) Crossing() (bid, ask *Entry, ok bool) {
	bid, hasBid := ob.BestBid()
	ask, hasAsk := ob.BestAsk()
	if !hasBid || !hasAsk || bid.Order.Price < ask.Order.Price {
		return nil, nil, false
	}
	return bid, ask, true
}

// CrossingPairs lists candidate (bid, ask) pairs in price-time priority:
// every bid from the best down, against every ask it crosses from the best up.
func (ob *OrderBook) CrossingPairs() [][2]*Entry {
	bids := ob.sortedEntries(true)
	asks := ob.sortedEntries(false)
	var out [][2]*Entry
	for _, b := range bids {
		for _, a := range asks {
			if b.Order.Price < a.Order.Price {
				break
			}
			out = append(out, [2]*Entry{b, a})
		}
	}
	return out
}

func (ob *OrderBook) sortedEntries(bids bool) []*Entry {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	levels := ob.asks
	if bids {
		levels = ob.bids
	}
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	sort.Slice(prices, func(i, j int) bool {
		if bids {
			return prices[i] > prices[j]
		}
		return prices[i] < prices[j]
	})
	var out []*Entry
	for _, p := range prices {
		out = append(out, levels[p]...)
	}
	return out
}

// GetBidLevels returns all bid price levels sorted high to low (best bid first)
func (ob *OrderBook) GetBidLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	levels := aggregate(ob.bids)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// GetAskLevels returns all ask price levels sorted low to high (best ask first)
func (ob *OrderBook) GetAskLevels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	levels := aggregate(ob.asks)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price < levels[j].Price
	})
	return levels
}

func aggregate(side map[int64][]*Entry) []PriceLevel {
	var levels []PriceLevel
	for price, entries := range side {
		if len(entries) == 0 {
			continue
		}
		var total cell.Amount
		for _, e := range entries {
			// saturate rather than fail: this is a display aggregate
			sum, err := total.Add(e.Remaining())
			if err != nil {
				sum = cell.MaxAmount()
			}
			total = sum
		}
		levels = append(levels, PriceLevel{Price: price, Remaining: total, Orders: len(entries)})
	}
	return levels
}

// GetMidPrice returns the average of best bid and best ask, or 0 if one-sided
func (ob *OrderBook) GetMidPrice() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid, okBid := ob.bidHeap.Peek()
	ask, okAsk := ob.askHeap.Peek()
	if !okBid || !okAsk {
		return 0
	}
	return bid/2 + ask/2 + (bid%2+ask%2)/2
}

// Len returns the number of resting orders
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}
