package orderbook

import "container/heap"

// MaxPriceHeap implements heap.Interface for bid prices (highest price on top)
type MaxPriceHeap []int64

func (h MaxPriceHeap) Len() int           { return len(h) }
func (h MaxPriceHeap) Less(i, j int) bool { return h[i] > h[j] }
func (h MaxPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MaxPriceHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *MaxPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Peek returns the top element without removing it
func (h MaxPriceHeap) Peek() (int64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

// RemovePrice drops one price level (O(N), only when a level empties)
func (h *MaxPriceHeap) RemovePrice(price int64) {
	for i, p := range *h {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}

// MinPriceHeap implements heap.Interface for ask prices (lowest price on top)
type MinPriceHeap []int64

func (h MinPriceHeap) Len() int           { return len(h) }
func (h MinPriceHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h MinPriceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *MinPriceHeap) Push(x any) { *h = append(*h, x.(int64)) }

func (h *MinPriceHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h MinPriceHeap) Peek() (int64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

func (h *MinPriceHeap) RemovePrice(price int64) {
	for i, p := range *h {
		if p == price {
			heap.Remove(h, i)
			return
		}
	}
}
