package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// MemoryStore keeps the live-cell set in maps. Used by tests and ephemeral nodes.
type MemoryStore struct {
	mu     sync.RWMutex
	cells  map[cell.OutPoint]cell.Cell
	blocks map[uint64]Block
	tip    *uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cells:  make(map[cell.OutPoint]cell.Cell),
		blocks: make(map[uint64]Block),
	}
}

func (s *MemoryStore) GetLiveCell(op cell.OutPoint) (cell.ResolvedCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cells[op]
	if !ok {
		return cell.ResolvedCell{}, ErrNotFound
	}
	return cell.ResolvedCell{OutPoint: op, Cell: c}, nil
}

// CollectCells returns matches in out point order, like the pebble scan
func (s *MemoryStore) CollectCells(q Query) ([]cell.ResolvedCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []cell.ResolvedCell
	for op, c := range s.cells {
		if q.Match(c) {
			out = append(out, cell.ResolvedCell{OutPoint: op, Cell: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(outPointBytes(out[i].OutPoint), outPointBytes(out[j].OutPoint)) < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ApplyBlock(u BlockUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range u.Spent {
		if _, ok := s.cells[op]; !ok {
			return fmt.Errorf("failed to spend %s: %w", op, ErrNotFound)
		}
	}
	for _, op := range u.Spent {
		delete(s.cells, op)
	}
	for _, rc := range u.Created {
		s.cells[rc.OutPoint] = rc.Cell
	}
	s.blocks[u.Block.Height] = u.Block
	h := u.Block.Height
	s.tip = &h
	return nil
}

func (s *MemoryStore) Tip() (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tip == nil {
		return Block{}, ErrNotFound
	}
	return s.blocks[*s.tip], nil
}

func (s *MemoryStore) GetBlock(height uint64) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[height]
	if !ok {
		return Block{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) Truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = make(map[cell.OutPoint]cell.Cell)
	s.blocks = make(map[uint64]Block)
	s.tip = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ CellStore = (*MemoryStore)(nil)
