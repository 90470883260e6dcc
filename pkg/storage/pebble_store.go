package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/celldex/pkg/cell"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// GetLiveCell returns the cell at op, or ErrNotFound if it was never created
// or has been spent
func (s *PebbleStore) GetLiveCell(op cell.OutPoint) (cell.ResolvedCell, error) {
	val, closer, err := s.db.Get(cellKey(op))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return cell.ResolvedCell{}, ErrNotFound
		}
		return cell.ResolvedCell{}, fmt.Errorf("failed to get cell %s: %w", op, err)
	}
	defer closer.Close()

	c, err := decodeCell(val)
	if err != nil {
		return cell.ResolvedCell{}, fmt.Errorf("failed to decode cell %s: %w", op, err)
	}
	return cell.ResolvedCell{OutPoint: op, Cell: c}, nil
}

// CollectCells scans the narrowest index the query allows and filters the rest
func (s *PebbleStore) CollectCells(q Query) ([]cell.ResolvedCell, error) {
	var prefix []byte
	switch {
	case q.LockHash != nil:
		prefix = indexPrefix(prefixLock, *q.LockHash)
	case q.TypeHash != nil:
		prefix = indexPrefix(prefixType, *q.TypeHash)
	case q.LockCodeHash != nil:
		prefix = indexPrefix(prefixLockCode, *q.LockCodeHash)
	default:
		prefix = []byte(prefixCell)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []cell.ResolvedCell
	for iter.First(); iter.Valid(); iter.Next() {
		op := outPointFromKey(iter.Key())
		rc, err := s.GetLiveCell(op)
		if err != nil {
			return nil, err
		}
		if !q.Match(rc.Cell) {
			continue
		}
		out = append(out, rc)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, iter.Error()
}

// ApplyBlock removes spent cells, inserts created ones and records the block
// in one synced batch
func (s *PebbleStore) ApplyBlock(u BlockUpdate) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, op := range u.Spent {
		rc, err := s.GetLiveCell(op)
		if err != nil {
			return fmt.Errorf("failed to spend %s: %w", op, err)
		}
		if err := batch.Delete(cellKey(op), nil); err != nil {
			return err
		}
		for _, k := range indexKeys(rc) {
			if err := batch.Delete(k, nil); err != nil {
				return err
			}
		}
	}

	for _, rc := range u.Created {
		val, err := encodeCell(rc.Cell)
		if err != nil {
			return fmt.Errorf("failed to encode cell %s: %w", rc.OutPoint, err)
		}
		if err := batch.Set(cellKey(rc.OutPoint), val, nil); err != nil {
			return err
		}
		for _, k := range indexKeys(rc) {
			if err := batch.Set(k, nil, nil); err != nil {
				return err
			}
		}
	}

	blk, err := encodeBlock(u.Block)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", u.Block.Height, err)
	}
	if err := batch.Set(blockKey(u.Block.Height), blk, nil); err != nil {
		return err
	}
	if err := batch.Set([]byte(keyTip), encodeHeight(u.Block.Height), nil); err != nil {
		return err
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", u.Block.Height, err)
	}
	return nil
}

func (s *PebbleStore) Tip() (Block, error) {
	val, closer, err := s.db.Get([]byte(keyTip))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Block{}, ErrNotFound
		}
		return Block{}, fmt.Errorf("failed to get tip: %w", err)
	}
	height, err := decodeHeight(val)
	closer.Close()
	if err != nil {
		return Block{}, fmt.Errorf("failed to decode tip: %w", err)
	}
	return s.GetBlock(height)
}

func (s *PebbleStore) GetBlock(height uint64) (Block, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Block{}, ErrNotFound
		}
		return Block{}, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	defer closer.Close()

	b, err := decodeBlock(val)
	if err != nil {
		return Block{}, fmt.Errorf("failed to decode block %d: %w", height, err)
	}
	return b, nil
}

func (s *PebbleStore) Truncate() error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, p := range []string{prefixCell, prefixLock, prefixType, prefixLockCode, prefixBlock} {
		if err := batch.DeleteRange([]byte(p), keyUpperBound([]byte(p)), nil); err != nil {
			return err
		}
	}
	if err := batch.Delete([]byte(keyTip), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to truncate: %w", err)
	}
	return nil
}

var _ CellStore = (*PebbleStore)(nil)
