package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/uhyunpark/celldex/pkg/cell"
)

// Cell and block values are gob encoded; the tip is a big-endian height.

func encodeCell(c cell.Cell) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCell(b []byte) (cell.Cell, error) {
	var c cell.Cell
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&c)
	return c, err
}

func encodeBlock(blk Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blk); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlock(b []byte) (Block, error) {
	var blk Block
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&blk)
	return blk, err
}

func encodeHeight(h uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], h)
	return b[:]
}

func decodeHeight(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("tip value has %d bytes, want 8", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
