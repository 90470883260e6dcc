// Package events streams committed blocks to an external log
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

// DefaultSendTimeout bounds one publish
const DefaultSendTimeout = 5 * time.Second

// Sink is a keyed message log
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// BlockEvent is the message published for every committed block
type BlockEvent struct {
	Height    uint64      `json:"height"`
	Hash      cell.Hash   `json:"hash"`
	Parent    cell.Hash   `json:"parentHash"`
	Timestamp int64       `json:"timestamp"`
	StateHash cell.Hash   `json:"stateHash"`
	Txs       []TxEvent   `json:"txs"`
	Dropped   []TxDropped `json:"dropped,omitempty"`
}

// TxEvent summarizes one committed tx
type TxEvent struct {
	Hash    cell.Hash       `json:"hash"`
	Spent   []cell.OutPoint `json:"spent"`
	Created int             `json:"created"`
	Orders  []OrderEvent    `json:"orders,omitempty"`
}

// OrderEvent is an order cell created by a tx, with its fill status
type OrderEvent struct {
	OutPoint cell.OutPoint   `json:"outPoint"`
	TypeHash cell.Hash       `json:"typeHash"`
	Side     orderstate.Side `json:"side"`
	Status   string          `json:"status"`
	Price    int64           `json:"price"`
	Current  cell.Amount     `json:"current"`
	Traded   cell.Amount     `json:"traded"`
	Target   cell.Amount     `json:"target"`
}

// TxDropped is a proposed tx the block rejected
type TxDropped struct {
	Hash   cell.Hash    `json:"hash"`
	Kind   verdict.Kind `json:"kind"`
	Reason string       `json:"reason"`
}

// NewBlockEvent flattens a commit into its published form. isOrder picks out
// order cells among the outputs.
func NewBlockEvent(c devnet.Committed, isOrder func(cell.Script) bool) BlockEvent {
	ev := BlockEvent{
		Height:    c.Block.Height,
		Hash:      c.Block.Hash,
		Parent:    c.Block.ParentHash,
		Timestamp: c.Block.Timestamp,
		StateHash: c.Block.StateHash,
		Txs:       make([]TxEvent, 0, len(c.Txs)),
	}
	for _, tx := range c.Txs {
		h := tx.Hash()
		te := TxEvent{Hash: h, Created: len(tx.Outputs)}
		for _, in := range tx.Inputs {
			te.Spent = append(te.Spent, in.PreviousOutput)
		}
		for i, out := range tx.Outputs {
			if out.Type == nil || isOrder == nil || !isOrder(out.Lock) {
				continue
			}
			o, err := orderstate.DecodeOrder(tx.OutputsData[i])
			if err != nil {
				continue
			}
			te.Orders = append(te.Orders, OrderEvent{
				OutPoint: tx.OutPoint(i),
				TypeHash: out.Type.Hash(),
				Side:     o.Side,
				Status:   o.Status().String(),
				Price:    o.Price,
				Current:  o.CurrentAmount,
				Traded:   o.TradedAmount,
				Target:   o.TargetAmount,
			})
		}
		ev.Txs = append(ev.Txs, te)
	}
	for _, r := range c.Results {
		if r.Kind != verdict.KindOK {
			ev.Dropped = append(ev.Dropped, TxDropped{Hash: r.Hash, Kind: r.Kind, Reason: r.Log})
		}
	}
	return ev
}

// Publisher pushes block events to a sink. Empty blocks are skipped.
type Publisher struct {
	sink    Sink
	isOrder func(cell.Script) bool
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewPublisher(sink Sink, isOrder func(cell.Script) bool, logger *zap.SugaredLogger) *Publisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Publisher{sink: sink, isOrder: isOrder, timeout: DefaultSendTimeout, logger: logger}
}

// Publish encodes c and sends it keyed by block hash
func (p *Publisher) Publish(ctx context.Context, c devnet.Committed) error {
	if len(c.Results) == 0 {
		return nil
	}
	value, err := json.Marshal(NewBlockEvent(c, p.isOrder))
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", c.Block.Height, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.Send(ctx, c.Block.Hash.Bytes(), value); err != nil {
		return fmt.Errorf("failed to publish block %d: %w", c.Block.Height, err)
	}
	return nil
}

// OnCommit adapts Publish to devnet.App.OnCommit
func (p *Publisher) OnCommit(c devnet.Committed) {
	if err := p.Publish(context.Background(), c); err != nil {
		p.logger.Warnw("event_publish_failed", "height", c.Block.Height, "err", err)
		return
	}
	if len(c.Results) > 0 {
		p.logger.Debugw("event_published", "height", c.Block.Height, "txs", len(c.Txs))
	}
}

func (p *Publisher) Close() error {
	return p.sink.Close()
}
