package abci

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/util"
)

// DefaultMaxTxBytes bounds the txs pulled into one block
const DefaultMaxTxBytes = 1 << 24

// Producer drives an Application as a single-node chain: every call to
// ProduceBlock proposes the pending txs and finalizes them at the next height.
type Producer struct {
	App        Application
	Clock      util.Clock
	MaxTxBytes int64
	Logger     *zap.SugaredLogger

	mu sync.Mutex
}

func NewProducer(app Application, clock util.Clock, logger *zap.SugaredLogger) *Producer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Producer{App: app, Clock: clock, MaxTxBytes: DefaultMaxTxBytes, Logger: logger}
}

// ProduceBlock commits one block, possibly empty
func (p *Producer) ProduceBlock() (ResponseFinalizeBlock, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	info := p.App.Info(RequestInfo{})
	next := info.LastBlockHeight + 1

	prep := p.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: p.MaxTxBytes})
	resp, err := p.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    next,
		Timestamp: p.Clock.Now().Unix(),
		Txs:       prep.Txs,
	})
	if err != nil {
		p.Logger.Errorw("block_failed", "height", next, "txs", len(prep.Txs), "err", err)
		return ResponseFinalizeBlock{}, err
	}
	return resp, nil
}

// Run produces a block every interval until ctx is cancelled. Empty blocks
// are skipped.
func (p *Producer) Run(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Clock.After(interval):
		}
		if p.App.Info(RequestInfo{}).Pending == 0 {
			continue
		}
		// failures are logged by ProduceBlock; the txs stay dropped
		_, _ = p.ProduceBlock()
	}
}
