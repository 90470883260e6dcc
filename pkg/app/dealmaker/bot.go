package dealmaker

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/celldex/pkg/app/core/orderbook"
	"github.com/uhyunpark/celldex/pkg/app/devnet"
	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/crypto"
	"github.com/uhyunpark/celldex/pkg/matching"
	"github.com/uhyunpark/celldex/pkg/storage"
	"github.com/uhyunpark/celldex/pkg/util"
)

// ErrNoMatch is returned by Tick when no crossing pair can be settled
var ErrNoMatch = errors.New("no settleable match")

// Ledger is the part of the devnet the bot needs
type Ledger interface {
	Codes() devnet.Codes
	CollectCells(q storage.Query) ([]cell.ResolvedCell, error)
	SubmitTx(tx *cell.Transaction) (cell.Hash, error)
	Pending(h cell.Hash) bool
}

type Config struct {
	Interval time.Duration
	MinerFee uint64
}

// Bot settles at most one match per tick: each match spends its dealmaker
// cell, so the next one has to wait for the block that recreates it.
type Bot struct {
	ledger Ledger
	signer *crypto.Signer
	cfg    Config
	clock  util.Clock
	logger *zap.SugaredLogger

	inflight *cell.Hash
}

func NewBot(ledger Ledger, signer *crypto.Signer, cfg Config, clock util.Clock, logger *zap.SugaredLogger) *Bot {
	if clock == nil {
		clock = util.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bot{ledger: ledger, signer: signer, cfg: cfg, clock: clock, logger: logger}
}

// Lock is the lock guarding the bot's cells
func (b *Bot) Lock() cell.Script { return b.ledger.Codes().Lock(b.signer.Address()) }

// Run ticks every cfg.Interval until ctx is cancelled
func (b *Bot) Run(ctx context.Context) {
	b.logger.Infow("dealmaker_started", "address", b.signer.Address().Hex(), "interval", b.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			b.logger.Infow("dealmaker_stopped")
			return
		case <-b.clock.After(b.cfg.Interval):
		}
		if _, err := b.Tick(); err != nil && !errors.Is(err, ErrNoMatch) {
			b.logger.Warnw("dealmaker_tick_failed", "err", err)
		}
	}
}

// Tick looks for the best crossing pair across all tokens and submits a
// match for it. It returns the submitted tx hash.
func (b *Bot) Tick() (cell.Hash, error) {
	if b.inflight != nil && b.ledger.Pending(*b.inflight) {
		return cell.Hash{}, ErrNoMatch
	}
	b.inflight = nil

	codes := b.ledger.Codes()
	orderCode := codes.OrderLock.CodeHash
	orders, err := b.ledger.CollectCells(storage.Query{LockCodeHash: &orderCode})
	if err != nil {
		return cell.Hash{}, err
	}
	lockHash := b.Lock().Hash()
	funds, err := b.ledger.CollectCells(storage.Query{LockHash: &lockHash})
	if err != nil {
		return cell.Hash{}, err
	}

	for _, group := range byToken(orders) {
		dm, ok := fundingCell(funds, group.token)
		if !ok {
			continue
		}
		book := orderbook.FromCells(group.cells)
		for _, pair := range book.CrossingPairs() {
			h, err := b.settle(codes, dm, pair[0], pair[1])
			if err != nil {
				b.logger.Debugw("match_skipped",
					"bid", pair[0].Cell.OutPoint.String(),
					"ask", pair[1].Cell.OutPoint.String(),
					"err", err,
				)
				continue
			}
			return h, nil
		}
	}
	return cell.Hash{}, ErrNoMatch
}

func (b *Bot) settle(codes devnet.Codes, dm cell.ResolvedCell, bid, ask *orderbook.Entry) (cell.Hash, error) {
	bidPos := matching.Position{Capacity: bid.Cell.Cell.Output.Capacity, Order: bid.Order}
	askPos := matching.Position{Capacity: ask.Cell.Cell.Output.Capacity, Order: ask.Order}
	traded := Fillable(bidPos, askPos)
	if traded.IsZero() {
		return cell.Hash{}, ErrNoMatch
	}

	tx, fill, err := BuildMatch(MatchParams{
		Codes:     codes,
		Dealmaker: dm,
		Bid:       bid.Cell,
		Ask:       ask.Cell,
		Traded:    traded,
		MinerFee:  b.cfg.MinerFee,
	})
	if err != nil {
		return cell.Hash{}, err
	}
	if err := b.signer.SignTransaction(tx, 0); err != nil {
		return cell.Hash{}, err
	}
	h, err := b.ledger.SubmitTx(tx)
	if err != nil {
		return cell.Hash{}, err
	}

	b.inflight = &h
	b.logger.Infow("match_submitted",
		"tx", h.Hex(),
		"price", ask.Order.Price,
		"traded", fill.Traded.String(),
		"native_fee", fill.NativeFee,
		"token_fee", fill.TokenFee.String(),
	)
	return h, nil
}

type tokenGroup struct {
	token cell.Script
	cells []cell.ResolvedCell
}

// byToken groups order cells by type, ordered by type hash
func byToken(orders []cell.ResolvedCell) []tokenGroup {
	idx := make(map[cell.Hash]int)
	var groups []tokenGroup
	for _, rc := range orders {
		t := rc.Cell.Output.Type
		if t == nil {
			continue
		}
		h := t.Hash()
		i, ok := idx[h]
		if !ok {
			i = len(groups)
			idx[h] = i
			groups = append(groups, tokenGroup{token: *t})
		}
		groups[i].cells = append(groups[i].cells, rc)
	}
	sort.Slice(groups, func(i, j int) bool {
		hi, hj := groups[i].token.Hash(), groups[j].token.Hash()
		return string(hi[:]) < string(hj[:])
	})
	return groups
}

// fundingCell picks the largest dealmaker cell that is plain or holds token
func fundingCell(funds []cell.ResolvedCell, token cell.Script) (cell.ResolvedCell, bool) {
	var best cell.ResolvedCell
	found := false
	for _, rc := range funds {
		if t := rc.Cell.Output.Type; t != nil && !t.Equal(token) {
			continue
		}
		if !found || rc.Cell.Output.Capacity > best.Cell.Output.Capacity {
			best, found = rc, true
		}
	}
	return best, found
}
