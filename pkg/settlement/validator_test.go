package settlement

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

var (
	secpCode  = cell.Blake2b256([]byte("secp256k1"))
	orderCode = cell.Blake2b256([]byte("order"))
	sudtCode  = cell.Blake2b256([]byte("sudt"))

	issuerLock    = cell.Script{CodeHash: secpCode, Args: []byte("issuer")}
	dealmakerLock = cell.Script{CodeHash: secpCode, Args: []byte("dealmaker")}
	bidOwnerLock  = cell.Script{CodeHash: secpCode, Args: []byte("alice")}
	askOwnerLock  = cell.Script{CodeHash: secpCode, Args: []byte("bob")}

	tokenType = cell.Script{CodeHash: sudtCode, Args: issuerLock.Hash().Bytes()}
	bidLock   = cell.Script{CodeHash: orderCode, Args: bidOwnerLock.Hash().Bytes()}
	askLock   = cell.Script{CodeHash: orderCode, Args: askOwnerLock.Hash().Bytes()}
)

func amt(v uint64) cell.Amount { return cell.NewAmount(v) }

func orderCell(lock cell.Script, capacity uint64, o orderstate.Order) cell.Cell {
	tt := tokenType
	return cell.Cell{
		Output: cell.CellOutput{Capacity: capacity, Lock: lock, Type: &tt},
		Data:   o.Encode(),
	}
}

// scenario is the canonical match: a bid for 15e9 tokens
// at price 5 filled against a partly traded ask.
type scenario struct {
	inputs  []cell.Cell
	outputs []cell.Cell
}

func newScenario() *scenario {
	bidIn := orderstate.Order{
		CurrentAmount: amt(5_000_000_000),
		TradedAmount:  amt(5_000_000_000),
		TargetAmount:  amt(15_000_000_000),
		Price:         50_000_000_000,
		Side:          orderstate.Bid,
	}
	askIn := orderstate.Order{
		CurrentAmount: amt(50_000_000_000),
		TradedAmount:  amt(10_000_000_000),
		TargetAmount:  amt(20_000_000_000),
		Price:         50_000_000_000,
		Side:          orderstate.Ask,
	}
	bidOut := bidIn
	bidOut.CurrentAmount = amt(20_000_000_000)
	bidOut.TradedAmount = amt(20_000_000_000)
	bidOut.TargetAmount = amt(0)
	askOut := askIn
	askOut.CurrentAmount = amt(34_955_000_000)
	askOut.TradedAmount = amt(25_000_000_000)
	askOut.TargetAmount = amt(5_000_000_000)

	tt := tokenType
	return &scenario{
		inputs: []cell.Cell{
			{Output: cell.CellOutput{Capacity: 2_000_000_000_000, Lock: dealmakerLock}},
			orderCell(bidLock, 200_000_000_000, bidIn),
			orderCell(askLock, 80_000_000_000, askIn),
		},
		outputs: []cell.Cell{
			{
				Output: cell.CellOutput{Capacity: 2_000_224_000_000, Lock: dealmakerLock, Type: &tt},
				Data:   amt(45_000_000).Bytes(),
			},
			orderCell(bidLock, 124_775_000_000, bidOut),
			orderCell(askLock, 155_000_000_000, askOut),
		},
	}
}

func (s *scenario) order(i int) orderstate.Order {
	o, err := orderstate.DecodeOrder(s.outputs[i].Data)
	if err != nil {
		panic(err)
	}
	return o
}

func (s *scenario) setOrder(i int, o orderstate.Order) { s.outputs[i].Data = o.Encode() }

func (s *scenario) tx() *cell.ResolvedTransaction {
	tx := &cell.Transaction{}
	rtx := &cell.ResolvedTransaction{Tx: tx}
	for i, in := range s.inputs {
		op := cell.OutPoint{TxHash: cell.Blake2b256([]byte("prev")), Index: uint32(i)}
		tx.Inputs = append(tx.Inputs, cell.CellInput{PreviousOutput: op})
		rtx.Inputs = append(rtx.Inputs, cell.ResolvedCell{OutPoint: op, Cell: in})
	}
	for _, out := range s.outputs {
		tx.Outputs = append(tx.Outputs, out.Output)
		tx.OutputsData = append(tx.OutputsData, hexutil.Bytes(out.Data))
	}
	return rtx
}

func TestEvaluate_ExactScenario(t *testing.T) {
	rtx := newScenario().tx()

	fee, err := rtx.Fee()
	if err != nil {
		t.Fatal(err)
	}
	if fee != 1_000_000 {
		t.Fatalf("miner fee = %d, want 1000000", fee)
	}

	for _, lock := range []cell.Script{bidLock, askLock} {
		if err := (Validator{}).Evaluate(rtx, lock); err != nil {
			t.Errorf("Evaluate(%x) rejected the exact match: %v", lock.Args[:4], err)
		}
	}
}

func TestEvaluate_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *scenario)
		wantErr error
	}{
		{
			name: "ask side flipped to bid",
			mutate: func(s *scenario) {
				o := s.order(2)
				o.Side = orderstate.Bid
				s.setOrder(2, o)
			},
			wantErr: verdict.ErrOrderIdentityMutated,
		},
		{
			name: "bid price changed",
			mutate: func(s *scenario) {
				o := s.order(1)
				o.Price++
				s.setOrder(1, o)
			},
			wantErr: verdict.ErrOrderIdentityMutated,
		},
		{
			name: "bid below ask",
			mutate: func(s *scenario) {
				for _, i := range []int{1, 2} {
					in, _ := orderstate.DecodeOrder(s.inputs[i].Data)
					out := s.order(i)
					if in.Side == orderstate.Bid {
						in.Price, out.Price = 50_000_000_000, 50_000_000_000
					} else {
						in.Price, out.Price = 60_000_000_000, 60_000_000_000
					}
					s.inputs[i].Data = in.Encode()
					s.setOrder(i, out)
				}
			},
			wantErr: verdict.ErrPriceCrossFailure,
		},
		{
			name:    "bid capacity short by one shannon",
			mutate:  func(s *scenario) { s.outputs[1].Output.Capacity-- },
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name: "ask keeps the token fee",
			mutate: func(s *scenario) {
				o := s.order(2)
				o.CurrentAmount, _ = o.CurrentAmount.Add(amt(45_000_000))
				s.setOrder(2, o)
				s.outputs[0].Data = amt(0).Bytes()
			},
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name: "traded deltas differ",
			mutate: func(s *scenario) {
				o := s.order(2)
				o.TradedAmount, _ = o.TradedAmount.Add(amt(1))
				s.setOrder(2, o)
			},
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name:    "ask output missing",
			mutate:  func(s *scenario) { s.outputs = s.outputs[:2] },
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name: "ask output moved to another lock",
			mutate: func(s *scenario) {
				s.outputs[2].Output.Lock = askOwnerLock
			},
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name: "order type swapped",
			mutate: func(s *scenario) {
				other := cell.Script{CodeHash: sudtCode, Args: dealmakerLock.Hash().Bytes()}
				s.outputs[1].Output.Type = &other
			},
			wantErr: verdict.ErrSettlementMismatch,
		},
		{
			name: "dealmaker surplus sent to a third lock",
			mutate: func(s *scenario) {
				s.outputs[0].Output.Capacity = 1_999_000_000_000
				s.outputs = append(s.outputs, cell.Cell{
					Output: cell.CellOutput{Capacity: 1_224_000_000, Lock: askOwnerLock},
				})
			},
			wantErr: verdict.ErrInsufficientDealmakerProfit,
		},
		{
			name: "dealmaker mints extra tokens",
			mutate: func(s *scenario) {
				s.outputs[0].Data = amt(46_000_000).Bytes()
			},
			wantErr: verdict.ErrMintNotAuthorized,
		},
		{
			name: "dealmaker gives away its tokens",
			mutate: func(s *scenario) {
				tt := tokenType
				s.inputs[0].Output.Type = &tt
				s.inputs[0].Data = amt(100_000_000).Bytes()
			},
			wantErr: verdict.ErrInsufficientDealmakerProfit,
		},
		{
			name: "order data truncated",
			mutate: func(s *scenario) {
				s.outputs[1].Data = s.outputs[1].Data[:16]
			},
			wantErr: verdict.ErrMalformedCellData,
		},
		{
			name: "no dealmaker",
			mutate: func(s *scenario) {
				s.inputs = s.inputs[1:]
				s.outputs = s.outputs[1:]
			},
			wantErr: verdict.ErrSettlementMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScenario()
			tt.mutate(s)
			err := (Validator{}).Evaluate(s.tx(), bidLock)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_DealmakerFundsMinerFee(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint64
		wantFee  uint64
		wantErr  error
	}{
		{"fee above surplus", 1_999_925_000_000, 300_000_000, nil},
		{"fee equals surplus", 2_000_000_000_000, 225_000_000, nil},
		{"whole surplus and more to the miner", 1_000_000_000_000, 1_000_225_000_000, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScenario()
			s.outputs[0].Output.Capacity = tt.capacity
			rtx := s.tx()
			fee, err := rtx.Fee()
			if err != nil || fee != tt.wantFee {
				t.Fatalf("miner fee = %d, %v; want %d", fee, err, tt.wantFee)
			}
			if err := (Validator{}).Evaluate(rtx, bidLock); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate_OwnerWithdrawal(t *testing.T) {
	s := newScenario()
	ownerInput := cell.Cell{Output: cell.CellOutput{Capacity: 100 * cell.ShannonsPerCKB, Lock: bidOwnerLock}}
	bidOrder := s.inputs[1]

	// owner reclaims the order cell into a plain balance cell
	tt := tokenType
	s.inputs = []cell.Cell{ownerInput, bidOrder}
	s.outputs = []cell.Cell{{
		Output: cell.CellOutput{Capacity: 299 * cell.ShannonsPerCKB, Lock: bidOwnerLock, Type: &tt},
		Data:   amt(5_000_000_000).Bytes(),
	}}
	if err := (Validator{}).Evaluate(s.tx(), bidLock); err != nil {
		t.Errorf("owner withdrawal rejected: %v", err)
	}

	// without the owner's cell the same spend is a malformed match
	s.inputs = []cell.Cell{
		{Output: cell.CellOutput{Capacity: 100 * cell.ShannonsPerCKB, Lock: dealmakerLock}},
		bidOrder,
	}
	if err := (Validator{}).Evaluate(s.tx(), bidLock); !errors.Is(err, verdict.ErrSettlementMismatch) {
		t.Errorf("stranger withdrawal err = %v, want SettlementMismatch", err)
	}
}

func TestEvaluate_TwoPairs(t *testing.T) {
	s := newScenario()
	// a second identical pair from other owners settles in the same tx
	carol := cell.Script{CodeHash: secpCode, Args: []byte("carol")}
	dave := cell.Script{CodeHash: secpCode, Args: []byte("dave")}
	carolLock := cell.Script{CodeHash: orderCode, Args: carol.Hash().Bytes()}
	daveLock := cell.Script{CodeHash: orderCode, Args: dave.Hash().Bytes()}

	bidIn, askIn := s.inputs[1], s.inputs[2]
	bidOut, askOut := s.outputs[1], s.outputs[2]
	bidIn.Output.Lock, bidOut.Output.Lock = carolLock, carolLock
	askIn.Output.Lock, askOut.Output.Lock = daveLock, daveLock

	s.inputs = append(s.inputs, bidIn, askIn)
	s.outputs = append(s.outputs, bidOut, askOut)
	s.outputs[0].Output.Capacity += 225_000_000
	s.outputs[0].Data = amt(90_000_000).Bytes()

	if err := (Validator{}).Evaluate(s.tx(), daveLock); err != nil {
		t.Errorf("two-pair match rejected: %v", err)
	}
}
