package sudt

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/celldex/pkg/cell"
	"github.com/uhyunpark/celldex/pkg/orderstate"
	"github.com/uhyunpark/celldex/pkg/verdict"
)

var (
	lockCode = cell.Blake2b256([]byte("secp256k1"))
	sudtCode = cell.Blake2b256([]byte("sudt"))

	ownerLock = cell.Script{CodeHash: lockCode, Args: []byte("owner")}
	userLock  = cell.Script{CodeHash: lockCode, Args: []byte("user")}
	tokenType = cell.Script{CodeHash: sudtCode, Args: ownerLock.Hash().Bytes()}
)

func tokenCell(lock cell.Script, amt cell.Amount) cell.Cell {
	tt := tokenType
	return cell.Cell{
		Output: cell.CellOutput{Capacity: 142 * cell.ShannonsPerCKB, Lock: lock, Type: &tt},
		Data:   amt.Bytes(),
	}
}

func plainCell(lock cell.Script, capacity uint64) cell.Cell {
	return cell.Cell{Output: cell.CellOutput{Capacity: capacity, Lock: lock}}
}

func buildTx(inputs, outputs []cell.Cell) *cell.ResolvedTransaction {
	tx := &cell.Transaction{}
	rtx := &cell.ResolvedTransaction{Tx: tx}
	for i, in := range inputs {
		op := cell.OutPoint{TxHash: cell.Blake2b256([]byte("prev")), Index: uint32(i)}
		tx.Inputs = append(tx.Inputs, cell.CellInput{PreviousOutput: op})
		rtx.Inputs = append(rtx.Inputs, cell.ResolvedCell{OutPoint: op, Cell: in})
	}
	for _, out := range outputs {
		tx.Outputs = append(tx.Outputs, out.Output)
		tx.OutputsData = append(tx.OutputsData, hexutil.Bytes(out.Data))
	}
	return rtx
}

func TestValidate_Issuance(t *testing.T) {
	issued := cell.MustParseAmount("10000000000000000000000000000")

	t.Run("owner mints", func(t *testing.T) {
		tx := buildTx(
			[]cell.Cell{plainCell(ownerLock, 20_000*cell.ShannonsPerCKB)},
			[]cell.Cell{tokenCell(ownerLock, issued)},
		)
		if err := Validate(tx, tokenType); err != nil {
			t.Errorf("owner issuance rejected: %v", err)
		}
	})

	t.Run("stranger mints", func(t *testing.T) {
		tx := buildTx(
			[]cell.Cell{plainCell(userLock, 20_000*cell.ShannonsPerCKB)},
			[]cell.Cell{tokenCell(userLock, issued)},
		)
		if err := Validate(tx, tokenType); !errors.Is(err, verdict.ErrMintNotAuthorized) {
			t.Errorf("err = %v, want MintNotAuthorized", err)
		}
	})
}

func TestValidate_Split(t *testing.T) {
	a := cell.NewAmount(100_000)
	half := a.DivUint64(2)
	halfPlusOne, _ := half.Add(cell.NewAmount(1))

	tests := []struct {
		name    string
		outputs []cell.Cell
		wantErr error
	}{
		{
			name:    "even split",
			outputs: []cell.Cell{tokenCell(userLock, half), tokenCell(ownerLock, half)},
		},
		{
			name:    "burn part",
			outputs: []cell.Cell{tokenCell(userLock, half)},
		},
		{
			name:    "one unit too many",
			outputs: []cell.Cell{tokenCell(userLock, half), tokenCell(ownerLock, halfPlusOne)},
			wantErr: verdict.ErrMintNotAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := buildTx([]cell.Cell{tokenCell(userLock, a)}, tt.outputs)
			err := Validate(tx, tokenType)
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected rejection: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_OrderCellsCount(t *testing.T) {
	order := orderstate.Order{
		CurrentAmount: cell.NewAmount(60),
		TargetAmount:  cell.NewAmount(10),
		Price:         orderstate.PriceScale,
		Side:          orderstate.Ask,
	}
	orderCell := tokenCell(userLock, cell.Amount{})
	orderCell.Data = order.Encode()

	tx := buildTx(
		[]cell.Cell{tokenCell(userLock, cell.NewAmount(60))},
		[]cell.Cell{orderCell},
	)
	if err := Validate(tx, tokenType); err != nil {
		t.Errorf("moving a balance into an order cell rejected: %v", err)
	}

	order.CurrentAmount = cell.NewAmount(61)
	orderCell.Data = order.Encode()
	tx = buildTx(
		[]cell.Cell{tokenCell(userLock, cell.NewAmount(60))},
		[]cell.Cell{orderCell},
	)
	if err := Validate(tx, tokenType); !errors.Is(err, verdict.ErrMintNotAuthorized) {
		t.Errorf("order cell inflation err = %v, want MintNotAuthorized", err)
	}
}

func TestValidate_IgnoresOtherTypes(t *testing.T) {
	other := cell.Script{CodeHash: sudtCode, Args: userLock.Hash().Bytes()}
	foreign := tokenCell(userLock, cell.NewAmount(1_000))
	foreign.Output.Type = &other

	tx := buildTx([]cell.Cell{tokenCell(userLock, cell.NewAmount(5))}, []cell.Cell{foreign, tokenCell(userLock, cell.NewAmount(5))})
	if err := Validate(tx, tokenType); err != nil {
		t.Errorf("foreign token counted against this type: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	bad := tokenCell(userLock, cell.NewAmount(1))
	bad.Data = []byte{1, 2, 3}
	tx := buildTx([]cell.Cell{bad}, nil)
	if err := Validate(tx, tokenType); !errors.Is(err, verdict.ErrMalformedCellData) {
		t.Errorf("malformed err = %v, want MalformedCellData", err)
	}

	tx = buildTx(
		[]cell.Cell{tokenCell(userLock, cell.MaxAmount()), tokenCell(userLock, cell.NewAmount(1))},
		nil,
	)
	if err := Validate(tx, tokenType); !errors.Is(err, verdict.ErrAmountArithmeticOverflow) {
		t.Errorf("overflow err = %v, want AmountArithmeticOverflow", err)
	}
}
