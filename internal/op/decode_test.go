package op_test

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/op"
	"LendLedger/internal/protocol"
)

func TestDecode_ReplaysLoggedBorrow(t *testing.T) {
	currency := protocol.INR
	original := &op.Borrow{
		OpID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		AccountID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Amount:    new(big.Int).Mul(big.NewInt(200), protocol.Precision),
		Currency:  &currency,
		Sequence:  7,
		Time:      1700000000,
	}
	payload, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := op.Decode(op.OpTypeBorrow, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b, ok := decoded.(*op.Borrow)
	if !ok {
		t.Fatalf("decoded %T, want *op.Borrow", decoded)
	}
	if b.OpID != original.OpID || b.AccountID != original.AccountID {
		t.Error("identity fields did not survive the round trip")
	}
	if b.Amount.Cmp(original.Amount) != 0 {
		t.Errorf("amount = %s, want %s", b.Amount, original.Amount)
	}
	if b.Currency == nil || *b.Currency != currency {
		t.Errorf("currency = %v, want %v", b.Currency, currency)
	}
	if b.SourceSequence() != 7 {
		t.Errorf("source sequence = %d, want 7", b.SourceSequence())
	}
}

func TestDecode_OmittedBorrowCurrencyStaysNil(t *testing.T) {
	payload, err := json.Marshal(&op.Borrow{
		OpID:      uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		AccountID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Amount:    big.NewInt(5),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := op.Decode(op.OpTypeBorrow, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := decoded.(*op.Borrow); b.Currency != nil {
		t.Errorf("currency = %v, want nil", *b.Currency)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	if _, err := op.Decode(op.OpTypeUnknown, []byte(`{}`)); err == nil {
		t.Error("expected error for unknown op type")
	}
}

func TestParseOpType_RoundTrip(t *testing.T) {
	types := []op.OpType{
		op.OpTypeDeposit, op.OpTypeWithdraw, op.OpTypeSetCurrency,
		op.OpTypeBorrow, op.OpTypeRepay, op.OpTypeLiquidate,
		op.OpTypeDebtTransfer, op.OpTypeDebtApprove, op.OpTypeDebtTransferFrom,
		op.OpTypeRateUpdate, op.OpTypeRateUpdateAll, op.OpTypePauseSet,
	}
	for _, tt := range types {
		if got := op.ParseOpType(tt.String()); got != tt {
			t.Errorf("ParseOpType(%q) = %v, want %v", tt.String(), got, tt)
		}
	}
	if got := op.ParseOpType("Teleport"); got != op.OpTypeUnknown {
		t.Errorf("ParseOpType(Teleport) = %v, want Unknown", got)
	}
}
