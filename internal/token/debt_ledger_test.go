package token_test

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
	"LendLedger/internal/token"
)

var (
	owner  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	engine = uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")
	alice  = uuid.MustParse("00000000-0000-0000-0000-0000000000a1")
	bob    = uuid.MustParse("00000000-0000-0000-0000-0000000000b2")
)

func newLedgerWithEngine(t *testing.T) *token.DebtLedger {
	t.Helper()
	dl := token.NewDebtLedger(protocol.USD, owner)
	if err := dl.SetEngine(owner, engine); err != nil {
		t.Fatalf("SetEngine: %v", err)
	}
	return dl
}

func TestSetEngine_OnceOnly(t *testing.T) {
	dl := token.NewDebtLedger(protocol.USD, owner)

	if err := dl.SetEngine(alice, engine); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("non-owner: got %v, want ErrUnauthorized", err)
	}
	if err := dl.SetEngine(owner, engine); err != nil {
		t.Fatalf("first SetEngine: %v", err)
	}
	if err := dl.SetEngine(owner, alice); !errors.Is(err, protocol.ErrEngineAlreadySet) {
		t.Errorf("second SetEngine: got %v, want ErrEngineAlreadySet", err)
	}
}

func TestMint_EngineOnly(t *testing.T) {
	dl := newLedgerWithEngine(t)

	if err := dl.Mint(owner, alice, big.NewInt(100)); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("owner mint: got %v, want ErrUnauthorized", err)
	}
	if err := dl.Mint(engine, alice, big.NewInt(100)); err != nil {
		t.Fatalf("engine mint: %v", err)
	}
	if got := dl.BalanceOf(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("balance = %s, want 100", got)
	}
	if got := dl.TotalSupply(); got.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("supply = %s, want 100", got)
	}
}

func TestMint_BeforeEngineSetRejected(t *testing.T) {
	dl := token.NewDebtLedger(protocol.USD, owner)

	if err := dl.Mint(engine, alice, big.NewInt(1)); !errors.Is(err, protocol.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestBurn_InsufficientBalance(t *testing.T) {
	dl := newLedgerWithEngine(t)
	if err := dl.Mint(engine, alice, big.NewInt(50)); err != nil {
		t.Fatal(err)
	}

	if err := dl.Burn(engine, alice, big.NewInt(51)); !errors.Is(err, protocol.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
	if err := dl.Burn(engine, alice, big.NewInt(50)); err != nil {
		t.Fatalf("exact burn: %v", err)
	}
	if got := dl.TotalSupply(); got.Sign() != 0 {
		t.Errorf("supply = %s, want 0", got)
	}
}

func TestTransfer_MovesBalance(t *testing.T) {
	dl := newLedgerWithEngine(t)
	if err := dl.Mint(engine, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	if err := dl.Transfer(alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := dl.BalanceOf(alice); got.Cmp(big.NewInt(70)) != 0 {
		t.Errorf("alice = %s, want 70", got)
	}
	if got := dl.BalanceOf(bob); got.Cmp(big.NewInt(30)) != 0 {
		t.Errorf("bob = %s, want 30", got)
	}

	if err := dl.Transfer(bob, alice, big.NewInt(31)); !errors.Is(err, protocol.ErrInsufficientBalance) {
		t.Errorf("overdraw: got %v, want ErrInsufficientBalance", err)
	}
}

func TestTransferFrom_AllowanceLifecycle(t *testing.T) {
	dl := newLedgerWithEngine(t)
	if err := dl.Mint(engine, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}

	if err := dl.TransferFrom(bob, alice, bob, big.NewInt(10)); !errors.Is(err, protocol.ErrInsufficientAllowance) {
		t.Errorf("no allowance: got %v, want ErrInsufficientAllowance", err)
	}

	if err := dl.Approve(alice, bob, big.NewInt(40)); err != nil {
		t.Fatal(err)
	}
	if err := dl.TransferFrom(bob, alice, bob, big.NewInt(25)); err != nil {
		t.Fatalf("TransferFrom: %v", err)
	}
	if got := dl.Allowance(alice, bob); got.Cmp(big.NewInt(15)) != 0 {
		t.Errorf("remaining allowance = %s, want 15", got)
	}
	if got := dl.BalanceOf(bob); got.Cmp(big.NewInt(25)) != 0 {
		t.Errorf("bob = %s, want 25", got)
	}

	if err := dl.TransferFrom(bob, alice, bob, big.NewInt(16)); !errors.Is(err, protocol.ErrInsufficientAllowance) {
		t.Errorf("over allowance: got %v, want ErrInsufficientAllowance", err)
	}
}

func TestSupplyEqualsSumOfBalances(t *testing.T) {
	dl := newLedgerWithEngine(t)
	if err := dl.Mint(engine, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := dl.Mint(engine, bob, big.NewInt(250)); err != nil {
		t.Fatal(err)
	}
	if err := dl.Transfer(bob, alice, big.NewInt(49)); err != nil {
		t.Fatal(err)
	}
	if err := dl.Burn(engine, alice, big.NewInt(120)); err != nil {
		t.Fatal(err)
	}

	if dl.TotalSupply().Cmp(dl.SumBalances()) != 0 {
		t.Errorf("supply %s != sum of balances %s", dl.TotalSupply(), dl.SumBalances())
	}
}

func TestSnapshotRestore_PreservesCanonicalBytes(t *testing.T) {
	dl := newLedgerWithEngine(t)
	if err := dl.Mint(engine, alice, big.NewInt(100)); err != nil {
		t.Fatal(err)
	}
	if err := dl.Approve(alice, bob, big.NewInt(7)); err != nil {
		t.Fatal(err)
	}
	before := dl.CanonicalBytes()

	holders, allowances := dl.Snapshot()
	restored := token.NewDebtLedger(protocol.USD, owner)
	restored.Restore(engine, true, holders, allowances)

	if string(before) != string(restored.CanonicalBytes()) {
		t.Error("canonical bytes should survive snapshot round-trip")
	}
	if restored.TotalSupply().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("restored supply = %s, want 100", restored.TotalSupply())
	}
}
