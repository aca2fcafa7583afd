package engine

import (
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/protocol"
)

// Position is one account's collateral and debt. Created implicitly on first
// deposit, never deleted. Currency pins the debt denomination while any debt
// is outstanding.
type Position struct {
	Account     uuid.UUID
	Collateral  *big.Int
	Borrowed    *big.Int
	Currency    protocol.Currency
	CurrencySet bool
}

func newPosition(account uuid.UUID) *Position {
	return &Position{
		Account:    account,
		Collateral: new(big.Int),
		Borrowed:   new(big.Int),
	}
}

func (p *Position) clone() *Position {
	return &Position{
		Account:     p.Account,
		Collateral:  new(big.Int).Set(p.Collateral),
		Borrowed:    new(big.Int).Set(p.Borrowed),
		Currency:    p.Currency,
		CurrencySet: p.CurrencySet,
	}
}

// CanonicalBytes returns a deterministic serialization for hashing.
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, p.Account[:]...)
	buf = protocol.AppendBig(buf, p.Collateral)
	buf = protocol.AppendBig(buf, p.Borrowed)
	buf = append(buf, byte(p.Currency))
	if p.CurrencySet {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}
