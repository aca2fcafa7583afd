package protocol

import "fmt"

// Currency identifies one of the fiat units debt can be denominated in.
// The set is closed: exactly USD and INR.
type Currency uint8

const (
	USD Currency = iota
	INR

	currencyCount
)

// Currencies returns every valid currency in tag order.
func Currencies() []Currency {
	return []Currency{USD, INR}
}

// Valid reports whether c is an in-range currency tag.
func (c Currency) Valid() bool {
	return c < currencyCount
}

func (c Currency) String() string {
	switch c {
	case USD:
		return "USD"
	case INR:
		return "INR"
	default:
		return fmt.Sprintf("Currency(%d)", uint8(c))
	}
}

// ParseCurrency converts a wire symbol to a Currency.
func ParseCurrency(s string) (Currency, error) {
	switch s {
	case "USD":
		return USD, nil
	case "INR":
		return INR, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
}
