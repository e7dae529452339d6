package model

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every monetary value is rounded
// to after each arithmetic operation.
const MoneyPlaces = 4

// Economy constants.
var (
	// PlatformFeeRate is the share of each trade removed from circulation.
	PlatformFeeRate = decimal.New(5, -2)

	// DustFloor is the exclusive lower bound for a committed transfer amount.
	DustFloor = decimal.New(5, -1)

	// BankruptcyFloor: an active agent whose balance falls below it is retired.
	BankruptcyFloor = decimal.NewFromInt(1)

	// BailoutFloor and WarningFloor drive the advisory classifications.
	BailoutFloor = decimal.NewFromInt(5)
	WarningFloor = decimal.NewFromInt(10)

	// SeedBalance is the starting balance of every registered agent.
	SeedBalance = decimal.NewFromInt(100)

	// SurgeRatio flags agents whose balance has grown more than 30% over the seed.
	SurgeRatio = decimal.New(3, -1)
)

// Round rounds d half away from zero to MoneyPlaces.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// Fee returns the platform fee charged on amount.
func Fee(amount decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(PlatformFeeRate))
}

// FormatMoney renders d with exactly MoneyPlaces fractional digits. This is
// the canonical text form used in anchors and the SQLite store.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyPlaces)
}

// ParseMoney parses a decimal string and rounds it to MoneyPlaces.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return Round(d), nil
}
