// Package money concentra as regras de ponto fixo: dinheiro com 2 casas,
// odds com 3 casas, arredondamento half-up.
package money

import (
	"github.com/shopspring/decimal"
)

const (
	MoneyScale int32 = 2
	OddsScale  int32 = 3

	// ratioScale é a precisão de (odds - 1) na derivação de stake por passivo.
	ratioScale int32 = 6

	// Currency é a moeda única de liquidação.
	Currency = "SEK"
)

var MinOdds = decimal.RequireFromString("1.001")

// Money normaliza para 2 casas, half-up.
func Money(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyScale) }

// Odds normaliza para 3 casas, half-up.
func Odds(d decimal.Decimal) decimal.Decimal { return d.Round(OddsScale) }

// PotentialPayout = round(stake × odds, 2).
func PotentialPayout(stake, odds decimal.Decimal) decimal.Decimal {
	return Money(stake.Mul(odds))
}

// Liability é o quanto a casa pode perder além da stake.
func Liability(stake, odds decimal.Decimal) decimal.Decimal {
	return PotentialPayout(stake, odds).Sub(stake)
}

// OddsMinusOne deriva (odds - 1) a partir de passivo/stake com 6 casas, half-up.
func OddsMinusOne(liability, stake decimal.Decimal) decimal.Decimal {
	return liability.DivRound(stake, ratioScale)
}

// FloorDiv divide e trunca em 2 casas (sempre para baixo para valores positivos).
func FloorDiv(amount, divisor decimal.Decimal) decimal.Decimal {
	q, _ := amount.QuoRem(divisor, MoneyScale)
	return q
}

// Format devolve o valor com exatamente 2 casas.
func Format(d decimal.Decimal) string { return d.StringFixed(MoneyScale) }

// FormatOdds devolve odds com exatamente 3 casas.
func FormatOdds(d decimal.Decimal) string { return d.StringFixed(OddsScale) }

func IsPositive(d decimal.Decimal) bool { return d.GreaterThan(decimal.Zero) }

// ValidOdds reporta se odds >= 1.001.
func ValidOdds(d decimal.Decimal) bool { return d.GreaterThanOrEqual(MinOdds) }
