package models

import (
	"math"
	"strings"
)

// Money is an amount in a single ISO-4217 currency.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Fraction digits per currency; everything not listed uses 2.
var currencyFractionDigits = map[string]int{
	"JPY": 0, "KRW": 0, "VND": 0, "CLP": 0, "ISK": 0,
	"BHD": 3, "KWD": 3, "OMR": 3, "JOD": 3, "TND": 3,
}

var supportedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "JPY": true, "KRW": true,
	"VND": true, "CLP": true, "ISK": true, "BHD": true, "KWD": true,
	"OMR": true, "JOD": true, "TND": true, "AUD": true, "CAD": true,
	"CHF": true, "CNY": true, "INR": true, "BRL": true, "SGD": true,
}

// ValidCurrency reports whether code is a supported ISO-4217 currency.
func ValidCurrency(code string) bool {
	return supportedCurrencies[strings.ToUpper(code)]
}

// FractionDigits returns the currency's default fraction digits.
func FractionDigits(currency string) int {
	if d, ok := currencyFractionDigits[strings.ToUpper(currency)]; ok {
		return d
	}
	return 2
}

// RoundAmount rounds to the currency's fraction digits using banker's
// rounding, so repeated totals computations are stable.
func RoundAmount(amount float64, currency string) float64 {
	scale := math.Pow10(FractionDigits(currency))
	return math.RoundToEven(amount*scale) / scale
}
