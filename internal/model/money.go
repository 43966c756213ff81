package model

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Threshold values in CSAs are frequently unbounded ("Infinity", often with
// a trailing proviso) or explicitly absent ("Not Applicable"). Both must be
// carried as sentinels, never as float literals that JSON cannot represent.
var infinityPrefixes = []string{"infinity", "inf", "∞", "unlimited", "none", "null"}

var notApplicableValues = map[string]bool{
	"n/a":            true,
	"na":             true,
	"not applicable": true,
	"none":           true,
	"null":           true,
	"":               true,
}

// IsInfinityValue reports whether raw denotes an unbounded amount. Matching
// is prefix-based so "Infinity; provided that ..." still qualifies.
func IsInfinityValue(raw string) bool {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range infinityPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// IsNotApplicableValue reports whether raw denotes an explicitly absent amount.
func IsNotApplicableValue(raw string) bool {
	return notApplicableValues[strings.ToLower(strings.TrimSpace(raw))]
}

// AmountKind is the semantic category of a monetary value.
type AmountKind string

const (
	AmountFinite        AmountKind = "finite"
	AmountUnbounded     AmountKind = "unbounded"
	AmountNotApplicable AmountKind = "not-applicable"
)

// NormalizedCurrency is a canonical monetary amount. Exactly one of the
// three kinds holds: a finite Amount, IsInfinity, or IsNotApplicable.
type NormalizedCurrency struct {
	Amount          *float64 `json:"amount,omitempty"`
	CurrencyCode    string   `json:"currency_code,omitempty"`
	IsInfinity      bool     `json:"is_infinity"`
	IsNotApplicable bool     `json:"is_not_applicable"`
	RawValue        string   `json:"raw_value"`
	Confidence      float64  `json:"confidence"`
}

// FiniteAmount builds a concrete monetary value.
func FiniteAmount(value float64, code, raw string, confidence float64) NormalizedCurrency {
	return NormalizedCurrency{
		Amount:       &value,
		CurrencyCode: code,
		RawValue:     raw,
		Confidence:   confidence,
	}
}

// UnboundedAmount builds the infinity sentinel.
func UnboundedAmount(raw string, confidence float64) NormalizedCurrency {
	return NormalizedCurrency{IsInfinity: true, RawValue: raw, Confidence: confidence}
}

// NotApplicableAmount builds the not-applicable sentinel, distinct from zero.
func NotApplicableAmount(raw string, confidence float64) NormalizedCurrency {
	return NormalizedCurrency{IsNotApplicable: true, RawValue: raw, Confidence: confidence}
}

// Kind returns the semantic category of the value.
func (c NormalizedCurrency) Kind() AmountKind {
	switch {
	case c.IsInfinity:
		return AmountUnbounded
	case c.IsNotApplicable:
		return AmountNotApplicable
	default:
		return AmountFinite
	}
}

// MarshalJSON refuses to serialize a non-finite float and strips the amount
// when a sentinel flag is set, so the stored form is always unambiguous.
func (c NormalizedCurrency) MarshalJSON() ([]byte, error) {
	if c.Amount != nil {
		if math.IsInf(*c.Amount, 0) || math.IsNaN(*c.Amount) {
			return nil, eris.Errorf("model: non-finite amount %v must use a sentinel", *c.Amount)
		}
		if c.IsInfinity || c.IsNotApplicable {
			c.Amount = nil
		}
	}
	type alias NormalizedCurrency
	return json.Marshal(alias(c))
}

var decimalCleaner = regexp.MustCompile(`[^0-9.\-]`)

// ParseDecimal extracts a finite numeric value from free text, tolerating
// currency symbols, ISO codes, and thousands separators ("$1,000,000.50").
func ParseDecimal(raw string) (float64, bool) {
	cleaned := decimalCleaner.ReplaceAllString(raw, "")
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// NormalizedRounding is a rounding provision applied to transfer amounts.
type NormalizedRounding struct {
	Amount     float64 `json:"amount"`
	Direction  string  `json:"direction,omitempty"` // "up", "down", or "nearest"
	RawValue   string  `json:"raw_value"`
	Confidence float64 `json:"confidence"`
}
