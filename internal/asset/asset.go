// Package asset handles asset symbol validation and price-feed pair
// description parsing for pool bindings.
package asset

import (
	"regexp"
	"strings"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

var (
	ErrInvalidSymbol = errcode.New("INVALID_SYMBOL", "asset: invalid asset symbol")
	ErrInvalidPair   = errcode.New("INVALID_PAIR", "asset: invalid feed pair description")
)

// symbolRegex matches token symbols: 2-11 uppercase letters or digits,
// starting with a letter. Example: WETH, DAI, USDC, WBTC.
var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]{1,10}$`)

// ParseSymbol validates and canonicalizes an asset symbol.
func ParseSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if !symbolRegex.MatchString(sym) {
		return "", ErrInvalidSymbol
	}
	return sym, nil
}

// Pair is a parsed feed description, e.g. "ETH / USD".
type Pair struct {
	Base  string
	Quote string
}

// ParsePair parses a Chainlink-style "BASE / QUOTE" feed description.
func ParsePair(description string) (Pair, error) {
	parts := strings.Split(description, "/")
	if len(parts) != 2 {
		return Pair{}, ErrInvalidPair
	}
	base, err := ParseSymbol(parts[0])
	if err != nil {
		return Pair{}, ErrInvalidPair
	}
	quote, err := ParseSymbol(parts[1])
	if err != nil {
		return Pair{}, ErrInvalidPair
	}
	return Pair{Base: base, Quote: quote}, nil
}

// String renders the canonical BASE/QUOTE form.
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}
