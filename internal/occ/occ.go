// Package occ parses and formats OCC/OSI option symbols, the
// root-plus-expiry-plus-right-plus-strike identifiers used on the wire.
package occ

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Right identifies a call or put contract as found in an OCC symbol.
type Right byte

const (
	// RightCall is the 'C' OCC right code.
	RightCall Right = 'C'
	// RightPut is the 'P' OCC right code.
	RightPut Right = 'P'
)

// Contract is a parsed OCC option identity.
type Contract struct {
	Root     string
	Expiry   time.Time
	Right    Right
	Strike   float64 // dollars
}

// Parse decodes an OCC symbol, tolerating an optional "O:" prefix. Parsing
// works from the end of the string so that roots of any length (SPX, SPXW,
// ...) are handled without a lookup table:
//
//	<root><YYMMDD><C|P><strike, 8 digits, implied 3 decimals>
func Parse(symbol string) (Contract, error) {
	s := strings.TrimPrefix(symbol, "O:")
	if len(s) < 15 {
		return Contract{}, fmt.Errorf("occ: symbol %q too short", symbol)
	}

	strikeDigits := s[len(s)-8:]
	rightByte := s[len(s)-9]
	dateDigits := s[len(s)-15 : len(s)-9]
	root := s[:len(s)-15]

	if root == "" {
		return Contract{}, fmt.Errorf("occ: symbol %q has empty root", symbol)
	}

	var right Right
	switch rightByte {
	case 'C', 'c':
		right = RightCall
	case 'P', 'p':
		right = RightPut
	default:
		return Contract{}, fmt.Errorf("occ: symbol %q has invalid right %q", symbol, rightByte)
	}

	expiry, err := time.Parse("060102", dateDigits)
	if err != nil {
		return Contract{}, fmt.Errorf("occ: symbol %q has invalid expiry: %w", symbol, err)
	}

	strikeMilli, err := strconv.ParseInt(strikeDigits, 10, 64)
	if err != nil {
		return Contract{}, fmt.Errorf("occ: symbol %q has invalid strike: %w", symbol, err)
	}

	return Contract{
		Root:   root,
		Expiry: expiry,
		Right:  right,
		Strike: float64(strikeMilli) / 1000.0,
	}, nil
}

// Format renders a Contract back to its OCC symbol form (without the "O:"
// prefix).
func Format(c Contract) string {
	strikeMilli := int64(c.Strike*1000 + 0.5)
	return fmt.Sprintf("%s%s%c%08d", c.Root, c.Expiry.Format("060102"), byte(c.Right), strikeMilli)
}
