package connector

import (
	"fmt"

	"github.com/shopspring/decimal"

	"spotarb/internal/market"
)

// ParseLevels converts the [price, size] string tuples every venue uses on
// the wire into levels. Tuples with extra trailing fields are accepted;
// malformed numbers fail the whole batch.
func ParseLevels(raw [][]string) ([]market.Level, error) {
	out := make([]market.Level, 0, len(raw))
	for i, tuple := range raw {
		if len(tuple) < 2 {
			return nil, fmt.Errorf("level %d: want [price, size], got %d fields", i, len(tuple))
		}
		price, err := decimal.NewFromString(tuple[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price %q: %w", i, tuple[0], err)
		}
		size, err := decimal.NewFromString(tuple[1])
		if err != nil {
			return nil, fmt.Errorf("level %d size %q: %w", i, tuple[1], err)
		}
		out = append(out, market.Level{Price: price, Size: size})
	}
	return out, nil
}
