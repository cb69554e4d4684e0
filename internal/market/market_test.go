package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lvl(price, size string) Level {
	return Level{
		Price: decimal.RequireFromString(price),
		Size:  decimal.RequireFromString(size),
	}
}

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, Pair{Base: "BTC", Quote: "USDT"}, p)
	assert.Equal(t, "BTC/USDT", p.String())

	for _, bad := range []string{"", "BTC", "BTC/", "/USDT", "BTC/USDT/X"} {
		_, err := ParsePair(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseVenue(t *testing.T) {
	v, err := ParseVenue(" Binance ")
	require.NoError(t, err)
	assert.Equal(t, Binance, v)

	_, err = ParseVenue("nasdaq")
	assert.Error(t, err)
}

func TestBookValidate(t *testing.T) {
	valid := &Book{
		Venue:   Binance,
		Pair:    Pair{Base: "BTC", Quote: "USDT"},
		Bids:    []Level{lvl("30000", "1"), lvl("29999", "2")},
		Asks:    []Level{lvl("30001", "1"), lvl("30002", "2")},
		TsLocal: time.Now(),
	}
	assert.NoError(t, valid.Validate())

	crossed := &Book{
		Bids: []Level{lvl("30000", "1")},
		Asks: []Level{lvl("29900", "1")},
	}
	assert.Error(t, crossed.Validate())

	unsortedBids := &Book{
		Bids: []Level{lvl("29999", "1"), lvl("30000", "1")},
		Asks: []Level{lvl("30001", "1")},
	}
	assert.Error(t, unsortedBids.Validate())

	duplicateAsk := &Book{
		Bids: []Level{lvl("30000", "1")},
		Asks: []Level{lvl("30001", "1"), lvl("30001", "2")},
	}
	assert.Error(t, duplicateAsk.Validate())

	negativeSize := &Book{
		Bids: []Level{{Price: decimal.RequireFromString("30000"), Size: decimal.RequireFromString("-1")}},
		Asks: []Level{lvl("30001", "1")},
	}
	assert.Error(t, negativeSize.Validate())

	empty := &Book{}
	assert.Error(t, empty.Validate())

	oneSided := &Book{Bids: []Level{lvl("30000", "1")}}
	assert.NoError(t, oneSided.Validate())
}

func TestValidationReasons(t *testing.T) {
	cases := []struct {
		name   string
		book   *Book
		reason string
	}{
		{"crossed", &Book{
			Bids: []Level{lvl("30000", "1")},
			Asks: []Level{lvl("29900", "1")},
		}, ReasonCrossed},
		{"ordering", &Book{
			Bids: []Level{lvl("29999", "1"), lvl("30000", "1")},
		}, ReasonOrdering},
		{"not positive", &Book{
			Bids: []Level{{Price: decimal.RequireFromString("30000"), Size: decimal.RequireFromString("-1")}},
		}, ReasonNotPositive},
		{"empty", &Book{}, ReasonEmpty},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.book.Validate()
			require.Error(t, err)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}
