package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuoteSource records where a price came from. Reads never fail, so the
// source tells callers how much to trust the number.
type QuoteSource string

const (
	QuoteSourceFeed      QuoteSource = "feed"      // live fetch from the quote API
	QuoteSourceCache     QuoteSource = "cache"     // last known good price
	QuoteSourceContract  QuoteSource = "contract"  // read from the venue contract
	QuoteSourceSynthetic QuoteSource = "synthetic" // pseudo-random walk fallback
)

// Quote is one observed price for a market symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
	Source QuoteSource     `json:"source"`
}
