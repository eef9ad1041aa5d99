package domain

import "github.com/shopspring/decimal"

// Market is one tradeable perp symbol from the configured allow-list.
// QuoteID is the identifier the external quote API knows the asset by;
// BasePrice anchors the synthetic price walk used when no live quote is
// available.
type Market struct {
	Symbol    string          `json:"symbol"`
	Display   string          `json:"display"`
	QuoteID   string          `json:"quoteId,omitempty"`
	BasePrice decimal.Decimal `json:"basePrice"`
}

// MarketSet is the allow-list the orchestrator checks trades against.
type MarketSet struct {
	markets map[string]Market
	order   []string
}

// NewMarketSet builds an allow-list preserving the given order.
func NewMarketSet(markets []Market) *MarketSet {
	s := &MarketSet{markets: make(map[string]Market, len(markets))}
	for _, m := range markets {
		if _, dup := s.markets[m.Symbol]; dup {
			continue
		}
		s.markets[m.Symbol] = m
		s.order = append(s.order, m.Symbol)
	}
	return s
}

// Get returns the market for symbol, or ErrUnsupportedMarket.
func (s *MarketSet) Get(symbol string) (Market, error) {
	m, ok := s.markets[symbol]
	if !ok {
		return Market{}, ErrUnsupportedMarket
	}
	return m, nil
}

// Contains reports whether symbol is allow-listed.
func (s *MarketSet) Contains(symbol string) bool {
	_, ok := s.markets[symbol]
	return ok
}

// List returns the markets in configuration order.
func (s *MarketSet) List() []Market {
	out := make([]Market, 0, len(s.order))
	for _, sym := range s.order {
		out = append(out, s.markets[sym])
	}
	return out
}
