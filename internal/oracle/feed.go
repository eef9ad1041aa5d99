// Package oracle serves market prices. Quotes degrade from a live feed
// to the last cached price to a deterministic synthetic walk, so a
// caller always gets a number.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/domain"
)

// PriceFeed fetches one fresh price for a market.
type PriceFeed interface {
	Fetch(ctx context.Context, market domain.Market) (decimal.Decimal, error)
}

// Client is the REST client for a CoinGecko-style simple-price API:
// GET {base}?ids={quoteID}&vs_currencies=usd returning
// {"<quoteID>": {"usd": <price>}}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a quote API client. timeout <= 0 falls back to 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ PriceFeed = (*Client)(nil)

// Fetch returns the USD price for the market's quote id.
func (c *Client) Fetch(ctx context.Context, market domain.Market) (decimal.Decimal, error) {
	if market.QuoteID == "" {
		return decimal.Zero, fmt.Errorf("oracle: market %s has no quote id: %w", market.Symbol, domain.ErrNotFound)
	}

	params := url.Values{}
	params.Set("ids", market.QuoteID)
	params.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: quote request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return decimal.Zero, fmt.Errorf("oracle: quote API: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle: quote API returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	// json.Number keeps the price textual so decimal parsing does not
	// go through float64.
	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("oracle: decode quote: %w", err)
	}
	entry, ok := payload[market.QuoteID]
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle: quote API has no entry for %q: %w", market.QuoteID, domain.ErrNotFound)
	}
	raw, ok := entry["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("oracle: quote for %q has no usd price: %w", market.QuoteID, domain.ErrNotFound)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: parse price %q: %w", raw.String(), err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("oracle: non-positive price %s for %q", price, market.QuoteID)
	}
	return price, nil
}

// ContractReader reads the price the venue contract itself reports.
type ContractReader interface {
	ContractPrice(ctx context.Context, market string) (decimal.Decimal, error)
}

// ContractFeed serves quotes from the venue contract instead of an
// external API.
type ContractFeed struct {
	reader ContractReader
}

// NewContractFeed creates a feed backed by the given contract reader.
func NewContractFeed(reader ContractReader) *ContractFeed {
	return &ContractFeed{reader: reader}
}

var _ PriceFeed = (*ContractFeed)(nil)

// Fetch reads the contract's posted price for the market symbol.
func (f *ContractFeed) Fetch(ctx context.Context, market domain.Market) (decimal.Decimal, error) {
	price, err := f.reader.ContractPrice(ctx, market.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: contract price for %s: %w", market.Symbol, err)
	}
	return price, nil
}
