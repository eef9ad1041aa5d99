package oracle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/metrics"
)

// syntheticBucketSeconds is how long one step of the synthetic walk
// lasts. Quotes inside the same bucket are identical.
const syntheticBucketSeconds = 15

// EventSink receives refreshed quotes for the stream hub.
type EventSink interface {
	Broadcast(event string, payload any)
}

// Service answers price queries and runs the background refresher.
type Service struct {
	feed       PriceFeed
	feedSource domain.QuoteSource
	cache      domain.PriceCache
	limiter    domain.RateLimiter
	markets    *domain.MarketSet
	cfg        config.OracleConfig
	events     EventSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates the oracle. events may be nil when no stream hub
// is attached.
func NewService(
	feed PriceFeed,
	cache domain.PriceCache,
	limiter domain.RateLimiter,
	markets *domain.MarketSet,
	cfg config.OracleConfig,
	events EventSink,
	logger *slog.Logger,
) *Service {
	feedSource := domain.QuoteSourceFeed
	if cfg.Source == "contract" {
		feedSource = domain.QuoteSourceContract
	}
	return &Service{
		feed:       feed,
		feedSource: feedSource,
		cache:      cache,
		limiter:    limiter,
		markets:    markets,
		cfg:        cfg,
		events:     events,
		logger:     logger,
		now:        time.Now,
	}
}

// Quote returns the current price for symbol. It never fails: a live
// fetch runs when the per-symbol rate budget allows, then the last
// cached price answers, then a deterministic walk around the market's
// base price.
func (s *Service) Quote(ctx context.Context, symbol string) domain.Quote {
	now := s.now()
	market, err := s.markets.Get(symbol)
	if err != nil {
		market = domain.Market{Symbol: symbol}
	}

	if quote, ok := s.fetchFresh(ctx, market, now); ok {
		return quote
	}

	price, ts, err := s.cache.GetPrice(ctx, symbol)
	if err == nil {
		metrics.QuotesTotal.WithLabelValues(string(domain.QuoteSourceCache)).Inc()
		return domain.Quote{Symbol: symbol, Price: price, At: ts, Source: domain.QuoteSourceCache}
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "oracle: price cache read failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	metrics.QuotesTotal.WithLabelValues(string(domain.QuoteSourceSynthetic)).Inc()
	return domain.Quote{Symbol: symbol, Price: s.synthetic(market, now), At: now, Source: domain.QuoteSourceSynthetic}
}

// fetchFresh tries a live fetch inside the rate budget and caches the
// result. Limiter errors count as denied so a cache outage cannot
// stampede the quote API.
func (s *Service) fetchFresh(ctx context.Context, market domain.Market, now time.Time) (domain.Quote, bool) {
	allowed, err := s.limiter.Allow(ctx, "quote:"+market.Symbol, s.cfg.RateLimit, s.cfg.RateWindow.Duration)
	if err != nil {
		s.logger.WarnContext(ctx, "oracle: rate limiter unavailable",
			slog.String("symbol", market.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.Quote{}, false
	}
	if !allowed {
		return domain.Quote{}, false
	}

	price, err := s.feed.Fetch(ctx, market)
	if err != nil {
		s.logger.WarnContext(ctx, "oracle: quote fetch failed",
			slog.String("symbol", market.Symbol),
			slog.String("error", err.Error()),
		)
		return domain.Quote{}, false
	}

	if err := s.cache.SetPrice(ctx, market.Symbol, price, now); err != nil {
		s.logger.WarnContext(ctx, "oracle: price cache write failed",
			slog.String("symbol", market.Symbol),
			slog.String("error", err.Error()),
		)
	}
	metrics.QuotesTotal.WithLabelValues(string(s.feedSource)).Inc()
	return domain.Quote{Symbol: market.Symbol, Price: price, At: now, Source: s.feedSource}, true
}

// synthetic produces the fallback price: the same symbol and time
// bucket always map to the same point within ±Jitter of the base price.
func (s *Service) synthetic(market domain.Market, at time.Time) decimal.Decimal {
	base := market.BasePrice
	if !base.IsPositive() {
		base = decimal.NewFromInt(1)
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d", market.Symbol, at.Unix()/syntheticBucketSeconds)
	n := h.Sum64()

	swing := (float64(n%2001)/1000 - 1) * s.cfg.Jitter
	return base.Mul(decimal.NewFromFloat(1 + swing))
}

// Run refreshes every allow-listed market on the configured interval
// and broadcasts each quote, until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	interval := s.cfg.RefreshInterval.Duration
	if interval <= 0 {
		interval = syntheticBucketSeconds * time.Second
	}
	s.logger.InfoContext(ctx, "oracle: refresher starting",
		slog.Duration("interval", interval),
		slog.Int("markets", len(s.markets.List())),
	)

	s.refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Service) refresh(ctx context.Context) {
	for _, market := range s.markets.List() {
		quote := s.Quote(ctx, market.Symbol)
		s.emit("price", quote)
		s.logger.DebugContext(ctx, "oracle: refreshed quote",
			slog.String("symbol", quote.Symbol),
			slog.String("price", quote.Price.String()),
			slog.String("source", string(quote.Source)),
		)
	}
}

func (s *Service) emit(event string, payload any) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(event, payload)
}
