package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/openperps/perpdesk/internal/blob/s3"
	"github.com/openperps/perpdesk/internal/config"
	"github.com/openperps/perpdesk/internal/domain"
	"github.com/openperps/perpdesk/internal/ledger"
	"github.com/openperps/perpdesk/internal/oracle"
	"github.com/openperps/perpdesk/internal/orchestrator"
	"github.com/openperps/perpdesk/internal/passkey"
	"github.com/openperps/perpdesk/internal/server"
	"github.com/openperps/perpdesk/internal/server/handler"
	"github.com/openperps/perpdesk/internal/server/ws"
	"github.com/openperps/perpdesk/internal/sim"
)

// ServeMode runs the full dashboard stack: passkey identity, the ledger
// gateway, the demo ledger, the price oracle, the HTTP API, and the
// stream hub. Trades go to the real network unless sim.forced routes
// them to the demo ledger.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Bool("sim_forced", a.cfg.Sim.Forced),
	)
	return a.run(ctx, deps, a.cfg.Sim.Forced)
}

// SimulateMode runs the same stack with every trade and vault operation
// forced through the demo ledger. No transaction is ever signed or
// submitted to the network.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")
	return a.run(ctx, deps, true)
}

func (a *App) run(ctx context.Context, deps *Dependencies, simForced bool) error {
	g, ctx := errgroup.WithContext(ctx)

	// Identity. Ceremonies are answered in-process by the software
	// authenticator; remote mode needs a browser relay this build does
	// not ship.
	if strings.ToLower(a.cfg.Passkey.Mode) != "local" {
		return fmt.Errorf("app: passkey mode %q is not supported by this build, use \"local\"", a.cfg.Passkey.Mode)
	}
	authenticator := passkey.NewLocalAuthenticator()

	// Ledger gateway over the venue RPC node. Constructed even when
	// simulation is forced: the contract price feed still reads
	// through it.
	node := ledger.NewClient(a.cfg.Ledger.RPCURL, a.cfg.Ledger.RequestTimeout.Duration)
	gateway := ledger.NewGateway(node, a.cfg.Ledger, a.logger)

	// Reachability probe. A down node is handled per request by the
	// demo fallback, so the result is logged, never fatal.
	if !simForced {
		g.Go(func() error {
			if err := node.Health(ctx); err != nil {
				a.logger.WarnContext(ctx, "ledger node unreachable at startup",
					slog.String("rpc_url", a.cfg.Ledger.RPCURL),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}

	// Forced simulation registers accounts locally only, so skip the
	// faucet round-trip.
	var funder passkey.AccountFunder
	if !simForced {
		funder = gateway
	}
	identity := passkey.NewService(
		authenticator,
		deps.Repository,
		funder,
		a.cfg.Passkey,
		a.cfg.Ledger.ContractID,
		a.logger,
	)

	demo := sim.NewEngine(deps.Repository, a.cfg.Sim, a.logger)

	markets := domain.NewMarketSet(marketsFromConfig(a.cfg.Markets))

	// Stream hub. Started before the oracle and orchestrator so their
	// broadcasts have somewhere to go.
	hub := ws.NewHub(a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var feed oracle.PriceFeed
	switch a.cfg.Oracle.Source {
	case "contract":
		feed = oracle.NewContractFeed(gateway)
	default:
		feed = oracle.NewClient(a.cfg.Oracle.QuoteURL, a.cfg.Oracle.RequestTimeout.Duration)
	}
	quotes := oracle.NewService(feed, deps.PriceCache, deps.RateLimiter, markets, a.cfg.Oracle, hub, a.logger)
	g.Go(func() error {
		return quotes.Run(ctx)
	})

	orch := orchestrator.New(
		identity,
		gateway,
		demo,
		quotes,
		markets,
		deps.AuditStore,
		hub,
		simForced,
		a.logger,
	)

	// Audit retention sweep, when cold storage is wired.
	if deps.BlobWriter != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		archiver := s3blob.NewAuditArchiver(
			deps.BlobWriter,
			deps.AuditStore,
			retention,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, orch, hub, simForced)
	}

	return g.Wait()
}

// startHTTPServer adds the API server to the given errgroup: one goroutine
// serving requests and one waiting on the context to shut it down
// gracefully.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	orch *orchestrator.Orchestrator,
	hub *ws.Hub,
	simForced bool,
) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(simForced, a.logger),
		Auth:     handler.NewAuthHandler(orch, a.logger),
		Trades:   handler.NewTradeHandler(orch, a.logger),
		Vault:    handler.NewVaultHandler(orch, a.logger),
		Markets:  handler.NewMarketHandler(orch, a.logger),
		Activity: handler.NewActivityHandler(orch, deps.BlobReader, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// marketsFromConfig converts the configured allow-list into domain markets.
func marketsFromConfig(cfgs []config.MarketConfig) []domain.Market {
	markets := make([]domain.Market, 0, len(cfgs))
	for _, m := range cfgs {
		markets = append(markets, domain.Market{
			Symbol:    m.Symbol,
			Display:   m.Display,
			QuoteID:   m.QuoteID,
			BasePrice: decimal.NewFromFloat(m.BasePrice),
		})
	}
	return markets
}
