package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/swapmarket/internal/chain"
	"github.com/alanyoungcy/swapmarket/internal/domain"
	"github.com/alanyoungcy/swapmarket/internal/orderstate"
	"github.com/alanyoungcy/swapmarket/internal/purchase"
	"github.com/alanyoungcy/swapmarket/internal/server"
	"github.com/alanyoungcy/swapmarket/internal/server/handler"
	"github.com/alanyoungcy/swapmarket/internal/server/ws"
	"github.com/alanyoungcy/swapmarket/internal/service"
)

// ServeMode runs the HTTP API, the websocket hub and, when a wallet is
// configured, the purchase flow.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, a.orderService(deps))
	return g.Wait()
}

// IndexMode polls the indexers and runs the archive job.
func (a *App) IndexMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting index mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startIndexing(ctx, g, deps, a.orderService(deps))
	return g.Wait()
}

// FullMode runs indexing and, when enabled, the server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	orders := a.orderService(deps)
	a.startIndexing(ctx, g, deps, orders)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps, orders)
	}
	return g.Wait()
}

// BuyMode runs one purchase of Options.OrderKey, prompting on the terminal
// before every transaction.
func (a *App) BuyMode(ctx context.Context, deps *Dependencies) error {
	if a.opts.OrderKey == "" {
		return errors.New("app: buy mode needs an order key")
	}
	if deps.Wallet == nil {
		return errors.New("app: buy mode needs a wallet")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	orders := a.orderService(deps)
	stack := a.startPurchases(gctx, g, deps, orders, chain.NewPromptConfirmer(a.opts.In, a.opts.Out))
	err := a.buy(gctx, orders, stack.svc)
	stack.svc.Close()

	cancel()
	if werr := g.Wait(); werr != nil && !errors.Is(werr, context.Canceled) {
		a.logger.Warn("background task failed", slog.String("error", werr.Error()))
	}
	return err
}

func (a *App) orderService(deps *Dependencies) *service.OrderService {
	return service.NewOrderService(
		deps.Indexer,
		deps.Chain,
		deps.Deriver,
		deps.Orders,
		deps.Facts,
		deps.Marks,
		deps.SignalBus,
		deps.Audit,
		deps.Notifier,
		service.OrderServiceConfig{
			ChainID:          a.cfg.Chain.ChainID,
			CollectionToken:  a.cfg.Orders.CollectionToken,
			CurrencyDecimals: a.cfg.Chain.CurrencyDecimals,
		},
		a.logger,
	)
}

func (a *App) startIndexing(ctx context.Context, g *errgroup.Group, deps *Dependencies, orders *service.OrderService) {
	g.Go(func() error {
		return orders.Run(ctx, a.cfg.Indexer.PollInterval.Duration)
	})
	if deps.Archiver != nil {
		job := service.NewArchiveJob(deps.Archiver, a.cfg.Archive.Retention.Duration, a.cfg.Archive.Interval.Duration, a.logger)
		g.Go(func() error { return job.Run(ctx) })
	}
}

type purchaseStack struct {
	svc       *service.PurchaseService
	account   string
	allowance *chain.AmountWatcher
	balance   *chain.AmountWatcher
}

// startPurchases builds the purchase service for the configured wallet and
// starts the receipt tracker and the allowance and balance watchers. An
// approval that lands refreshes the allowance; a settlement refreshes the
// balance.
func (a *App) startPurchases(ctx context.Context, g *errgroup.Group, deps *Dependencies, orders service.OrderReader, confirm chain.Confirmer) *purchaseStack {
	account := deps.Wallet.Address().Hex()
	currency := a.cfg.Chain.CurrencyToken
	interval := a.cfg.Chain.AllowancePollInterval.Duration

	allowance := chain.NewAmountWatcher("allowance", func(ctx context.Context) (*big.Int, error) {
		return deps.Chain.Allowance(ctx, currency, account)
	}, interval, a.logger)
	balance := chain.NewAmountWatcher("balance", func(ctx context.Context) (*big.Int, error) {
		return deps.Chain.BalanceOf(ctx, currency, account)
	}, interval, a.logger)

	gw := chain.NewGateway(deps.Chain, deps.Wallet, confirm, deps.Tracker)
	svc := service.NewPurchaseService(
		orders, gw, allowance, balance, deps.Tracker,
		deps.Purchases, deps.Locks, deps.SignalBus, deps.Notifier,
		service.PurchaseServiceConfig{CurrencyToken: currency},
		a.logger,
	)

	g.Go(func() error { return deps.Tracker.Run(ctx) })
	g.Go(func() error { return allowance.Run(ctx) })
	g.Go(func() error { return balance.Run(ctx) })
	g.Go(func() error {
		allowance.RefreshOn(ctx, deps.Tracker, func(tx domain.Transaction) bool {
			return tx.Type == domain.TxApproval && domain.SameAddress(tx.Token, currency)
		})
		return nil
	})
	g.Go(func() error {
		balance.RefreshOn(ctx, deps.Tracker, func(tx domain.Transaction) bool {
			return tx.Type == domain.TxOrder
		})
		return nil
	})

	return &purchaseStack{svc: svc, account: account, allowance: allowance, balance: balance}
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orders *service.OrderService) {
	startedAt := time.Now().UTC()

	var stack *purchaseStack
	switch {
	case deps.Wallet == nil:
		a.logger.Info("no wallet configured; purchase endpoints disabled")
	case a.cfg.Chain.ConfirmTransactions:
		a.logger.Warn("chain.confirm_transactions is on; purchase endpoints disabled, use buy mode")
	default:
		stack = a.startPurchases(ctx, g, deps, orders, chain.AutoConfirm{})
		g.Go(func() error {
			<-ctx.Done()
			stack.svc.Close()
			return nil
		})
	}

	hub := ws.NewHub(deps.SignalBus, ws.Config{
		Mode:      a.cfg.Mode,
		ChainID:   a.cfg.Chain.ChainID,
		StartedAt: startedAt,
	}, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	checks := map[string]handler.Check{
		"postgres": deps.Postgres.Ping,
		"redis":    deps.Redis.Ping,
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(checks, a.logger),
		Status: &handler.StatusHandler{
			Mode:      a.cfg.Mode,
			ChainID:   a.cfg.Chain.ChainID,
			StartedAt: startedAt,
			Clients:   hub.ClientCount,
		},
		Orders:  handler.NewOrderHandler(orders, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
		Streams: handler.NewStreamHandler(deps.SignalBus, a.logger),
	}
	if stack != nil {
		handlers.Status.Account = stack.account
		handlers.Purchases = handler.NewPurchaseHandler(stack.svc, a.logger)
		handlers.Account = handler.NewAccountHandler(stack.account, a.cfg.Chain.CurrencyDecimals, stack.balance, stack.allowance, a.logger)
	}
	if deps.Blobs != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Blobs, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)
	g.Go(func() error { return srv.Run(ctx) })
}

// buyer is the part of the purchase service the terminal flow drives.
type buyer interface {
	Start(ctx context.Context, orderKey string) (domain.Purchase, error)
	Click(ctx context.Context, id string) (purchase.Outcome, error)
	Await(ctx context.Context, id string, done func(domain.PurchaseState) bool) (domain.PurchaseState, error)
	Get(ctx context.Context, id string) (service.PurchaseView, error)
}

type orderLookup interface {
	Get(ctx context.Context, key string) (domain.OrderView, error)
	Sync(ctx context.Context) (service.SyncResult, error)
}

func (a *App) buy(ctx context.Context, orders orderLookup, svc buyer) error {
	return runPurchase(ctx, a.opts.OrderKey, a.cfg.Chain.CurrencyDecimals, orders, svc, a.opts.Out)
}

// runPurchase drives one attempt from the terminal: click, wait for an
// approval to land and click again, then wait for the settlement to finish.
func runPurchase(ctx context.Context, key string, decimals int32, orders orderLookup, svc buyer, out io.Writer) error {
	if _, err := orders.Get(ctx, key); errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintln(out, "order not stored yet, syncing indexers")
		if _, err := orders.Sync(ctx); err != nil {
			return fmt.Errorf("app: sync orders: %w", err)
		}
	}

	p, err := svc.Start(ctx, key)
	if err != nil {
		return fmt.Errorf("app: start purchase: %w", err)
	}
	required, _ := new(big.Int).SetString(p.Required, 10)
	fmt.Fprintf(out, "buying order %s for %s (purchase %s)\n", key, orderstate.FormatAmount(required, decimals), p.ID)

	for {
		res, err := svc.Click(ctx, p.ID)
		if err != nil {
			return fmt.Errorf("app: purchase %s: %w", p.ID, err)
		}
		if res.Transaction != nil {
			fmt.Fprintf(out, "%s transaction %s submitted\n", res.Transaction.Type, res.Transaction.Hash)
		}

		switch res.State {
		case domain.PurchaseDetails:
			if len(res.ValidationErrors) > 0 {
				return fmt.Errorf("app: order %s: %w: %s", key, domain.ErrValidationFailed, strings.Join(res.ValidationErrors, ", "))
			}
			fmt.Fprintln(out, "cancelled")
			return nil

		case domain.PurchaseApproving:
			st, err := svc.Await(ctx, p.ID, func(s domain.PurchaseState) bool { return s != domain.PurchaseApproving })
			if err != nil {
				return err
			}
			if st != domain.PurchaseDetails {
				return purchaseResult(ctx, svc, p.ID, st, out)
			}
			fmt.Fprintln(out, "approval confirmed")

		default:
			st := res.State
			if !st.Terminal() {
				if st, err = svc.Await(ctx, p.ID, domain.PurchaseState.Terminal); err != nil {
					return err
				}
			}
			return purchaseResult(ctx, svc, p.ID, st, out)
		}
	}
}

func purchaseResult(ctx context.Context, svc buyer, id string, st domain.PurchaseState, out io.Writer) error {
	view, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if st == domain.PurchaseSuccess {
		fmt.Fprintf(out, "bought in transaction %s\n", view.TxHash)
		return nil
	}
	return fmt.Errorf("app: purchase %s %s: %s", id, st, view.Error)
}
