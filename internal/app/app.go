// Package app wires the swapmarket dependencies and runs the configured
// mode: serve (HTTP API and purchases), index (indexer sync and archiving),
// full (both) or buy (one interactive purchase from the terminal).
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/swapmarket/internal/config"
)

// Options carries per-invocation inputs that do not belong in the config
// file.
type Options struct {
	// OrderKey selects the order to buy in buy mode.
	OrderKey string
	// In and Out are the terminal used for buy-mode prompts. They default to
	// stdin and stdout.
	In  io.Reader
	Out io.Writer
}

// App owns the configuration, logger and shutdown hooks.
type App struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	closers []func()
}

// New creates an App.
func New(cfg *config.Config, opts Options, logger *slog.Logger) *App {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		opts:   opts,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the selected mode until it finishes
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	if mode == config.ModeServe && !a.cfg.Server.Enabled {
		return fmt.Errorf("app: mode serve needs server.enabled")
	}

	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.Int64("chain_id", a.cfg.Chain.ChainID),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch mode {
	case config.ModeServe:
		return a.ServeMode(ctx, deps)
	case config.ModeIndex:
		return a.IndexMode(ctx, deps)
	case config.ModeBuy:
		return a.BuyMode(ctx, deps)
	case config.ModeFull:
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close runs the shutdown hooks in reverse order. Later calls are no-ops.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
