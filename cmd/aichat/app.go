package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"aichat/internal/adapter/provider"
	"aichat/internal/adapter/store/memory"
	"aichat/internal/adapter/store/sqlite"
	"aichat/internal/adapter/stream"
	"aichat/internal/adapter/tui/render"
	"aichat/internal/adapter/tui/uxerror"
	"aichat/internal/domain"
	"aichat/internal/infra/config"
	"aichat/internal/infra/logger"
	"aichat/internal/infra/tracer"
	"aichat/internal/usecase"
	"aichat/internal/usecase/eventbus"
)

// app is the wired chat core shared by every subcommand.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	store   domain.Store
	state   *usecase.AppState
	bus     *eventbus.Bus
	view    *usecase.View
	orch    *usecase.Orchestrator
	printer *render.Printer
	tty     bool

	cleanup []func()
}

// openApp loads the config and builds the store, state, event bus and
// orchestrator on top of it.
func openApp(ctx context.Context, cfgFlag string) (*app, error) {
	// 1. Config
	cfg, err := config.Load(configPath(cfgFlag))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &app{cfg: cfg}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.onClose(func() { logCloser() })

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(sctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	})

	// 3. Store
	store, err := openStore(cfg.Store, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("store: %w", err)
	}
	a.store = store
	a.onClose(func() {
		if err := store.Close(); err != nil {
			log.Warn("store close failed", "error", err)
		}
	})

	// 4. App state
	a.state = usecase.NewAppState(store, log)
	if err := a.state.Init(ctx, usecase.Seed{
		Providers:       cfg.Providers,
		DefaultProvider: cfg.DefaultProvider,
		DefaultModel:    cfg.DefaultModel,
		Settings:        cfg.Settings,
	}); err != nil {
		a.Close()
		return nil, fmt.Errorf("state: %w", err)
	}
	a.onClose(func() {
		if err := a.state.Teardown(context.Background()); err != nil {
			log.Warn("saving app state failed", "error", err)
		}
	})

	// 5. Event bus, view and terminal output
	a.bus = eventbus.New(log)
	a.onClose(a.bus.Close)
	a.view = usecase.NewView()
	a.onClose(a.bus.Attach(a.view))

	fd := int(os.Stdout.Fd())
	a.tty = term.IsTerminal(fd)
	width := 0
	if a.tty {
		if w, _, err := term.GetSize(fd); err == nil {
			width = w
		}
	}
	a.printer = render.New(os.Stdout, a.tty, width)

	// 6. Provider transport and orchestrator
	client := provider.NewClient(cfg.HTTP, log)
	a.orch = usecase.NewOrchestrator(usecase.OrchestratorDeps{
		State:      a.state,
		Store:      store,
		Adapters:   provider.Factory{},
		Streams:    stream.NewOpener(client, log),
		Projection: a.bus,
		ResolveKey: config.ResolveAPIKey,
		Logger:     log,
	})
	a.onClose(a.orch.Close)

	log.Debug("aichat ready",
		"store", cfg.Store.Driver,
		"providers", len(a.state.Providers()),
		"conversations", len(a.state.Conversations()),
	)
	return a, nil
}

func openStore(cfg config.StoreConfig, log *slog.Logger) (domain.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	default:
		s, err := sqlite.Open(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (a *app) onClose(fn func()) { a.cleanup = append(a.cleanup, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	a.cleanup = nil
}

// showConversation loads a conversation into the view.
func (a *app) showConversation(ctx context.Context, id string) error {
	if err := a.state.SetCurrentConversation(ctx, id); err != nil {
		return err
	}
	if id == "" {
		a.view.Reset("", nil)
		return nil
	}
	msgs, err := a.store.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	a.view.Reset(id, msgs)
	return nil
}

func humanize(err error) string {
	return uxerror.Humanize(err).Render()
}

// exitCode maps an error to a process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrAborted):
		return 130
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		return 2
	default:
		return 1
	}
}
