// formrelay - conversational form relay server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/formrelay/internal/api"
	"github.com/ashureev/formrelay/internal/automation"
	"github.com/ashureev/formrelay/internal/config"
	"github.com/ashureev/formrelay/internal/container"
	"github.com/ashureev/formrelay/internal/conversation"
	"github.com/ashureev/formrelay/internal/flow"
	"github.com/ashureev/formrelay/internal/health"
	"github.com/ashureev/formrelay/internal/identity"
	"github.com/ashureev/formrelay/internal/messaging"
	"github.com/ashureev/formrelay/internal/middleware"
	"github.com/ashureev/formrelay/internal/session"
	"github.com/ashureev/formrelay/internal/store"
	"github.com/ashureev/formrelay/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	sessionSweepInterval = time.Minute
	pruneInterval        = time.Hour
	browserReapInterval  = 5 * time.Minute
	healthCheckInterval  = 10 * time.Second
	shutdownTimeout      = 30 * time.Second
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	level.Set(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config) error {
	f, err := loadFlow(cfg)
	if err != nil {
		return err
	}
	pipeline, err := loadPipeline(cfg)
	if err != nil {
		return err
	}
	if err := checkBindings(f, pipeline); err != nil {
		return err
	}
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"flow", f.Name,
		"stages", len(f.Fields),
		"browser_mode", cfg.Browser.Mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ledger.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	abandoned, err := repo.AbandonRunning(ctx, time.Now())
	if err != nil {
		return err
	}
	slog.Info("Database connected", "abandoned_attempts", abandoned)

	// Browser source.
	launcher, cleanup, err := newLauncher(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	driver := automation.NewDriver(launcher, pipeline, automation.Options{
		ArtifactDir:    cfg.ArtifactDir,
		CaptureSuccess: cfg.CaptureSuccess,
	})

	if cfg.LayoutFile != "" {
		watchDone, err := automation.WatchLayout(ctx, cfg.LayoutFile, func(p *automation.Pipeline) {
			if err := checkBindings(f, p); err != nil {
				slog.Error("Layout reload rejected", "error", err)
				return
			}
			driver.SetPipeline(p)
		})
		if err != nil {
			slog.Warn("Layout hot reload disabled", "error", err)
		} else {
			defer func() { <-watchDone }()
		}
	}

	// Outbound messaging.
	hub := messaging.NewHub()
	var webhook messaging.Sender
	if cfg.OutboundWebhookURL != "" {
		webhook = messaging.NewWebhookSender(cfg.OutboundWebhookURL, messaging.WebhookOptions{
			Secret:    cfg.WebhookSecret,
			PerSecond: 20,
			Burst:     40,
		})
		slog.Info("Outbound webhook enabled", "url", cfg.OutboundWebhookURL)
	}
	sender := messaging.NewRouter(hub, webhook)

	// Conversation.
	sessions := session.NewStore()
	machine := conversation.NewMachine(f, sessions, driver, sender, conversation.Options{
		AttemptTimeout: cfg.AttemptTimeout,
		Ledger:         repo,
	})
	limiter := messaging.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	defer limiter.Close()
	dispatcher := conversation.NewDispatcher(machine, conversation.DispatcherOptions{
		Limiter: limiter,
	})

	// Background workers.
	reaperDone := sessions.StartReaper(ctx, sessionSweepInterval, cfg.SessionIdleTTL, nil)
	prunerDone := store.StartPruner(ctx, repo, pruneInterval, cfg.AttemptRetention)

	healthSrv := health.NewServer(map[string]health.Checker{
		"ledger": repo.Ping,
	}, healthCheckInterval)
	healthDone := healthSrv.Watch(ctx)

	// HTTP surface.
	apiHandler := api.NewHandler(repo, f, dispatcher, cfg.WebhookSecret)
	chat := messaging.NewChatHandler(hub, dispatcher, cfg.AllowedOrigins, cfg.IsDevelopment())

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))

	apiHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		r.Get("/ws/chat", chat.ServeHTTP)
		r.Handle("/*", web.ChatPage())
	})

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		// Chat sockets are long lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	var healthLis net.Listener
	if cfg.GRPCHealthAddr != "" {
		healthLis, err = net.Listen("tcp", cfg.GRPCHealthAddr)
		if err != nil {
			stop()
			<-reaperDone
			<-prunerDone
			<-healthDone
			return fmt.Errorf("listen grpc health: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if healthLis != nil {
		g.Go(func() error { return healthSrv.Serve(healthLis) })
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		healthSrv.Stop()
		hub.CloseAll()
		if err := dispatcher.Close(shutdownCtx); err != nil {
			slog.Warn("Running attempts were cancelled during shutdown", "error", err)
		}
		machine.Close()
		return nil
	})

	err = g.Wait()
	stop()
	<-reaperDone
	<-prunerDone
	<-healthDone
	return err
}

func loadFlow(cfg *config.Config) (*flow.Flow, error) {
	if cfg.FlowFile != "" {
		f, err := flow.Load(cfg.FlowFile)
		if err != nil {
			return nil, fmt.Errorf("load flow %s: %w", cfg.FlowFile, err)
		}
		return f, nil
	}
	f, err := flow.Preset(cfg.Flow)
	if err != nil {
		return nil, fmt.Errorf("load flow preset: %w", err)
	}
	return f, nil
}

func loadPipeline(cfg *config.Config) (*automation.Pipeline, error) {
	layout := automation.DefaultLayout()
	if cfg.LayoutFile != "" {
		var err error
		layout, err = automation.LoadLayout(cfg.LayoutFile)
		if err != nil {
			return nil, fmt.Errorf("load layout %s: %w", cfg.LayoutFile, err)
		}
	}
	pipeline, err := layout.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile layout: %w", err)
	}
	return pipeline, nil
}

// checkBindings refuses a layout whose required inputs the flow never
// collects and the layout does not default.
func checkBindings(f *flow.Flow, p *automation.Pipeline) error {
	if missing := p.Unbound(f.FieldNames()); len(missing) > 0 {
		return fmt.Errorf("layout requires fields flow %s does not collect: %s", f.Name, strings.Join(missing, ", "))
	}
	return nil
}

// newLauncher selects the browser source. The returned cleanup runs after
// the server has stopped.
func newLauncher(ctx context.Context, cfg *config.Config) (automation.Launcher, func(), error) {
	rodCfg := automation.RodConfig{
		Bin:       cfg.Browser.Bin,
		Headless:  cfg.Browser.Headless,
		NoSandbox: config.IsContainer(),
	}

	switch cfg.Browser.Mode {
	case config.BrowserRemote:
		rodCfg.ControlURL = cfg.Browser.URL
		slog.Info("Using remote browser", "url", cfg.Browser.URL)
		return automation.NewRodLauncher(rodCfg), func() {}, nil

	case config.BrowserDocker:
		mgr, err := container.NewDockerManager(container.Options{
			Image:   cfg.Browser.Image,
			Runtime: cfg.Browser.Runtime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize container manager: %w", err)
		}
		networkID, err := mgr.EnsureNetwork(ctx)
		if err != nil {
			_ = mgr.Close()
			return nil, nil, fmt.Errorf("ensure browser network: %w", err)
		}
		slog.Info("Browser network ready", "network_id", networkID)

		// Containers older than one attempt can only be leftovers.
		maxAge := cfg.AttemptTimeout + time.Minute
		if n := container.Reap(ctx, mgr, maxAge, time.Now()); n > 0 {
			slog.Info("Removed leftover browser containers", "count", n)
		}
		reaperCtx, cancel := context.WithCancel(ctx)
		done := container.StartReaper(reaperCtx, mgr, browserReapInterval, maxAge)

		return container.NewBrowserLauncher(mgr, rodCfg), func() {
			cancel()
			<-done
			if err := mgr.Close(); err != nil {
				slog.Warn("Failed to close docker client", "error", err)
			}
		}, nil

	default:
		return automation.NewRodLauncher(rodCfg), func() {}, nil
	}
}
