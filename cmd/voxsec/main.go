// Command voxsec is the main entry point for the voxsec call mediation
// server. It connects the switch control channels, listens for media
// streams, and spins up one session per parked inbound call.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxsec/voxsec/internal/admin"
	"github.com/voxsec/voxsec/internal/callog"
	"github.com/voxsec/voxsec/internal/config"
	"github.com/voxsec/voxsec/internal/health"
	"github.com/voxsec/voxsec/internal/observe"
	"github.com/voxsec/voxsec/internal/provider/realtime"
	"github.com/voxsec/voxsec/internal/resilience"
	"github.com/voxsec/voxsec/internal/session"
	"github.com/voxsec/voxsec/internal/store"
	"github.com/voxsec/voxsec/internal/switchctl"
	"github.com/voxsec/voxsec/internal/transfer"
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxsec: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxsec: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxsec starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"media_listen_addr", cfg.Server.MediaListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// Database-provisioned tenants take precedence over the config file.
	var st *store.Store
	if cfg.Store.PostgresDSN != "" {
		st, err = store.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			slog.Error("failed to open store", "err", err)
			return 1
		}
		defer st.Close()

		tenants, err := st.LoadTenants(ctx)
		if err != nil {
			slog.Error("failed to load tenants", "err", err)
			return 1
		}
		if len(tenants) > 0 {
			cfg.Tenants = tenants
			slog.Info("tenants loaded from store", "count", len(tenants))
		}
	}
	if len(cfg.Tenants) == 0 {
		slog.Error("no tenants configured; nothing would answer")
		return 1
	}

	sink := buildSink(cfg, st)

	var ticketer transfer.Ticketer
	if cfg.Sink.TicketURL != "" {
		ticketer = transfer.NewHTTPTicketer(cfg.Sink.TicketURL, cfg.Sink.AuthToken)
	}

	swCfg := switchctl.Config{Addr: cfg.Switch.Addr, Password: cfg.Switch.Password}
	sw := switchctl.NewClient(swCfg)
	if err := sw.Connect(ctx); err != nil {
		slog.Error("failed to connect switch control channel", "addr", cfg.Switch.Addr, "err", err)
		return 1
	}
	defer sw.Close()
	slog.Info("switch control channel connected", "addr", cfg.Switch.Addr)

	var provOpts []realtime.Option
	if cfg.Provider.Model != "" {
		provOpts = append(provOpts, realtime.WithModel(cfg.Provider.Model))
	}
	if cfg.Provider.BaseURL != "" {
		provOpts = append(provOpts, realtime.WithBaseURL(cfg.Provider.BaseURL))
	}
	dialer := resilience.NewDialer(
		realtime.New(cfg.Provider.APIKey, provOpts...), "realtime", resilience.FallbackConfig{})

	registry := session.NewRegistry()

	media := session.NewMediaServer(cfg.Server.MediaListenAddr, registry)
	if err := media.Listen(); err != nil {
		slog.Error("failed to bind media listener", "addr", cfg.Server.MediaListenAddr, "err", err)
		return 1
	}
	mediaURL := cfg.Server.MediaPublicAddr
	if mediaURL == "" {
		mediaURL = media.Addr()
	}
	slog.Info("media server listening", "addr", media.Addr(), "advertised", mediaURL)

	launcher := &launcher{
		cfg:      cfg,
		sw:       sw,
		dialer:   dialer,
		sink:     sink,
		ticketer: ticketer,
		mediaURL: mediaURL,
		registry: registry,
		metrics:  metrics,
	}
	if st != nil {
		launcher.messages = st
	}

	events := switchctl.NewEventStream(swCfg, registry)
	events.OnNewCall = launcher.launch

	checkers := []health.Checker{{
		Name: "switch",
		Check: func(context.Context) error {
			if !sw.Connected() {
				return errors.New("control channel down")
			}
			return nil
		},
	}}
	if st != nil {
		checkers = append(checkers, health.Checker{Name: "database", Check: st.Ping})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	if st != nil {
		mux.Handle("/admin/", admin.Handler(st))
	}
	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: observe.Middleware(metrics)(mux),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := media.Serve(gctx)
		if gctx.Err() != nil {
			return gctx.Err()
		}
		return err
	})

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			err := httpSrv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error { return superviseEvents(gctx, events) })

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	drainSessions(registry)
	slog.Info("goodbye")
	return 0
}

// buildSink composes the configured call record sinks: the external HTTP
// endpoint behind a circuit breaker, and the database when present. Returns
// nil when neither is configured.
func buildSink(cfg *config.Config, st *store.Store) callog.Sink {
	var sinks []callog.Sink
	if cfg.Sink.URL != "" {
		guarded := resilience.NewGuardedSink(
			callog.NewHTTPSink(cfg.Sink.URL, cfg.Sink.AuthToken), "records-api",
			resilience.FallbackConfig{})
		if st != nil {
			// The database copy still lands via the fanout; this fallback
			// only stops the breaker from erroring the whole delivery.
			guarded.AddFallback("store", st)
		}
		sinks = append(sinks, guarded)
	}
	if st != nil {
		sinks = append(sinks, st)
	}
	switch len(sinks) {
	case 0:
		return nil
	case 1:
		return sinks[0]
	default:
		return callog.Fanout(sinks...)
	}
}

// superviseEvents keeps the switch event stream connected, reconnecting
// with capped exponential backoff. A connection that held for a while
// resets the backoff.
func superviseEvents(ctx context.Context, events *switchctl.EventStream) error {
	backoff := resilience.NewBackoff(time.Second, 30*time.Second)
	for {
		started := time.Now()
		err := events.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > time.Minute {
			backoff.Reset()
		}
		delay := backoff.Next()
		slog.Warn("switch event stream disconnected",
			"err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// drainSessions force-ends every live session so records flush before exit.
func drainSessions(registry *session.Registry) {
	for _, sess := range registry.All() {
		sess.Shutdown("server shutdown")
		select {
		case <-sess.Done():
		case <-time.After(20 * time.Second):
			slog.Warn("session did not drain in time", "call_id", sess.CallUUID())
		}
	}
}

// launcher answers parked inbound calls by resolving the tenant for the
// dialed number and starting a session on the channel.
type launcher struct {
	cfg      *config.Config
	sw       switchctl.Commander
	dialer   realtime.Dialer
	sink     callog.Sink
	ticketer transfer.Ticketer
	messages session.MessageStore
	mediaURL string
	registry *session.Registry
	metrics  *observe.Metrics
}

func (l *launcher) launch(ctx context.Context, call switchctl.NewCall) {
	tenant := l.cfg.TenantByNumber(call.Destination)
	if tenant == nil {
		slog.Warn("no tenant for dialed number; rejecting call",
			"call_id", call.UUID, "destination", call.Destination)
		if err := l.sw.Hangup(ctx, call.UUID, "NO_ROUTE_DESTINATION"); err != nil {
			slog.Warn("hangup failed", "call_id", call.UUID, "err", err)
		}
		return
	}
	secretary := tenant.Secretary("")
	if secretary == nil {
		slog.Error("tenant has no secretary profile",
			"call_id", call.UUID, "tenant", tenant.ID)
		_ = l.sw.Hangup(ctx, call.UUID, "TEMPORARY_FAILURE")
		return
	}

	slog.Info("inbound call",
		"call_id", call.UUID,
		"caller", call.CallerID,
		"destination", call.Destination,
		"tenant", tenant.ID,
		"secretary", secretary.ID,
	)

	sess := session.New(session.Config{
		CallUUID:      call.UUID,
		CallerID:      call.CallerID,
		CallerName:    call.CallerName,
		Tenant:        tenant,
		Secretary:     secretary,
		Switch:        l.sw,
		Provider:      l.dialer,
		ProviderLimit: l.cfg.Provider.SessionLimit,
		Sink:          l.sink,
		Ticketer:      l.ticketer,
		Messages:      l.messages,
		MediaURL:      l.mediaURL,
		Registry:      l.registry,
	})
	l.metrics.Observe(tenant.ID, sess.Events())

	started := time.Now()
	l.metrics.CallStarted(ctx, tenant.ID)
	if err := sess.Start(ctx); err != nil {
		slog.Error("session start failed", "call_id", call.UUID, "err", err)
		l.metrics.CallFinished(ctx, tenant.ID, string(sess.Outcome()), time.Since(started))
		_ = l.sw.Hangup(ctx, call.UUID, "TEMPORARY_FAILURE")
		return
	}

	// Answering the parked channel produces the CHANNEL_ANSWER event that
	// moves the session to active and triggers the greeting.
	if err := l.sw.ExecuteOnUUID(ctx, call.UUID, "answer", ""); err != nil {
		slog.Error("failed to answer call", "call_id", call.UUID, "err", err)
		sess.Shutdown("answer failed")
		return
	}

	go func() {
		<-sess.Done()
		l.metrics.CallFinished(context.Background(),
			tenant.ID, string(sess.Outcome()), time.Since(started))
	}()
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
