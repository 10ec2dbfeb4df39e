// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/genrelay/genrelay/internal/adapter/httpadapter"
	"github.com/genrelay/genrelay/internal/audit"
	"github.com/genrelay/genrelay/internal/auth"
	"github.com/genrelay/genrelay/internal/clock"
	"github.com/genrelay/genrelay/internal/config"
	"github.com/genrelay/genrelay/internal/credential"
	"github.com/genrelay/genrelay/internal/dispatcher"
	"github.com/genrelay/genrelay/internal/engine"
	"github.com/genrelay/genrelay/internal/ingress"
	xlog "github.com/genrelay/genrelay/internal/log"
	"github.com/genrelay/genrelay/internal/ratelimit"
	"github.com/genrelay/genrelay/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	xlog.Configure(xlog.Config{Level: "info", Service: "genrelay", Version: version})
	logger := xlog.WithComponent("genrelayd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(strings.TrimSpace(*configPath), version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().Err(err).Str("event", "config.load_failed").Msg("failed to load configuration")
	}

	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: cfg.LogService, Version: cfg.Version})
	logger = xlog.WithComponent("genrelayd")

	cfgHolder := config.NewConfigHolder(cfg, loader, strings.TrimSpace(*configPath))
	if err := cfgHolder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Str("event", "config.watcher_failed").Msg("failed to start config watcher, continuing without hot reload")
	}
	defer cfgHolder.Stop()

	snap := cfgHolder.Current()
	rt := snap.Runtime

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        false,
		ServiceName:    cfg.LogService,
		ServiceVersion: version,
		Environment:    "production",
		ExporterType:   "http",
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialize telemetry provider")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	credIDs := make([]string, 0, len(cfg.Credentials))
	tokens := make(map[string]string, len(cfg.Credentials))
	for _, c := range cfg.Credentials {
		credIDs = append(credIDs, c.ID)
		tokens[c.ID] = c.Token
	}

	var poolOpts []credential.Option
	if rt.PersistDisabledPath != "" {
		poolOpts = append(poolOpts, credential.WithPersistDisabled(rt.PersistDisabledPath))
	}
	pool := credential.New(credIDs, rt.RPMPerKey, poolOpts...)

	ad := httpadapter.New(rt.AdapterBaseURL, credentialTokens(tokens), rt.AdapterTimeout)

	dispatcherCfg := dispatcher.DefaultConfig()
	dispatcherCfg.MaxConcurrent = rt.MaxConcurrent
	dispatcherCfg.MaxRotations = rt.MaxRotations
	dispatcherCfg.MaxAttempts = rt.MaxAttempts
	dispatcherCfg.RetryBackoff = rt.RetryBackoff
	dispatcherCfg.ResultTTL = rt.ResultTTL

	engineCfg := engine.DefaultConfig()
	engineCfg.Dispatcher = dispatcherCfg
	engineCfg.WaitTimeoutUnary = rt.WaitTimeoutUnary
	engineCfg.WaitTimeoutStream = rt.WaitTimeoutStream

	eng := engine.New(engineCfg, clock.New(), pool, ad)
	defer eng.Close()

	store := ingress.NewStore(cfg.Clients)
	throttle := ratelimit.New(ratelimit.DefaultConfig())
	auditLog := audit.NewLogger()

	h := newHandler(eng, store, auditLog, rt.WaitTimeoutUnary)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(xlog.Middleware())
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(throttleMiddleware(throttle))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/requests", h.enqueue)
		r.Get("/requests/{id}", h.poll)
		r.Delete("/requests/{id}", h.cancel)
		r.Get("/stats", h.stats)
		r.Get("/admin/credentials", h.adminCredentials)
	})
	r.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(r, "genrelayd",
		otelhttp.WithTracerProvider(tp.TracerProvider()),
		otelhttp.WithFilter(func(req *http.Request) bool { return req.URL.Path != "/metrics" }),
	)

	srv := &http.Server{
		Addr:         rt.ListenAddr,
		Handler:      traced,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: rt.WaitTimeoutStream + 10*time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("event", "startup").Str("addr", rt.ListenAddr).Str("version", version).Msg("starting genrelayd")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Str("event", "shutdown").Msg("shutting down genrelayd")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		logger.Warn().Err(err).Msg("genrelayd exited with error")
	}
	logger.Info().Msg("server exiting")
}

// credentialTokens adapts a plain map to httpadapter.CredentialTokens.
type credentialTokens map[string]string

func (c credentialTokens) TokenFor(id string) (string, bool) {
	t, ok := c[id]
	return t, ok
}

func throttleMiddleware(l *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := strings.Split(strings.TrimPrefix(r.URL.Path, "/v1/"), "/")[0]
			if route == "" {
				route = "root"
			}
			ip := ratelimit.GetClientIP(r)
			if !l.Allow(ip, route) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestBody struct {
	Priority  int    `json:"priority"`
	Operation string `json:"operation"`
	Payload   []byte `json:"payload"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func authenticate(store *ingress.Store, auditLog *audit.Logger, r *http.Request) (string, bool) {
	token := auth.ExtractToken(r, false)
	if token == "" {
		auditLog.AuthMissing(ratelimit.GetClientIP(r), r.URL.Path)
		return "", false
	}
	clientID, ok := store.Authenticate(token)
	if !ok {
		auditLog.AuthFailure(ratelimit.GetClientIP(r), r.URL.Path, "unknown bearer token")
		return "", false
	}
	auditLog.AuthSuccess(ratelimit.GetClientIP(r), r.URL.Path)
	return clientID, true
}
