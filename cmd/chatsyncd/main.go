package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/sociora/sociora-go/internal/config"
	"github.com/sociora/sociora-go/internal/control"
	"github.com/sociora/sociora-go/internal/decision"
	"github.com/sociora/sociora-go/internal/logger"
	"github.com/sociora/sociora-go/internal/metrics"
	"github.com/sociora/sociora-go/internal/receipts"
	"github.com/sociora/sociora-go/internal/requests"
	"github.com/sociora/sociora-go/internal/rest"
	"github.com/sociora/sociora-go/internal/session"
	"github.com/sociora/sociora-go/internal/socket"
	"github.com/sociora/sociora-go/internal/store"
	"github.com/sociora/sociora-go/internal/syncer"
	"github.com/sociora/sociora-go/internal/typing"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.Development)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	tokens := session.StaticToken(os.Getenv("CHATSYNC_TOKEN"))
	rawToken, err := tokens.Token(context.Background())
	if err != nil {
		log.Fatalw("no session token", "error", err)
	}
	ident, err := session.ParseIdentity(rawToken)
	if err != nil {
		log.Fatalw("cannot parse session token", "error", err)
	}
	log.Infow("session resolved", "viewer_id", ident.UserID, "expires_at", ident.ExpiresAt)

	cache, err := decision.Open(afero.NewOsFs(), cfg.DecisionCachePath)
	if err != nil {
		log.Fatalw("cannot open decision cache", "path", cfg.DecisionCachePath, "error", err)
	}

	api, err := rest.NewClient(rest.Config{
		BaseURL:            cfg.API.BaseURL,
		Timeout:            cfg.APITimeout,
		RetryInitial:       cfg.RetryInitial,
		RetryMaxElapsed:    cfg.RetryMaxElapsed,
		MaxIdleConns:       cfg.API.MaxIdleConns,
		IdleConnTimeout:    cfg.IdleConnTimeout,
		BreakerMaxFailures: cfg.API.BreakerMaxFailures,
		BreakerTimeout:     cfg.BreakerTimeout,
	}, tokens, log)
	if err != nil {
		log.Fatalw("cannot build rest client", "error", err)
	}

	sock := socket.New(socket.Config{
		URL:              cfg.Socket.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		PongWait:         cfg.PongWait,
		ReconnectMaxWait: cfg.ReconnectMaxWait,
		ReadLimit:        cfg.Socket.ReadLimitBytes,
		SendBuffer:       cfg.Socket.SendBuffer,
	}, tokens, log)

	st := store.New(log, cfg.Sync.BufferCap)
	ty := typing.New(api, sock, log, cfg.TypingIdle, cfg.TypingRemoteTTL)
	rc := receipts.New(api, st, ident.UserID, log)
	engine := syncer.New(api, sock, st, ty, rc, cache, ident.UserID, syncer.Config{
		PageSize:           cfg.Sync.PageSize,
		QueueSize:          cfg.Sync.QueueSize,
		RefetchMinInterval: cfg.RefetchMinInterval,
	}, log)
	engine.BindSocket(sock)
	reqCtl := requests.New(api, st, cache, ident.UserID, log)
	ctl := control.New(st, engine, reqCtl, rc, ty, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sock.OnAuthFailure(func() {
		// Logout and redirect belong to the auth collaborator; here we can
		// only stop the session.
		log.Errorw("session permanently invalid, shutting down")
		stop()
	})
	sock.OnTerminal(func(reason string) {
		log.Errorw("server terminated the connection", "reason", reason)
		stop()
	})

	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("apply loop exited", "error", err)
		}
	}()

	// Initial load, retried on backoff: a flaky start should not kill the
	// session before the socket has a chance to catch up.
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(func() error {
		return engine.Reconcile(ctx)
	}, backoff.WithContext(b, ctx)); err != nil {
		log.Fatalw("initial reconcile failed", "error", err)
	}

	go func() {
		if err := sock.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("socket loop exited", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
	go func() {
		log.Infow("metrics listening", "addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server failed", "error", err)
		}
	}()

	go func() {
		if err := ctl.Listen(cfg.Control.Addr); err != nil {
			log.Errorw("control api failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ty.Close(shutdownCtx)
	_ = ctl.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
}
