// README: Entry point; loads config, wires stores and services, starts the dispatch runner and HTTP server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"roadhelper/internal/config"
	httptransport "roadhelper/internal/http"
	"roadhelper/internal/http/handlers"
	"roadhelper/internal/infra"
	"roadhelper/internal/logging"
	"roadhelper/internal/maps"
	"roadhelper/internal/modules/dispatch"
	"roadhelper/internal/modules/location"
	"roadhelper/internal/modules/riderequest"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("load .env", "error", err)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("roadhelper-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	var app *firebase.App
	if cfg.Firebase.ProjectID != "" {
		var err error
		app, err = infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			return err
		}
	}

	var verifier infra.TokenVerifier = infra.DevVerifier{}
	if cfg.Firebase.DevAuth {
		log.Warn("dev auth enabled; bearer tokens are trusted as uid:role")
	} else {
		v, err := infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			return err
		}
		verifier = v
	}

	var store riderequest.Store
	switch cfg.Store {
	case config.StoreFirestore:
		client, err := infra.NewFirestore(ctx, app)
		if err != nil {
			return err
		}
		defer client.Close()
		store = riderequest.NewFirestoreStore(client, log)
	default:
		log.Warn("using in-memory ride request store; data is lost on restart")
		store = riderequest.NewMemoryStore()
	}

	opts := []riderequest.Option{riderequest.WithLogger(log)}
	if cfg.DB.DSN != "" {
		pool, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		opts = append(opts, riderequest.WithEventLog(riderequest.NewEventStore(pool)))
	}

	var routes handlers.RouteEstimator
	if cfg.Maps.APIKey != "" {
		client, err := maps.NewClient(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		opts = append(opts, riderequest.WithGeocoder(maps.NewGeocoder(client)))
		routes = maps.NewRouteService(client)
	}
	requests := riderequest.NewService(store, opts...)

	var (
		presenceStore location.PresenceStore
		ledger        dispatch.Ledger
	)
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		presenceStore = location.NewStore(rdb)
		ledger = dispatch.NewRedisLedger(rdb)
	} else {
		log.Warn("redis not configured; helper presence and dispatch stay in process")
		presenceStore = location.NewMemoryStore()
		ledger = dispatch.NewMemoryLedger()
	}
	presence := location.NewService(presenceStore, log)

	var notifier dispatch.Notifier = dispatch.LogNotifier{Log: log}
	if app != nil && !cfg.Firebase.DevAuth {
		client, err := infra.NewMessaging(ctx, app)
		if err != nil {
			return err
		}
		notifier = dispatch.NewFCMNotifier(client, log)
	}

	runner := dispatch.NewRunner(requests, presence, ledger, notifier, dispatch.Config{
		RadiusKm:   cfg.Dispatch.RadiusKm,
		MaxHelpers: cfg.Dispatch.MaxHelpers,
	}, log)
	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Error("dispatch runner stopped", "error", err)
		}
	}()

	router := httptransport.NewRouter(ctx, httptransport.RouterDeps{
		Requests: requests,
		Presence: presence,
		Routes:   routes,
		Verifier: verifier,
		Log:      log,

		CORSOrigins: cfg.HTTP.CORSOrigins,
	})
	return httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log).Run(ctx)
}
