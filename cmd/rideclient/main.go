package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/config"
	"github.com/example/ride-client/internal/conn"
	"github.com/example/ride-client/internal/geocode"
	"github.com/example/ride-client/internal/httpapi"
	"github.com/example/ride-client/internal/ingest"
	"github.com/example/ride-client/internal/logging"
	"github.com/example/ride-client/internal/payments"
	"github.com/example/ride-client/internal/ride"
	"github.com/example/ride-client/internal/store"
	"github.com/example/ride-client/internal/topics"
)

func main() {
	var (
		role     string
		userID   string
		driverID string
	)
	flag.StringVar(&role, "role", "rider", "run as 'rider' or 'driver'")
	flag.StringVar(&userID, "user", "", "customer id (rider role)")
	flag.StringVar(&driverID, "driver", "", "driver id (driver role)")
	flag.Parse()

	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+cfg.AuthToken)
	}
	dialer := &conn.WebsocketDialer{HandshakeTimeout: cfg.DialTimeout}
	mgr := conn.NewManager(dialer, cfg.WSURL, header, cfg.ReconnectDelay, cfg.WriteTimeout, logging.ForComponent(logger, "conn"))
	router := topics.NewRouter(mgr, logging.ForComponent(logger, "topics"))
	rest := backend.NewClient(cfg.BackendURL, cfg.AuthToken, cfg.BackendTimeout)
	geocoder := geocode.NewClient(cfg.GeocodeURL, cfg.GeocodeRegion)

	var sessions store.SessionStore = store.NewMemoryStore()
	if cfg.RedisAddr != "" {
		sessions = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.CurrentRideKey)
		logger.Info("using redis session store", "addr", cfg.RedisAddr)
	}
	var archive store.TripArchive = store.NopArchive{}
	if cfg.PGDSN != "" {
		pg, err := store.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres archive unavailable", "error", err)
		} else {
			defer pg.Close()
			archive = pg
			logger.Info("archiving completed trips to postgres")
		}
	}

	switch role {
	case "rider":
		if userID == "" {
			fmt.Fprintln(os.Stderr, "rider role requires -user")
			os.Exit(1)
		}
		runRider(ctx, cfg, mgr, router, rest, geocoder, sessions, archive, logger, userID)
	case "driver":
		if driverID == "" {
			fmt.Fprintln(os.Stderr, "driver role requires -driver")
			os.Exit(1)
		}
		runDriver(ctx, cfg, mgr, rest, geocoder, logger, driverID)
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", role)
		os.Exit(1)
	}
}

func runRider(ctx context.Context, cfg config.ClientConfig, mgr *conn.Manager, router *topics.Router,
	rest *backend.Client, geocoder *geocode.Client, sessions store.SessionStore, archive store.TripArchive,
	logger *slog.Logger, userID string) {

	opts := ride.Options{
		Sessions: sessions,
		Archive:  archive,
		Log:      logging.ForComponent(logger, "session"),
	}
	if os.Getenv("STRIPE_API_KEY") != "" {
		opts.Settler = payments.NewStripeSettler()
	}
	if len(cfg.KafkaBrokers) > 0 {
		j := ingest.NewKafkaJournal(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer j.Close()
		opts.Journal = j
	}
	sess := ride.NewSession(userID, router, rest, opts)
	mgr.OnReconnected(sess.RetryPending)

	startOps(cfg.MetricsAddr, httpapi.NewServer(mgr, sess, nil, geocoder, logging.ForComponent(logger, "httpapi")), logger)

	if err := mgr.Connect(ctx); err != nil {
		logger.Error("initial connect failed", "error", err)
	}
	if ok, err := sess.Resume(ctx); err != nil {
		logger.Error("resume failed", "error", err)
	} else if ok {
		logger.Info("resumed active ride", "status", sess.Snapshot().Status)
	}

	<-ctx.Done()
	mgr.Disconnect()
	logger.Info("rider client stopped")
}

func runDriver(ctx context.Context, cfg config.ClientConfig, mgr *conn.Manager, rest *backend.Client,
	geocoder *geocode.Client, logger *slog.Logger, driverID string) {

	board := ride.NewOfferBoard(driverID, rest, cfg.PollInterval, cfg.OfferTTL, logging.ForComponent(logger, "offers"))

	startOps(cfg.MetricsAddr, httpapi.NewServer(mgr, nil, board, geocoder, logging.ForComponent(logger, "httpapi")), logger)

	if err := mgr.Connect(ctx); err != nil {
		logger.Error("initial connect failed", "error", err)
	}
	logger.Info("polling for open rides", "driver_id", driverID, "interval", cfg.PollInterval)
	board.Run(ctx)

	mgr.Disconnect()
	logger.Info("driver client stopped")
}

func startOps(addr string, h http.Handler, logger *slog.Logger) {
	go func() {
		logger.Info("ops endpoint listening", "addr", addr)
		if err := http.ListenAndServe(addr, h); err != nil {
			logger.Error("ops endpoint stopped", "error", err)
		}
	}()
}
