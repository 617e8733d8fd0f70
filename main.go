// Command tradekernel is the CLI host around the scheduler, broker
// adapters, and backtest driver under internal/. Boot sequence mirrors
// the teacher's main.go: load .env, build a Config, wire a broker, start
// a Prometheus /metrics and /healthz server, then run the selected mode
// until interrupted.
//
// Flags:
//
//	-mode backtest|live   which driver to run (default "backtest")
//	-symbols              comma-separated watchlist, e.g. "BTC-USD,ETH-USD"
//	-interval             base cadence: 15SEC/1MIN/5MIN/15MIN/30MIN/1HR/1DAY
//	-broker example       live-mode data adapter, wrapped in a PaperBroker
//	                      (the default "paper" is rejected by live mode)
//	-data                 backtest candle directory (FilePersister layout)
//	-start/-end           backtest window, RFC3339
//	-cash/-multiplier/-commission-pct
//	-persist none|file|sql, -persist-dir, -dsn
//	-port                 Prometheus/health HTTP port
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ksuh/tradekernel/examples/smacrossover"
	"github.com/ksuh/tradekernel/internal/backtest"
	"github.com/ksuh/tradekernel/internal/broker"
	"github.com/ksuh/tradekernel/internal/orderbook"
	"github.com/ksuh/tradekernel/internal/pricestore"
	"github.com/ksuh/tradekernel/internal/scheduler"
)

func main() {
	var (
		mode          string
		symbols       string
		baseInterval  string
		brokerKind    string
		restBase      string
		wireURL       string
		keyName       string
		secretsPath   string
		persistKind   string
		persistDir    string
		dsn           string
		dataDir       string
		start         string
		end           string
		cash          float64
		multiplier    float64
		commissionPct float64
		port          int
	)

	loadDotEnv()

	flag.StringVar(&mode, "mode", getEnv("MODE", "backtest"), "backtest or live")
	flag.StringVar(&symbols, "symbols", getEnv("SYMBOLS", "BTC-USD"), "comma-separated watchlist")
	flag.StringVar(&baseInterval, "interval", getEnv("BASE_INTERVAL", "1MIN"), "base cadence")
	flag.StringVar(&brokerKind, "broker", getEnv("BROKER", "paper"), "live-mode broker: example (the default paper is rejected in live mode)")
	flag.StringVar(&restBase, "rest-base", getEnv("REST_BASE", ""), "example adapter REST base URL")
	flag.StringVar(&wireURL, "wire-url", getEnv("WIRE_URL", ""), "example adapter websocket URL")
	flag.StringVar(&keyName, "key-name", getEnv("KEY_NAME", ""), "example adapter signing key name")
	flag.StringVar(&secretsPath, "secrets-path", getEnv("SECRETS_PATH", ""), "example adapter PEM secrets file")
	flag.StringVar(&persistKind, "persist", getEnv("PERSIST", "none"), "none, file, or sql")
	flag.StringVar(&persistDir, "persist-dir", getEnv("PERSIST_DIR", "data"), "FilePersister directory")
	flag.StringVar(&dsn, "dsn", getEnv("POSTGRES_DSN", ""), "Postgres DSN for -persist=sql")
	flag.StringVar(&dataDir, "data", getEnv("DATA_DIR", "data"), "backtest candle directory")
	flag.StringVar(&start, "start", getEnv("BACKTEST_START", ""), "backtest window start, RFC3339")
	flag.StringVar(&end, "end", getEnv("BACKTEST_END", ""), "backtest window end, RFC3339")
	flag.Float64Var(&cash, "cash", getEnvFloat("STARTING_CASH", 10000), "starting cash")
	flag.Float64Var(&multiplier, "multiplier", getEnvFloat("MULTIPLIER", 1), "margin multiplier")
	flag.Float64Var(&commissionPct, "commission-pct", getEnvFloat("COMMISSION_PCT", 0), "commission percent per fill")
	flag.IntVar(&port, "port", getEnvInt("PORT", 8080), "HTTP port for /metrics and /healthz")
	flag.Parse()

	cfg, err := loadConfigFromFlags(mode, symbols, baseInterval, brokerKind, restBase, wireURL, keyName, secretsPath,
		persistKind, persistDir, dsn, dataDir, start, end, cash, multiplier, commissionPct, port)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}
	go func() {
		log.Printf("serving metrics on :%d/metrics", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := log.Default()
	var runErr error
	switch cfg.Mode {
	case "backtest":
		runErr = runBacktest(ctx, cfg, logger)
	case "live":
		runErr = runLive(ctx, cfg, logger)
	default:
		log.Fatalf("unknown -mode %q (want backtest or live)", cfg.Mode)
	}
	if runErr != nil {
		log.Printf("run: %v", runErr)
	}

	shutdownCtx, c := context.WithTimeout(context.Background(), 2*time.Second)
	defer c()
	_ = srv.Shutdown(shutdownCtx)
}

func runBacktest(ctx context.Context, cfg Config, logger *log.Logger) error {
	driverCfg := backtest.Config{
		DataDir:      cfg.DataDir,
		Ext:          "csv",
		Symbols:      cfg.Symbols,
		BaseInterval: cfg.BaseInterval,
		Start:        cfg.Start,
		End:          cfg.End,
		StartingCash: cfg.StartingCash,
		Multiplier:   cfg.Multiplier,
		Commission:   cfg.Commission,
	}
	driver, err := backtest.NewDriver(driverCfg, logger)
	if err != nil {
		return fmt.Errorf("new backtest driver: %w", err)
	}
	for _, sym := range cfg.Symbols {
		driver.Bind(smacrossover.New(sym, cfg.BaseInterval))
	}
	return driver.Run(ctx)
}

func runLive(ctx context.Context, cfg Config, logger *log.Logger) error {
	persister, err := buildPersister(ctx, cfg)
	if err != nil {
		return fmt.Errorf("persistence: %w", err)
	}
	var opts []pricestore.Option
	if persister != nil {
		opts = append(opts, pricestore.WithPersister(persister))
	}
	store := pricestore.New(opts...)

	br, err := buildBroker(cfg, logger)
	if err != nil {
		return fmt.Errorf("broker: %w", err)
	}

	account := orderbook.NewAccount(cfg.StartingCash, cfg.Multiplier)
	clock := scheduler.NewWallClock(cfg.BaseInterval.Duration())
	sched := scheduler.New(clock, store, br, account, cfg.Symbols, cfg.BaseInterval, logger)
	for _, sym := range cfg.Symbols {
		sched.Bind(smacrossover.New(sym, cfg.BaseInterval))
	}
	return sched.Run(ctx)
}

func buildPersister(ctx context.Context, cfg Config) (pricestore.Persister, error) {
	switch cfg.PersistKind {
	case "file":
		return pricestore.NewFilePersister(cfg.PersistDir), nil
	case "sql":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("-persist=sql requires -dsn")
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return pricestore.NewSQLPersister(pool), nil
	default:
		return nil, nil
	}
}

func buildBroker(cfg Config, logger *log.Logger) (broker.Broker, error) {
	switch cfg.BrokerKind {
	case "example":
		adapter, err := broker.NewExampleAdapter(cfg.RestBase, cfg.WireURL, cfg.KeyName, cfg.SecretsPath, logger)
		if err != nil {
			return nil, err
		}
		return broker.NewPaperBroker(adapter, cfg.StartingCash, cfg.Multiplier, cfg.Commission, "", logger), nil
	default:
		return nil, fmt.Errorf("live mode needs a real data streamer; pass -broker example with -rest-base/-wire-url/-key-name/-secrets-path, or run -mode backtest for a fully simulated run")
	}
}
