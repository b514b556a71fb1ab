// Command gateway runs the inference gateway's HTTP front door: it loads
// the function/variant/model/provider configuration, wires live provider
// adapters and a warehouse backend, and serves the §6 HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/modelmesh/gateway/inference/config"
	"github.com/modelmesh/gateway/inference/dispatch"
	"github.com/modelmesh/gateway/inference/runtime"
	"github.com/modelmesh/gateway/inference/telemetry"
	"github.com/modelmesh/gateway/inference/warehouse"
	"github.com/modelmesh/gateway/inference/warehouse/mongowarehouse"
	"github.com/modelmesh/gateway/httpapi"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func main() {
	var (
		configPathF = flag.String("config", "gateway.yaml", "path to the gateway configuration document")
		httpPortF   = flag.String("http-port", "8080", "HTTP listen port")
		mongoURIF   = flag.String("mongo-uri", os.Getenv("GATEWAY_MONGO_URI"), "MongoDB connection string for persisted inference/feedback records (empty disables persistence)")
		mongoDBF    = flag.String("mongo-db", "gateway", "MongoDB database name")
		redisAddrF  = flag.String("redis-addr", os.Getenv("GATEWAY_REDIS_ADDR"), "Redis address for clustered rate-limit coordination (empty disables clustering)")
		dbgF        = flag.Bool("debug", false, "enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configPathF, *httpPortF, *mongoURIF, *mongoDBF, *redisAddrF); err != nil {
		log.Error(ctx, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, httpPort, mongoURI, mongoDB, redisAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
	}

	resolver, err := runtime.New(ctx, cfg, logger, metrics, rdb)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	var writer warehouse.Writer
	var stats warehouse.StatsReader
	if mongoURI != "" {
		store, err := connectMongo(ctx, mongoURI, mongoDB)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		writer = store
		stats = store
	} else {
		mem := warehouse.NewMemoryWriter()
		writer = mem
		stats = mem
	}

	dispatcher := &dispatch.Dispatcher{Config: cfg, Resolver: resolver, Writer: writer}
	server := &httpapi.Server{Dispatcher: dispatcher, Config: cfg, Stats: stats, Logger: logger}

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf(ctx, "listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func connectMongo(ctx context.Context, uri, db string) (*mongowarehouse.Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return mongowarehouse.New(client, db), nil
}
