package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/payhook/internal/auth"
	"github.com/austindbirch/payhook/internal/charge"
	"github.com/austindbirch/payhook/internal/config"
	"github.com/austindbirch/payhook/internal/db"
	"github.com/austindbirch/payhook/internal/device"
	"github.com/austindbirch/payhook/internal/health"
	"github.com/austindbirch/payhook/internal/logging"
	"github.com/austindbirch/payhook/internal/metrics"
	"github.com/austindbirch/payhook/internal/notify"
	"github.com/austindbirch/payhook/internal/order"
	"github.com/austindbirch/payhook/internal/push"
	"github.com/austindbirch/payhook/internal/signature"
	"github.com/austindbirch/payhook/internal/tracing"
	"github.com/austindbirch/payhook/internal/webhook"
)

// backends are the stores the pipeline reads and writes.
type backends struct {
	orders   order.Store
	registry device.Registry
	pinger   health.Pinger // nil when there is no database
	close    func()
}

func openBackends(ctx context.Context, cfg config.Config, logger *logging.Logger) (backends, error) {
	switch cfg.StoreDriver {
	case "memory":
		orders := order.NewMemoryStore()
		registry := device.NewMemoryRegistry()
		if err := seedStores(ctx, cfg, orders, registry, logger); err != nil {
			return backends{}, err
		}
		return backends{orders: orders, registry: registry, close: func() {}}, nil

	case "postgres", "":
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			return backends{}, fmt.Errorf("db connect: %w", err)
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return backends{}, err
		}
		orders := order.NewPostgresStore(pool)
		registry := device.NewPostgresRegistry(pool)
		if err := seedStores(ctx, cfg, orders, registry, logger); err != nil {
			pool.Close()
			return backends{}, err
		}
		return backends{
			orders:   orders,
			registry: registry,
			pinger:   pool,
			close:    pool.Close,
		}, nil
	}
	return backends{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func seedStores(ctx context.Context, cfg config.Config, orders order.Seeder, registry device.Registrar, logger *logging.Logger) error {
	if cfg.SeedFile == "" {
		return nil
	}
	nOrders, nDevices, err := loadSeed(ctx, cfg.SeedFile, orders, registry)
	if err != nil {
		return err
	}
	logger.Plain().WithField("orders", nOrders).WithField("devices", nDevices).
		WithField("store", cfg.StoreDriver).Info("stores seeded")
	return nil
}

// nsqLogger routes go-nsq's internal logging through our JSON logger.
type nsqLogger struct {
	logger *logging.Logger
}

func (l nsqLogger) Output(calldepth int, s string) error {
	l.logger.Plain().WithField("component", "nsq").Info(strings.TrimSpace(s))
	return nil
}

// openPublisher returns an NSQ producer, or an in-process publisher when no
// nsqd address is configured.
func openPublisher(cfg config.Config, logger *logging.Logger) (charge.Publisher, func(), error) {
	if cfg.NSQ.NsqdTCPAddr == "" {
		logger.Plain().Warn("NSQD_TCP_ADDR empty, chargeable sources stay in process")
		return charge.NewMemoryPublisher(), func() {}, nil
	}
	prod, err := nsq.NewProducer(cfg.NSQ.NsqdTCPAddr, nsq.NewConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLogger(nsqLogger{logger: logger}, nsq.LogLevelWarning)
	return prod, prod.Stop, nil
}

func newPusher(cfg config.Config) (push.Pusher, error) {
	var tokens push.TokenSource
	if cfg.Push.PrivateKeyFile != "" {
		keyPEM, err := os.ReadFile(cfg.Push.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read push private key: %w", err)
		}
		signer, err := auth.NewSigner(keyPEM, cfg.Push.Issuer, cfg.Push.Audience, cfg.AppName, 5*time.Minute)
		if err != nil {
			return nil, fmt.Errorf("push signer: %w", err)
		}
		tokens = signer
	}
	return push.NewHTTPClient(cfg.Push.GatewayURL, cfg.Push.Timeout, tokens), nil
}

func newWebhookHandler(cfg config.Config, b backends, pub charge.Publisher, pusher push.Pusher, logger *logging.Logger) *webhook.Handler {
	updater := order.NewUpdater(b.orders, order.UpdaterConfig{
		MaxAttempts:     cfg.OrderUpdate.MaxAttempts,
		BackoffSchedule: cfg.OrderUpdate.BackoffSchedule,
		JitterPercent:   cfg.OrderUpdate.JitterPercent,
	}, logger)

	return webhook.NewHandler(webhook.Options{
		Verifier:        signature.NewVerifier(cfg.Webhook.Secret),
		SignatureHeader: cfg.Webhook.SignatureHeader,
		MaxBodyBytes:    cfg.Webhook.MaxBodyBytes,
		Updater:         updater,
		Composer:        notify.NewComposer(cfg.Notify.DeepLinkBase),
		Dispatcher:      notify.NewDispatcher(device.NewManager(b.registry, logger), pusher, logger),
		Charges:         charge.NewForwarder(pub, cfg.NSQ.ChargesTopic, logger),
		NotifyTimeout:   cfg.Notify.Timeout,
		Logger:          logger,
	})
}

func newMux(hook http.Handler, pinger health.Pinger, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(webhook.Path, hook)
	mux.HandleFunc("/healthz", health.HTTPHandler(pinger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New(cfg.AppName)

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdownTracing()

	if cfg.Webhook.Secret == "" {
		logger.Plain().Fatal("WEBHOOK_SECRET is required")
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("store setup failed")
	}
	defer b.close()

	pub, stopPub, err := openPublisher(cfg, logger)
	if err != nil {
		logger.Plain().WithError(err).Fatal("charge publisher setup failed")
	}
	defer stopPub()

	pusher, err := newPusher(cfg)
	if err != nil {
		logger.Plain().WithError(err).Fatal("push client setup failed")
	}

	// gRPC server carries the standard health service for orchestrators
	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.Watch(ctx, b.pinger, hs, "", 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Plain().WithError(err).Fatal("gRPC listen failed")
	}
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("payhook gRPC listening")
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Plain().WithError(err).Fatal("gRPC serve failed")
		}
	}()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	hook := newWebhookHandler(cfg, b, pub, pusher, logger)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           newMux(hook, b.pinger, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).WithField("store", cfg.StoreDriver).
			Info("payhook HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("HTTP serve failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop
	cancel()
	grpcSrv.GracefulStop()
	shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	_ = httpSrv.Shutdown(shutdownCtx)
	logger.Plain().Info("payhook stopped")
}
