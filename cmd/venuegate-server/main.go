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

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/venuegate/server/internal/clock"
	"github.com/venuegate/server/internal/config"
	"github.com/venuegate/server/internal/httpapi"
	"github.com/venuegate/server/internal/httpx"
	"github.com/venuegate/server/internal/rpc"
	"github.com/venuegate/server/internal/venue/events"
	"github.com/venuegate/server/internal/venue/monitor"
	"github.com/venuegate/server/internal/venue/scanlock"
	"github.com/venuegate/server/internal/venue/service"
	"github.com/venuegate/server/internal/venue/tenant"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "venuegate-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flagSet := pflag.NewFlagSet("venuegate-server", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file (default: $VENUEGATE_CONFIG)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close()

	// Optional collaborators; each falls back to an in-process or no-op
	// implementation when unconfigured or unreachable.
	locker := newLocker(ctx, cfg, logger)

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("amqp unavailable, events disabled", slog.Any("err", err))
		} else {
			defer p.Close()
			publisher = p
			logger.Info("publishing events", slog.String("queue", cfg.AMQPQueue))
		}
	}

	var nudger events.TaskNudger = events.Nop{}
	if cfg.MQTTBroker != "" {
		n, err := events.NewMQTTNudger(cfg.MQTTBroker, "venuegate-"+uuid.NewString()[:8], cfg.MQTTTopicPrefix)
		if err != nil {
			logger.Warn("mqtt unavailable, task nudges disabled", slog.Any("err", err))
		} else {
			defer n.Close()
			nudger = n
			logger.Info("task nudges enabled", slog.String("broker", cfg.MQTTBroker))
		}
	}

	sessions := tenant.NewSessionVerifier(cfg.SessionSecret)
	if cfg.SeedDev && sessions.Enabled() {
		if tok, err := sessions.Issue(1, "dev", "operator", 24*time.Hour); err == nil {
			logger.Info("dev operator session", slog.String("token", tok))
		}
	}

	// Services
	clk := clock.Real()
	hub := monitor.NewHub()

	auth := service.NewTenantAuth(be.tenants, sessions, cfg.Location())
	engine := service.NewAdmissionEngine(service.AdmissionDeps{
		Devices:    be.devices,
		Ledger:     be.ledger,
		Resolver:   service.NewResolver(be.credentials),
		Validators: service.NewValidatorChain(be.integrations, nil, clk, logger),
		Locker:     locker,
		Notifier:   hub,
		Events:     publisher,
		Clock:      clk,
		Logger:     logger,
	})
	actuator := service.NewActuator(service.ActuatorDeps{
		Devices:      be.devices,
		Integrations: be.integrations,
		Transports: service.DefaultRelayTransports(
			httpx.New(cfg.Actuation.LocalTimeout),
			httpx.New(cfg.Actuation.CloudTimeout),
		),
		Nudger:      nudger,
		Events:      publisher,
		PulseLength: cfg.Actuation.PulseLength,
		Logger:      logger,
	})
	deviceStatus := service.NewDeviceStatusService(be.devices, be.reports, clk, logger)
	feed := monitor.NewFeed(monitor.FeedDeps{
		Ledger:      be.ledger,
		Devices:     be.devices,
		Areas:       be.areas,
		Credentials: be.credentials,
		Hub:         hub,
		Interval:    cfg.Monitor.Interval,
		BatchSize:   cfg.Monitor.BatchSize,
		Clock:       clk,
		Logger:      logger,
	})

	pruner := service.NewStatusPruner(be.reports, service.PrunerConfig{
		RetentionDays: cfg.StatusRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:        logger,
		Addr:          cfg.HTTPAddr,
		Clock:         clk,
		Auth:          auth,
		Engine:        engine,
		Actuator:      actuator,
		DeviceStatus:  deviceStatus,
		Feed:          feed,
		Monitors:      be.monitors,
		PublicBacklog: cfg.Monitor.PublicBacklog,
		StreamBacklog: cfg.Monitor.StreamBacklog,
	})

	go func() {
		logger.Info("http listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.Any("err", err))
			stop()
		}
	}()

	// gRPC health
	var health *rpc.HealthServer
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
		}
		health = rpc.NewHealthServer(logger)
		health.Watch(ctx, 15*time.Second, be.ping)
		go func() {
			logger.Info("grpc health listening", slog.String("addr", cfg.GRPCAddr))
			if err := health.Serve(lis); err != nil {
				logger.Error("grpc server error", slog.Any("err", err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if health != nil {
		health.Shutdown(shutdownCtx)
	}
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.LogJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With(slog.String("service", "venuegate-server"))
}

// newLocker uses Redis when configured so replicas share decision locks;
// otherwise, or when Redis is unreachable, locks are per process.
func newLocker(ctx context.Context, cfg config.Config, logger *slog.Logger) scanlock.Locker {
	if cfg.RedisAddr == "" {
		return scanlock.NewLocal()
	}
	client, err := scanlock.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, false)
	if err != nil {
		logger.Warn("redis unavailable, using in-process scan lock", slog.Any("err", err))
		return scanlock.NewLocal()
	}
	logger.Info("redis scan lock", slog.String("addr", cfg.RedisAddr))
	return scanlock.NewRedis(client, scanlock.RedisOptions{})
}
