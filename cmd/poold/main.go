// Command poold is the browser context pool daemon: it wires configuration,
// the browser driver, the pool, and the HTTP adapter together and runs
// until told to shut down.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	apxhttp "github.com/apxor/browserpool/http"
	"github.com/apxor/browserpool/http/handlers"
	"github.com/apxor/browserpool/config"
	"github.com/apxor/browserpool/logger"
	"github.com/apxor/browserpool/services/archive"
	"github.com/apxor/browserpool/services/driver"
	"github.com/apxor/browserpool/services/eventlog"
	"github.com/apxor/browserpool/services/health"
	"github.com/apxor/browserpool/services/monitoring"
	"github.com/apxor/browserpool/services/pool"
	"github.com/apxor/browserpool/services/shutdown"
)

// cli is the set of flags that override the embedded defaults. config.Load
// applies POOL_-prefixed environment variables after the flags, so an
// environment variable takes precedence over the matching flag.
var cli struct {
	Listen       string `help:"Address to listen on." default:""`
	LogLevel     string `help:"Log level (debug, info, warn, error)." default:""`
	LogFormat    string `help:"Log encoder (console, logfmt)." default:""`
	MaxContexts  int    `help:"Maximum concurrent browser contexts." default:"0"`
	DriverBackend string `help:"Browser driver: playwright or docker." default:""`
	ArchiveBucket string `help:"S3 bucket for result archiving." default:""`
	ArchiveRegion string `help:"AWS region for the archive bucket." default:"us-east-1"`
}

func main() {
	kong.Parse(&cli, kong.Description("browser context pool daemon"))

	cfg, err := config.Load(overlayFromFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting poold", zap.String("listen", cfg.Listen), zap.String("driver", cfg.DriverBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	drv := buildDriver(cfg)
	p := pool.New(pool.Config{
		MaxContexts:            cfg.MaxContexts,
		DefaultDomainDelayMs:   cfg.DefaultDomainDelayMs,
		MaxQueueWait:           cfg.MaxQueueWait(),
		MaxConsecutiveErrors:   cfg.MaxConsecutiveErrors,
		PersistentContextsPath: cfg.PersistentContextsPath,
		QueueCap:               cfg.QueueCap(),
		Headless:               cfg.BrowserHeadless,
	}, drv)

	metrics := monitoring.NewCollector()
	p.SetMetrics(metrics)

	sink, err := eventlog.NewSink(ctx, kafkaBrokers(cfg.EventlogKafkaBrokers), "pool-events", cfg.EventlogMongoURI, "browserpool", "events")
	if err != nil {
		logger.Fatal("building event sink", zap.Error(err))
	}
	p.SetEventSink(sink)

	var archiver *archive.Archiver
	if cfg.ArchiveEnabled {
		archiver, err = archive.New(cfg.ArchiveBucket, cli.ArchiveRegion)
		if err != nil {
			logger.Fatal("building archiver", zap.Error(err))
		}
		p.SetArchiver(archiver)
	}

	if err := p.Start(ctx); err != nil {
		logger.Fatal("starting pool", zap.Error(err))
	}

	healthHandler := health.NewHandler(p, archiverHealthFn(archiver), sinkHealthFn(sink))
	healthHandler.StartBackgroundChecks(30 * time.Second)

	server := &apxhttp.Server{
		Logger:      logger.Logger,
		Cors:        apxhttp.CorsConfig{AllowedOrigins: []string{"*"}},
		PoolHandler: handlers.NewPoolHandler(p),
		EventStream: handlers.NewEventStreamHandler(sink),
		Health:      healthHandler,
		Metrics:     metrics,
	}

	coordinator := shutdown.NewCoordinator(cfg.ShutdownGrace())
	coordinator.RegisterHandler("http", shutdown.CreateHTTPServerShutdown(server))
	coordinator.RegisterHandler("pool", shutdown.CreatePoolShutdown(p, cfg.ShutdownGrace()))
	if archiver != nil {
		coordinator.RegisterHandler("archive", shutdown.CreateArchiveShutdown(archiver))
	}
	coordinator.RegisterHandler("eventlog", shutdown.CreateEventlogShutdown(sink))
	coordinator.Start()

	go func() {
		if err := server.Listen(ctx, cfg.Listen); err != nil {
			logger.Error("http server stopped", zap.Error(err))
		}
	}()

	coordinator.WaitForShutdown()
	cancel()
}

func buildDriver(cfg *config.Config) driver.Driver {
	switch cfg.DriverBackend {
	case "docker":
		return driver.NewContainerDriver()
	default:
		return driver.NewPlaywrightDriver(cfg.BrowserHeadless)
	}
}

// overlayFromFlags turns only the flags the operator actually set into a
// koanf overlay, so unset flags never shadow the embedded defaults or
// environment variables.
func overlayFromFlags() map[string]interface{} {
	overlay := map[string]interface{}{}
	if cli.Listen != "" {
		overlay["listen"] = cli.Listen
	}
	if cli.LogLevel != "" {
		overlay["log_level"] = cli.LogLevel
	}
	if cli.LogFormat != "" {
		overlay["log_format"] = cli.LogFormat
	}
	if cli.MaxContexts > 0 {
		overlay["max_contexts"] = cli.MaxContexts
	}
	if cli.DriverBackend != "" {
		overlay["driver_backend"] = cli.DriverBackend
	}
	if cli.ArchiveBucket != "" {
		overlay["archive_bucket"] = cli.ArchiveBucket
		overlay["archive_enabled"] = true
	}
	return overlay
}

func kafkaBrokers(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func archiverHealthFn(a *archive.Archiver) func() bool {
	if a == nil {
		return nil
	}
	return func() bool { return true }
}

func sinkHealthFn(s *eventlog.Sink) func() bool {
	if s == nil {
		return nil
	}
	return func() bool { return true }
}
