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
	"runtime"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/firefart/dmarcingest/internal/config"
	"github.com/firefart/dmarcingest/internal/dns"
	"github.com/firefart/dmarcingest/internal/imap"
	"github.com/firefart/dmarcingest/internal/metrics"
	"github.com/firefart/dmarcingest/internal/pipeline"
	"github.com/firefart/dmarcingest/internal/server"
	"github.com/firefart/dmarcingest/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"
)

type cliOptions struct {
	configFile string
	debug      bool
	jsonOutput bool
	devMode    bool
}

func main() {
	var opts cliOptions
	flag.StringVar(&opts.configFile, "config", "", "Config File to use")
	flag.BoolVar(&opts.debug, "debug", false, "Print debug output")
	flag.BoolVar(&opts.jsonOutput, "json", false, "log in json format")
	flag.BoolVar(&opts.devMode, "devmode", false, "enable dev mode (no message delete and goroutine printing)")
	flag.Parse()

	logger := newLogger(opts.debug, opts.jsonOutput)

	if opts.configFile == "" {
		logger.Error("please supply a config file")
		os.Exit(1)
	}

	settings, err := config.GetConfig(config.Defaults(), opts.configFile)
	if err != nil {
		logger.Error("could not read config", "file", opts.configFile, "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, settings, opts.devMode); err != nil {
		logger.Error("error on run", "error", err)
		os.Exit(1)
	}
}

func newLogger(debug, jsonOutput bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	switch {
	case jsonOutput:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	case isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()):
		l := log.NewWithOptions(os.Stdout, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		if debug {
			l.SetLevel(log.DebugLevel)
		}
		return slog.New(l)
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
}

func run(ctx context.Context, logger *slog.Logger, settings *config.Configuration, devMode bool) error {
	pool, err := pgxpool.New(ctx, settings.Database.DSN)
	if err != nil {
		return fmt.Errorf("could not create database pool: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("could not connect to database: %w", err)
	}
	metrics.RegisterPgxPoolMetrics(pool)

	db := store.NewPostgres(pool)
	if settings.Database.CreateSchema {
		logger.Info("ensuring database schema")
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var files store.FileUploader
	if settings.S3.Bucket != "" {
		client := store.NewS3Client(settings.S3.Endpoint, settings.S3.Region, settings.S3.AccessKey, settings.S3.SecretKey, settings.S3.PathStyle)
		files = store.NewObjectStore(client, settings.S3.Bucket, settings.S3.Prefix, settings.S3.PublicURL)
		logger.Info("storing attachments in object storage", "bucket", settings.S3.Bucket)
	}
	backend := store.NewBackend(db, files)

	var resolver store.HostResolver
	if settings.DNS.Enabled {
		resolver = dns.NewCachedDNSResolver(ctx, dns.Options{
			Server:         settings.DNS.Server,
			ConnectTimeout: settings.DNS.ConnectTimeout.Duration,
			Timeout:        settings.DNS.Timeout.Duration,
			CacheTimeout:   settings.DNS.CacheTimeout.Duration,
		}, logger)
	}

	p := pipeline.New(backend, resolver, logger).WithMaxDecodedSize(settings.MaxDecodedSize)

	g, ctx := errgroup.WithContext(ctx)

	// print number of goroutines in devmode
	if devMode {
		g.Go(func() error {
			ticker := time.NewTicker(3 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					logger.Debug("goroutines", "count", runtime.NumGoroutine())
				case <-ctx.Done():
					return nil
				}
			}
		})
	}

	if settings.Listen != "" {
		srv := server.New(p, backend, settings.MaxBodySize, logger).NewHTTPServer(settings.Listen)
		g.Go(func() error {
			logger.Info("starting http server", "listen", settings.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			logger.Info("shutting down http server")
			return srv.Shutdown(shutdownCtx)
		})
	}

	if settings.ImapConfig.Host != "" {
		poller := imap.NewPoller(settings.ImapConfig, settings.BatchSize, p, devMode, logger)
		g.Go(func() error {
			return poller.Run(ctx, settings.FetchInterval.Duration)
		})
	}

	return g.Wait()
}
