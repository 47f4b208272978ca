package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mbiondo/logdog/core"
	httpingest "github.com/mbiondo/logdog/plugins/ingest/http"

	// Import plugins for auto-registration
	_ "github.com/mbiondo/logdog/plugins/appender/buffer"
	_ "github.com/mbiondo/logdog/plugins/appender/console"
	_ "github.com/mbiondo/logdog/plugins/appender/elasticsearch"
	_ "github.com/mbiondo/logdog/plugins/appender/file"
	_ "github.com/mbiondo/logdog/plugins/appender/kafka"
	_ "github.com/mbiondo/logdog/plugins/appender/prometheus"
	_ "github.com/mbiondo/logdog/plugins/appender/webhook"
	_ "github.com/mbiondo/logdog/plugins/filter/json"
	_ "github.com/mbiondo/logdog/plugins/filter/level"
	_ "github.com/mbiondo/logdog/plugins/filter/rate_limit"
	_ "github.com/mbiondo/logdog/plugins/filter/regex"
	_ "github.com/mbiondo/logdog/plugins/formatter/compress"
	_ "github.com/mbiondo/logdog/plugins/formatter/crypto"
	_ "github.com/mbiondo/logdog/plugins/formatter/json"
	_ "github.com/mbiondo/logdog/plugins/formatter/suffix"
	_ "github.com/mbiondo/logdog/plugins/formatter/text"
	_ "github.com/mbiondo/logdog/plugins/stage/async"
	_ "github.com/mbiondo/logdog/plugins/stage/eventid"
	_ "github.com/mbiondo/logdog/plugins/stage/metrics"
)

func main() {
	// Command line flags
	configFile := flag.String("config", "", "Path to configuration file (YAML or TOML)")
	watch := flag.Bool("watch", false, "Rebuild pipelines when the config file changes")
	demo := flag.Bool("demo", false, "Emit a few sample events at startup")
	flag.Parse()

	if err := run(*configFile, *watch, *demo); err != nil {
		fmt.Fprintf(os.Stderr, "logdog: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string, watch, demo bool) error {
	// Load configuration
	config := core.DefaultConfig()
	if configFile != "" {
		var err error
		if config, err = core.LoadConfig(configFile); err != nil {
			return err
		}
	}

	logger, err := core.NewLogger(config.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	if configFile != "" {
		logger.Info("loaded configuration", zap.String("file", configFile))
	} else {
		logger.Info("using default configuration")
	}

	handlers, err := core.BuildHandlers(config)
	if err != nil {
		return err
	}
	set := &router{}
	set.swap(handlers)
	defer func() {
		if err := set.Close(); err != nil {
			logger.Warn("closing handlers", zap.Error(err))
		}
	}()
	logger.Info("pipelines ready", zap.Int("count", len(handlers.Handlers())))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if config.Metrics.Enabled {
		server := &http.Server{
			Addr:              config.Metrics.Address,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", server.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(server.Shutdown)
		})
	}

	if config.Ingest != nil {
		ingest, err := httpingest.NewFromConfig(config.Ingest, set)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		if err := ingest.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return shutdown(ingest.Shutdown)
		})
	}

	if watch && configFile != "" {
		watcher, err := core.NewConfigWatcher(configFile, func(next *core.Config) {
			handlers, err := core.BuildHandlers(next)
			if err != nil {
				logger.Error("reload rejected", zap.Error(err))
				return
			}
			set.swap(handlers)
			logger.Info("pipelines reloaded", zap.Int("count", len(handlers.Handlers())))
		})
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	if demo {
		emitDemo(ctx, set)
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err = g.Wait()
	logger.Info("logdog shutdown complete")
	return err
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func shutdown(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return fn(ctx)
}

// router forwards events to the current handler set. Reloads swap the set
// and close the previous one.
type router struct {
	current atomic.Pointer[core.Multiplex]
}

func (r *router) Log(ctx context.Context, ev core.Event) error {
	m := r.current.Load()
	if m == nil {
		return core.ErrClosed
	}
	return m.Log(ctx, ev)
}

func (r *router) swap(next *core.Multiplex) {
	if prev := r.current.Swap(next); prev != nil {
		if err := prev.Close(); err != nil {
			zap.L().Warn("closing replaced handlers", zap.Error(err))
		}
	}
}

func (r *router) Close() error {
	if m := r.current.Swap(nil); m != nil {
		return m.Close()
	}
	return nil
}

// event builds an event stamped with the caller's location
func event(level core.Level, message string, fields ...core.Field) core.Event {
	ev := core.Event{Level: level, Message: message, Metadata: fields, Source: "logdog"}
	if pc, file, line, ok := runtime.Caller(1); ok {
		ev.File = filepath.Base(file)
		ev.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			ev.Function = fn.Name()
		}
	}
	return ev
}

func emitDemo(ctx context.Context, h core.EventHandler) {
	events := []core.Event{
		event(core.LevelDebug, "demo started", core.F("pid", os.Getpid())),
		event(core.LevelInfo, "listening for events"),
		event(core.LevelWarning, "disk usage high", core.F("percent", 91)),
		event(core.LevelError, "upstream refused connection", core.F("host", "db-1"), core.F("attempt", 3)),
	}
	for _, ev := range events {
		if err := h.Log(ctx, ev); err != nil {
			zap.L().Warn("demo event failed", zap.Error(err))
		}
	}
}
