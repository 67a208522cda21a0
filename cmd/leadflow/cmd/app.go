package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jeeves-cluster-organization/leadflow/commbus"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/config"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/extract"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/generator"
	grpcserver "github.com/jeeves-cluster-organization/leadflow/coreengine/grpc"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/httpapi"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/kernel"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/logging"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/observability"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/runtime"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/stages"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/tools"
)

// limiterSweepInterval is how often idle rate limiter windows are dropped.
const limiterSweepInterval = time.Minute

// app holds the wired service. newApp builds everything without opening
// listeners; run starts them.
type app struct {
	cfg    *config.Config
	logger logging.Logger

	bus        commbus.Bus
	limiter    *kernel.RateLimiter
	cache      *tools.RedisCache
	dispatcher *runtime.Dispatcher
	consumer   *runtime.Consumer
	http       *http.Server
	grpc       *grpcserver.Server

	shutdownTracer func(context.Context) error
}

func newApp(cfg *config.Config, logger logging.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTracer(cfg.Tracing.ServiceName, Version, cfg.Tracing.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.shutdownTracer = shutdown
	}

	a.bus, err = newBus(cfg.Bus, logger)
	if err != nil {
		return nil, err
	}

	a.limiter = kernel.NewRateLimiter(&kernel.RateLimitConfig{
		RequestsPerMinute: cfg.Generator.RequestsPerMinute,
	})
	gen := generator.NewAnthropicClient(generator.AnthropicConfig{
		BaseURL:      cfg.Generator.BaseURL,
		APIKey:       cfg.Generator.APIKey,
		Model:        cfg.Generator.Model,
		Temperature:  cfg.Generator.Temperature,
		MaxTokens:    cfg.Generator.MaxTokens,
		Timeout:      cfg.Generator.Timeout,
		MaxToolTurns: cfg.Generator.MaxToolTurns,
	}, a.limiter, logger)

	if cfg.Tools.Cache.Enabled {
		a.cache, err = tools.NewRedisCache(cfg.Tools.Cache.RedisURL, cfg.Tools.Cache.TTL, logger)
		if err != nil {
			return nil, err
		}
	}
	toolOpts, err := toolOptions(cfg.Tools)
	if err != nil {
		return nil, err
	}
	toolOpts.Cache = a.cache
	executor, err := tools.Build(toolOpts, gen, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build tools: %w", err)
	}
	logger.Info("tools_registered", "tools", executor.List())

	mode, err := extract.ParseMode(cfg.Extract.Mode)
	if err != nil {
		return nil, err
	}

	var sink stages.Sink = stages.NewLogSink(logger)
	if cfg.Bus.DeliveryTopic != "" {
		sink = stages.NewBusSink(a.bus, cfg.Bus.DeliveryTopic)
	}

	procs, err := stages.Build(stages.Deps{
		Generator: gen,
		Tools:     executor,
		Extractor: extract.New(mode),
		Publisher: a.bus,
		Topic:     cfg.Bus.OutputTopic,
		Logger:    logger,
	}, sink, toolGrants(cfg.Pipeline))
	if err != nil {
		return nil, fmt.Errorf("failed to build stages: %w", err)
	}

	a.dispatcher = runtime.NewDispatcher(runtime.NewRouter(procs), runtime.DispatcherConfig{
		Concurrency: cfg.Dispatcher.Concurrency,
		QueueSize:   cfg.Dispatcher.QueueSize,
	}, logger)

	queue := ""
	if cfg.Bus.Kind == "nats" {
		queue = cfg.Bus.QueueGroup
	}
	a.consumer = runtime.NewConsumer(a.bus, a.dispatcher, cfg.Bus.OutputTopic, queue, logger)

	handler := httpapi.NewHandler(a.dispatcher, httpapi.Options{
		Pipeline:     cfg.Pipeline,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Healthy:      a.bus.IsConnected,
	}, logger)
	a.http = httpapi.NewServer(cfg.HTTPAddr(), httpapi.NewRouter(handler), cfg.Server)
	a.grpc = grpcserver.NewServer(cfg.GRPCAddr(), a.bus.IsConnected, logger)

	return a, nil
}

func newBus(cfg config.BusConfig, logger logging.Logger) (commbus.Bus, error) {
	var bus commbus.Bus
	switch cfg.Kind {
	case "nats":
		natsCfg := commbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = cfg.NATSName
		natsCfg.Token = cfg.NATSToken
		nb, err := commbus.NewNATSBus(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		bus = nb
	default:
		bus = commbus.NewInMemoryBus(logger, cfg.PendingLimit)
	}

	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))
	bus.AddMiddleware(commbus.NewMetricsMiddleware())
	if cfg.Breaker.Enabled {
		bus.AddMiddleware(commbus.NewCircuitBreakerMiddleware(
			cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout, nil, logger))
	}
	return bus, nil
}

func toolOptions(cfg config.ToolsConfig) (tools.Options, error) {
	opts := tools.Options{
		WebsiteTimeout: cfg.WebsiteTimeout,
		HTTPTimeout:    cfg.HTTPTimeout,
		Tools:          make(map[tools.Name]tools.ToolOptions, len(cfg.Lookups)),
	}
	for name, l := range cfg.Lookups {
		mode, err := tools.ParseMode(l.Mode)
		if err != nil {
			return opts, fmt.Errorf("tools.lookups.%s: %w", name, err)
		}
		opts.Tools[tools.Name(name)] = tools.ToolOptions{Mode: mode, BaseURL: l.BaseURL, Token: l.Token}
	}
	return opts, nil
}

func toolGrants(p config.PipelineConfig) map[envelope.Stage][]tools.Name {
	out := make(map[envelope.Stage][]tools.Name)
	for stage, names := range p.ToolGrants() {
		granted := make([]tools.Name, 0, len(names))
		for _, n := range names {
			granted = append(granted, tools.Name(n))
		}
		out[stage] = granted
	}
	return out
}

// run serves until ctx ends or a listener fails, then shuts down within
// the configured timeout.
func (a *app) run(ctx context.Context) error {
	if err := a.consumer.Start(); err != nil {
		return err
	}
	grpcErr, err := a.grpc.StartBackground()
	if err != nil {
		a.consumer.Stop()
		a.dispatcher.Close()
		a.release(context.Background())
		return err
	}

	httpErr := make(chan error, 1)
	go func() {
		a.logger.Info("http_server_started", "address", a.http.Addr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
		close(httpErr)
	}()

	go a.sweepLimiter(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown_requested")
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-grpcErr:
		runErr = fmt.Errorf("grpc server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// shutdown stops intake first, then drains in-flight work, then releases
// connections.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.stopIntake(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.dispatcher.Shutdown(ctx); err != nil {
		a.logger.Warn("dispatcher_shutdown_timeout", "error", err)
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}

	deadline, ok := ctx.Deadline()
	remaining := time.Second
	if ok {
		remaining = max(time.Until(deadline), 0)
	}
	a.grpc.ShutdownWithTimeout(remaining)

	a.release(ctx)
	a.logger.Info("shutdown_complete")
	return errors.Join(errs...)
}

// stopIntake closes the HTTP listener and unsubscribes the consumer so the
// dispatcher can drain without new work arriving. With NATS, envelopes that
// draining stages emit go to the other members of the queue group.
func (a *app) stopIntake(ctx context.Context) error {
	var err error
	if httpErr := a.http.Shutdown(ctx); httpErr != nil {
		err = fmt.Errorf("http shutdown: %w", httpErr)
	}
	a.consumer.Stop()
	a.logger.Info("intake_stopped", "inflight", a.dispatcher.Inflight(), "queued", a.dispatcher.QueueDepth())
	return err
}

// release closes connections opened by newApp.
func (a *app) release(ctx context.Context) {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("bus_close_failed", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache_close_failed", "error", err)
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn("tracer_shutdown_failed", "error", err)
		}
	}
}

func (a *app) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.CleanupExpired(); n > 0 {
				a.logger.Debug("rate_limiter_swept", "windows", n)
			}
		}
	}
}
