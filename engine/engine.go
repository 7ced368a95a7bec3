// Package engine assembles the whole system: store, flow registry,
// middleware chain, worker pool, and dead letter queue behind one
// handle.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stride"
	"github.com/xraph/stride/backoff"
	"github.com/xraph/stride/dlq"
	"github.com/xraph/stride/flow"
	"github.com/xraph/stride/id"
	"github.com/xraph/stride/job"
	"github.com/xraph/stride/middleware"
	"github.com/xraph/stride/queue"
	"github.com/xraph/stride/state"
	"github.com/xraph/stride/store"
	"github.com/xraph/stride/worker"
)

// Engine owns the full execution stack for one process.
type Engine struct {
	store    store.Store
	registry *flow.Registry
	flows    *flow.Executor
	executor *worker.Executor
	pool     *worker.Pool
	dlq      *dlq.Service
	queues   *queue.Manager
	config   stride.Config
	logger   *slog.Logger
}

type builder struct {
	config         stride.Config
	logger         *slog.Logger
	codec          state.Codec
	bo             backoff.Strategy
	mws            []middleware.Middleware
	queueConfigs   []queue.Config
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine at build time.
type Option func(*builder)

// WithConfig replaces the worker configuration.
func WithConfig(cfg stride.Config) Option {
	return func(b *builder) { b.config = cfg }
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *builder) { b.logger = l }
}

// WithCodec sets the payload codec. Defaults to JSON.
func WithCodec(c state.Codec) Option {
	return func(b *builder) { b.codec = c }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(b *builder) { b.bo = s }
}

// WithMiddleware appends middlewares inside the built-in stack.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(b *builder) { b.mws = append(b.mws, mws...) }
}

// WithQueueConfig installs per-queue concurrency and rate limits.
func WithQueueConfig(cfgs ...queue.Config) Option {
	return func(b *builder) { b.queueConfigs = append(b.queueConfigs, cfgs...) }
}

// WithTracerProvider sets an explicit tracer provider for the tracing
// middleware. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *builder) { b.tracerProvider = tp }
}

// WithMeterProvider sets an explicit meter provider for the metrics
// middleware. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(b *builder) { b.meterProvider = mp }
}

const instrumentationName = "github.com/xraph/stride"

// Build assembles an engine over s.
func Build(s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, stride.ErrNoStore
	}

	b := &builder{
		config: stride.DefaultConfig(),
		logger: slog.Default(),
		codec:  state.JSON{},
		bo:     backoff.DefaultStrategy(),
	}

	for _, opt := range opts {
		opt(b)
	}

	registry := flow.NewRegistry()
	flows := flow.NewExecutor(registry, s,
		flow.WithCodec(b.codec),
		flow.WithLogger(b.logger))

	dlqService := dlq.NewService(s, s)

	tracing := middleware.Tracing()
	if b.tracerProvider != nil {
		tracing = middleware.TracingWithTracer(b.tracerProvider.Tracer(instrumentationName))
	}

	var metrics middleware.Middleware

	var err error
	if b.meterProvider != nil {
		metrics, err = middleware.MetricsWithMeter(b.meterProvider.Meter(instrumentationName))
	} else {
		metrics, err = middleware.Metrics()
	}
	if err != nil {
		return nil, fmt.Errorf("engine: build metrics middleware: %w", err)
	}

	mws := []middleware.Middleware{
		middleware.Recover(b.logger),
		tracing,
		metrics,
		middleware.Logging(b.logger),
		middleware.Timeout(),
	}
	mws = append(mws, b.mws...)

	executor := worker.NewExecutor(flows, s,
		worker.WithExecutorLogger(b.logger),
		worker.WithBackoff(b.bo),
		worker.WithDLQ(dlqService),
		worker.WithMiddleware(mws...))

	queues := queue.NewManager(b.queueConfigs...)

	pool := worker.NewPool(s, executor, b.logger,
		worker.WithPoolConcurrency(b.config.Concurrency),
		worker.WithPoolQueues(b.config.Queues...),
		worker.WithPollInterval(b.config.PollInterval),
		worker.WithQueueManager(queues))

	return &Engine{
		store:    s,
		registry: registry,
		flows:    flows,
		executor: executor,
		pool:     pool,
		dlq:      dlqService,
		queues:   queues,
		config:   b.config,
		logger:   b.logger,
	}, nil
}

// Register adds a flow definition to the engine.
func Register[T any](e *Engine, def flow.Definition[T]) error {
	return flow.Register(e.registry, def)
}

// Enqueue validates input against the flow's schema and enqueues a job
// for it. Options given here override the flow's defaults.
func Enqueue[T any](ctx context.Context, e *Engine, flowName string, input T, opts ...job.Option) (*job.Job, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("engine: enqueue %q: encode input: %w", flowName, err)
	}

	return e.EnqueueRaw(ctx, flowName, payload, opts...)
}

// EnqueueRaw enqueues a job with a pre-encoded payload. The payload is
// still validated against the flow's schema when the flow is
// registered on this engine.
func (e *Engine) EnqueueRaw(ctx context.Context, flowName string, payload []byte, opts ...job.Option) (*job.Job, error) {
	if validate := e.registry.Validator(flowName); validate != nil {
		if err := validate(payload); err != nil {
			return nil, fmt.Errorf("engine: enqueue %q: %w", flowName, err)
		}
	}

	merged := e.registry.Options(flowName).Apply(opts...)
	j := job.New(flowName, payload, merged)

	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return nil, fmt.Errorf("engine: enqueue %q: %w", flowName, err)
	}

	e.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("flow", flowName),
		slog.String("queue", j.Queue))

	return j, nil
}

// Migrate prepares the store's schema.
func (e *Engine) Migrate(ctx context.Context) error {
	return e.store.Migrate(ctx)
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("engine: start: %w", err)
	}

	return e.pool.Start(ctx)
}

// Stop drains the worker pool within the configured shutdown timeout
// and closes the store.
func (e *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()

	poolErr := e.pool.Stop(ctx)

	if err := e.store.Close(); err != nil {
		return fmt.Errorf("engine: close store: %w", err)
	}

	return poolErr
}

// Analyze replays the job's flow against its recorded state without
// executing anything, returning the step structure discovered so far.
func (e *Engine) Analyze(ctx context.Context, jobID id.JobID) ([]state.StepState, error) {
	j, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("engine: analyze %s: %w", jobID, err)
	}

	return e.flows.Analyze(ctx, j)
}

// Store exposes the underlying store for operational tooling.
func (e *Engine) Store() store.Store { return e.store }

// DLQ exposes the dead letter service.
func (e *Engine) DLQ() *dlq.Service { return e.dlq }

// Queues exposes the per-queue limit manager.
func (e *Engine) Queues() *queue.Manager { return e.queues }
