package cmd

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/engine"
	"github.com/dukex/aide/pkg/log"
	"github.com/dukex/aide/pkg/orchestrator"
	"github.com/dukex/aide/pkg/otelhelper"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/cached"
	"github.com/dukex/aide/pkg/queue"
	"github.com/dukex/aide/pkg/receiver"
	"github.com/dukex/aide/pkg/scheduler"
	"github.com/dukex/aide/pkg/web"
	"github.com/dukex/aide/pkg/worker"
)

// Flags shared by every binary.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Store location: a directory for the file store or a postgres:// URL",
			Value:   "./data",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "Queue provider (gochannel, kafka)",
			Value:   QueueGoChannel,
			Sources: cli.EnvVars("QUEUE_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "claims-url",
			Usage:   "Run claim store: redis:// URL, postgres, or memory",
			Value:   ClaimsMemory,
			Sources: cli.EnvVars("CLAIMS_URL"),
		},
		&cli.StringFlag{
			Name:    "ai-layer-url",
			Usage:   "Base URL of the AI layer service",
			Sources: cli.EnvVars("AI_LAYER_URL"),
		},
		&cli.DurationFlag{
			Name:    "lease-ttl",
			Usage:   "Run claim lease duration",
			Value:   orchestrator.DefaultLeaseTTL,
			Sources: cli.EnvVars("LEASE_TTL"),
		},
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often an orchestrator re-reads the log of its run",
			Value:   orchestrator.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// Runtime holds the connections a binary needs. Queue and Claims are only
// opened on first use.
type Runtime struct {
	Logger      *slog.Logger
	Store       persistence.Persistence
	Definitions *cached.Definitions
	Tracer      trace.Tracer

	command  *cli.Command
	role     string
	queue    *queue.Watermill
	claims   persistence.ClaimStore
	registry *capability.Registry
	shutdown otelhelper.Shutdown
}

// NewRuntime reads the common flags. role names the process in logs, traces
// and the Kafka consumer group.
func NewRuntime(ctx context.Context, command *cli.Command, role string) (*Runtime, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))
	logger := log.WithModule(role)

	tracer, shutdown, err := otelhelper.NewTracer(ctx, role, command.Bool("otel-enabled"))
	if err != nil {
		return nil, err
	}

	store, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		_ = shutdown(ctx)

		return nil, err
	}

	return &Runtime{
		Logger:      logger,
		Store:       store,
		Definitions: cached.NewDefinitions(store.Definitions(), 5*time.Second),
		Tracer:      tracer,
		command:     command,
		role:        role,
		shutdown:    shutdown,
	}, nil
}

func (r *Runtime) Queue() (*queue.Watermill, error) {
	if r.queue != nil {
		return r.queue, nil
	}

	q, err := NewQueue(QueueConfig{
		Provider:      r.command.String("queue"),
		Brokers:       r.command.String("kafka-brokers"),
		ConsumerGroup: "aide-" + r.role,
	}, r.Logger)
	if err != nil {
		return nil, err
	}

	r.queue = q

	return q, nil
}

func (r *Runtime) Claims() (persistence.ClaimStore, error) {
	if r.claims != nil {
		return r.claims, nil
	}

	claims, err := NewClaimStore(r.command.String("claims-url"), r.Store, r.Logger)
	if err != nil {
		return nil, err
	}

	r.claims = claims

	return claims, nil
}

func (r *Runtime) Registry() *capability.Registry {
	if r.registry == nil {
		r.registry = NewRegistry(r.Logger, r.Store.Memory(), r.command.String("ai-layer-url"))
	}

	return r.registry
}

func (r *Runtime) Engine() (*engine.Engine, error) {
	q, err := r.Queue()
	if err != nil {
		return nil, err
	}

	return engine.New(engine.Config{
		Store:       r.Store,
		Definitions: r.Definitions,
		Queue:       q,
		Logger:      r.Logger,
	}), nil
}

func (r *Runtime) Orchestrator(id string) (*orchestrator.Orchestrator, error) {
	q, err := r.Queue()
	if err != nil {
		return nil, err
	}

	claims, err := r.Claims()
	if err != nil {
		return nil, err
	}

	return orchestrator.New(orchestrator.Config{
		ID:           id,
		Log:          r.Store.Events(),
		Definitions:  r.Definitions,
		Claims:       claims,
		Queue:        q,
		Runs:         r.Store.Runs(),
		Logger:       r.Logger,
		Tracer:       r.Tracer,
		LeaseTTL:     r.command.Duration("lease-ttl"),
		PollInterval: r.command.Duration("poll-interval"),
	}), nil
}

// Worker runs concurrency handlers on one work item subscription.
func (r *Runtime) Worker(id string, concurrency int) (*worker.Worker, error) {
	q, err := r.Queue()
	if err != nil {
		return nil, err
	}

	return worker.New(worker.Config{
		ID:          id,
		Log:         r.Store.Events(),
		Definitions: r.Definitions,
		Blobs:       r.Store.Blobs(),
		Queue:       q,
		Executor:    r.Registry(),
		Logger:      r.Logger,
		Tracer:      r.Tracer,
		Concurrency: concurrency,
	}), nil
}

// Scheduler fires schedule triggers through eng and sweeps expired claims.
func (r *Runtime) Scheduler(eng *engine.Engine, tick time.Duration) (*scheduler.Scheduler, error) {
	claims, err := r.Claims()
	if err != nil {
		return nil, err
	}

	q, err := r.Queue()
	if err != nil {
		return nil, err
	}

	return scheduler.New(scheduler.Config{
		Triggers: r.Store.Triggers(),
		Firer:    eng,
		Reaper:   orchestrator.NewReaper(claims, q, r.Logger),
		Logger:   r.Logger,
		Tick:     tick,
	}), nil
}

func (r *Runtime) Close(ctx context.Context) error {
	var errs []error

	if r.queue != nil {
		errs = append(errs, r.queue.Close())
	}

	errs = append(errs, r.Store.Close(ctx), r.shutdown(ctx))

	if err := errors.Join(errs...); err != nil {
		r.Logger.ErrorContext(ctx, "failed to close runtime", "error", err)

		return err
	}

	return nil
}

// Receiver consumes integration events from topic and fires them through
// eng.
func (r *Runtime) Receiver(eng *engine.Engine, topic string) (*receiver.Receiver, error) {
	sub, err := NewEventSubscriber(QueueConfig{
		Provider:      r.command.String("queue"),
		Brokers:       r.command.String("kafka-brokers"),
		ConsumerGroup: "aide-receiver",
	}, r.Logger)
	if err != nil {
		return nil, err
	}

	return receiver.New(sub, topic, eng, r.Logger), nil
}

// API builds the HTTP application over the engine.
func (r *Runtime) API() (*fiber.App, error) {
	eng, err := r.Engine()
	if err != nil {
		return nil, err
	}

	handlers := web.NewAPIHandlers(eng, validator.New(validator.WithRequiredStructEnabled()), r.Logger)

	return web.App(handlers), nil
}
