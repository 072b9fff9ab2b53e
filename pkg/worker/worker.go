// Package worker executes individual node executions delivered as work
// items and records their outcome in the run's event log.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukex/aide/pkg/blobs"
	"github.com/dukex/aide/pkg/capability"
	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/otelhelper"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/cached"
	"github.com/dukex/aide/pkg/queue"
	"github.com/dukex/aide/pkg/runstate"
	"github.com/dukex/aide/pkg/schema"
)

const (
	maxStartAttempts = 10

	DefaultOwnerPoll  = time.Second
	DefaultStaleGrace = 30 * time.Second
)

// Definitions resolves a definition version together with its analysis.
type Definitions interface {
	Analyzed(ctx context.Context, id string, version int) (*cached.Analyzed, error)
}

type Config struct {
	ID             string
	Log            persistence.EventLog
	Definitions    Definitions
	Blobs          persistence.BlobStore
	Queue          queue.Queue
	Executor       capability.Executor
	Validator      schema.Validator
	Logger         *slog.Logger
	Tracer         trace.Tracer
	DefaultTimeout time.Duration
	// Concurrency is the number of items handled at once from the single
	// work item subscription. Defaults to 1.
	Concurrency int
	// OwnerPoll is how often an item whose execution is running on another
	// worker re-reads the log while it waits for that worker.
	OwnerPoll time.Duration
	// StaleGrace is added to the node timeout before a running execution of
	// another worker is considered abandoned and taken over.
	StaleGrace time.Duration
	Now        func() time.Time
}

type Worker struct {
	id             string
	log            persistence.EventLog
	definitions    Definitions
	blobs          persistence.BlobStore
	queue          queue.Queue
	executor       capability.Executor
	validator      schema.Validator
	logger         *slog.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration
	concurrency    int
	ownerPoll      time.Duration
	staleGrace     time.Duration
	now            func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

func New(cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = "worker-" + xid.New().String()
	}

	if cfg.Validator == nil {
		cfg.Validator = schema.NewValidator()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	if cfg.OwnerPoll <= 0 {
		cfg.OwnerPoll = DefaultOwnerPoll
	}

	if cfg.StaleGrace <= 0 {
		cfg.StaleGrace = DefaultStaleGrace
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Worker{
		id:             cfg.ID,
		log:            cfg.Log,
		definitions:    cfg.Definitions,
		blobs:          cfg.Blobs,
		queue:          cfg.Queue,
		executor:       cfg.Executor,
		validator:      cfg.Validator,
		logger:         cfg.Logger.With("module", "worker", "worker_id", cfg.ID),
		tracer:         cfg.Tracer,
		defaultTimeout: cfg.DefaultTimeout,
		concurrency:    cfg.Concurrency,
		ownerPoll:      cfg.OwnerPoll,
		staleGrace:     cfg.StaleGrace,
		now:            cfg.Now,
		inFlight:       make(map[string]bool),
	}
}

func (w *Worker) ID() string { return w.id }

// Start consumes work items until ctx is done. One subscription is shared by
// Concurrency handler goroutines.
func (w *Worker) Start(ctx context.Context) error {
	items, err := w.queue.WorkItems(ctx)
	if err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "worker started", "concurrency", w.concurrency)

	var wg sync.WaitGroup

	for range w.concurrency {
		wg.Add(1)

		go func() {
			defer wg.Done()
			w.consume(ctx, items)
		}()
	}

	wg.Wait()
	w.logger.InfoContext(ctx, "worker stopped")

	return nil
}

func (w *Worker) consume(ctx context.Context, items <-chan queue.Delivery[models.WorkItem]) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-items:
			if !ok {
				return
			}

			if err := w.Handle(ctx, d.Value); err != nil {
				w.logger.ErrorContext(ctx, "work item will be redelivered", "run_id", d.Value.RunID, "execution", d.Value.Key(), "error", err)
				d.Nack()

				continue
			}

			d.Ack()
		}
	}
}

// Handle processes one work item. A nil error means the item is done,
// whether it produced an output, a recorded failure, or was obsolete. A
// non-nil error means nothing final was recorded and the item must be
// redelivered.
func (w *Worker) Handle(ctx context.Context, item models.WorkItem) error {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.execute",
		attribute.String(otelhelper.RunIDKey, item.RunID),
		attribute.String(otelhelper.WorkflowIDKey, item.DefinitionID),
		attribute.Int(otelhelper.WorkflowVersionKey, item.DefinitionVersion),
		attribute.String(otelhelper.NodeIDKey, item.NodeID),
		attribute.String(otelhelper.InstanceKey, item.Instance.String()),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With("run_id", item.RunID, "node_id", item.NodeID, "instance", item.Instance.String())

	err := w.handle(ctx, logger, item)
	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (w *Worker) handle(ctx context.Context, logger *slog.Logger, item models.WorkItem) error {
	def, err := w.definitions.Analyzed(ctx, item.DefinitionID, item.DefinitionVersion)
	if err != nil {
		if persistence.IsNotFound(err) {
			logger.ErrorContext(ctx, "dropping work item for unknown definition", "error", err)

			return nil
		}

		return fmt.Errorf("failed to load definition: %w", err)
	}

	node, ok := def.Analysis.Graph.Node(item.NodeID)
	if !ok {
		logger.ErrorContext(ctx, "dropping work item for unknown node")

		return nil
	}

	release, ok := w.track(item)
	if !ok {
		logger.DebugContext(ctx, "skipping duplicate of an item already being handled")

		return nil
	}
	defer release()

	proceed, err := w.start(ctx, logger, node, item)
	if err != nil || !proceed {
		return err
	}

	var (
		out       any
		itemCount int
		failure   *capability.Failure
	)

	inputs, err := w.resolveInputs(ctx, node, item.Inputs)
	if err != nil && !errors.As(err, &failure) {
		return err
	}

	if failure == nil {
		out, failure = w.execute(ctx, node, &capability.Request{
			RunID:             item.RunID,
			DefinitionID:      item.DefinitionID,
			DefinitionVersion: item.DefinitionVersion,
			Node:              node,
			Instance:          item.Instance,
			Inputs:            inputs,
			Logger:            logger,
		})

		if ctx.Err() != nil {
			return fmt.Errorf("worker stopping: %w", ctx.Err())
		}
	}

	if failure == nil {
		out, itemCount, failure = w.checkOutput(def, node, out)
	}

	var payload events.Payload

	if failure != nil {
		logger.WarnContext(ctx, "node execution failed", "kind", failure.Kind, "message", failure.Message)

		payload = events.NodeFailed{NodeID: node.ID, Instance: item.Instance, FailureKind: string(failure.Kind), Message: failure.Message}
	} else {
		key, err := blobs.WriteOutput(ctx, w.blobs, item.RunID, item.Key(), out)
		if err != nil {
			return err
		}

		payload = events.NodeCompleted{NodeID: node.ID, Instance: item.Instance, OutputKey: key, ItemCount: itemCount}
	}

	appended, err := w.log.Append(ctx, item.RunID, persistence.AnySequence, events.MustNew(item.RunID, payload))
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	logger.InfoContext(ctx, "node execution recorded", "kind", payload.Kind(), "sequence", appended[0].Sequence)

	if err := w.queue.PublishRunNotice(ctx, models.RunNotice{RunID: item.RunID, Sequence: appended[0].Sequence}); err != nil {
		logger.WarnContext(ctx, "failed to notify orchestrator", "error", err)
	}

	return nil
}

// track marks item as handled by this process. It reports false when
// another goroutine of this worker already holds it.
func (w *Worker) track(item models.WorkItem) (func(), bool) {
	key := item.RunID + "/" + string(item.Key())

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inFlight[key] {
		return nil, false
	}

	w.inFlight[key] = true

	return func() {
		w.mu.Lock()
		delete(w.inFlight, key)
		w.mu.Unlock()
	}, true
}

// start replays the run and records NodeStarted conditionally on the
// replayed sequence, so a cancellation appended meanwhile is seen before
// any work begins. It reports false when the item is obsolete.
//
// An execution already running under this worker's id is a redelivery and
// is resumed. One running under another worker is left to it: start waits
// until the execution finishes, or takes it over once it has been running
// longer than the node timeout plus the stale grace.
func (w *Worker) start(ctx context.Context, logger *slog.Logger, node *models.Node, item models.WorkItem) (bool, error) {
	attempts := 0

	for {
		envs, err := w.log.Load(ctx, item.RunID, 0)
		if err != nil {
			if errors.Is(err, persistence.ErrRunNotFound) {
				logger.ErrorContext(ctx, "dropping work item for unknown run")

				return false, nil
			}

			return false, fmt.Errorf("failed to load run: %w", err)
		}

		st, err := runstate.Fold(envs)
		if err != nil {
			return false, fmt.Errorf("failed to replay run: %w", err)
		}

		exec := st.Execution(item.NodeID, item.Instance)

		switch {
		case st.Finalized(), exec.Status.Terminal():
			logger.DebugContext(ctx, "skipping obsolete work item", "status", exec.Status)

			return false, nil
		case exec.Status == models.ExecutionRunning && exec.WorkerID == w.id:
			logger.InfoContext(ctx, "resuming execution left running")

			return true, nil
		case exec.Status == models.ExecutionRunning && !w.stale(node, exec):
			logger.DebugContext(ctx, "execution is running on another worker", "owner", exec.WorkerID)

			select {
			case <-ctx.Done():
				return false, fmt.Errorf("worker stopping: %w", ctx.Err())
			case <-time.After(w.ownerPoll):
			}

			continue
		case exec.Status == models.ExecutionRunning:
			logger.WarnContext(ctx, "taking over abandoned execution", "previous_worker", exec.WorkerID, "started_at", exec.StartedAt)
		case st.CancelRequested:
			logger.InfoContext(ctx, "run cancelled before node started")

			return false, nil
		}

		_, err = w.log.Append(ctx, item.RunID, st.LastSequence,
			events.MustNew(item.RunID, events.NodeStarted{NodeID: item.NodeID, Instance: item.Instance, WorkerID: w.id}))
		if errors.Is(err, persistence.ErrSequenceConflict) {
			attempts++
			if attempts >= maxStartAttempts {
				return false, fmt.Errorf("could not record start of %s after %d attempts: %w", item.Key(), maxStartAttempts, persistence.ErrSequenceConflict)
			}

			continue
		}

		if err != nil {
			return false, fmt.Errorf("failed to record start: %w", err)
		}

		return true, nil
	}
}

func (w *Worker) stale(node *models.Node, exec models.NodeExecution) bool {
	if exec.StartedAt == nil {
		return true
	}

	deadline := exec.StartedAt.Add(capability.Timeout(node, w.defaultTimeout) + w.staleGrace)

	return w.now().After(deadline)
}

// execute runs the executor under the node timeout. Panics and deadline
// overruns become failures.
func (w *Worker) execute(ctx context.Context, node *models.Node, req *capability.Request) (any, *capability.Failure) {
	timeout := capability.Timeout(node, w.defaultTimeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out any
		err error
	}

	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: capability.Fail(capability.FailureExecution, "executor panicked: %v", r)}
			}
		}()

		out, err := w.executor.Execute(execCtx, req)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, capability.AsFailure(r.err)
		}

		return r.out, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, capability.AsFailure(ctx.Err())
		}

		return nil, capability.Fail(capability.FailureTimeout, "node %s exceeded its timeout of %s", node.ID, timeout)
	}
}
