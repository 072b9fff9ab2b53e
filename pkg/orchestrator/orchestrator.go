// Package orchestrator drives claimed runs: it replays the event log, marks
// executions ready or skipped, publishes work items and finalises runs.
package orchestrator

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

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/otelhelper"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/persistence/cached"
	"github.com/dukex/aide/pkg/queue"
	"github.com/dukex/aide/pkg/remaining"
	"github.com/dukex/aide/pkg/runstate"
)

const (
	DefaultLeaseTTL     = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

type Definitions interface {
	Analyzed(ctx context.Context, id string, version int) (*cached.Analyzed, error)
}

type Config struct {
	ID           string
	Log          persistence.EventLog
	Definitions  Definitions
	Claims       persistence.ClaimStore
	Queue        queue.Queue
	Runs         persistence.RunRepository
	Logger       *slog.Logger
	Tracer       trace.Tracer
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

type Orchestrator struct {
	id           string
	log          persistence.EventLog
	definitions  Definitions
	claims       persistence.ClaimStore
	queue        queue.Queue
	runs         persistence.RunRepository
	logger       *slog.Logger
	tracer       trace.Tracer
	leaseTTL     time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	active string
	wake   chan struct{}
}

func New(cfg Config) *Orchestrator {
	if cfg.ID == "" {
		cfg.ID = "orchestrator-" + xid.New().String()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = otelhelper.Noop()
	}

	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	return &Orchestrator{
		id:           cfg.ID,
		log:          cfg.Log,
		definitions:  cfg.Definitions,
		claims:       cfg.Claims,
		queue:        cfg.Queue,
		runs:         cfg.Runs,
		logger:       cfg.Logger.With("module", "orchestrator", "orchestrator_id", cfg.ID),
		tracer:       cfg.Tracer,
		leaseTTL:     cfg.LeaseTTL,
		pollInterval: cfg.PollInterval,
		wake:         make(chan struct{}, 1),
	}
}

func (o *Orchestrator) ID() string { return o.id }

// Start consumes run-ready jobs until ctx is done. Jobs are driven one at a
// time, so an instance holds at most one claim.
func (o *Orchestrator) Start(ctx context.Context) error {
	jobs, err := o.queue.RunJobs(ctx)
	if err != nil {
		return err
	}

	notices, err := o.queue.RunNotices(ctx)
	if err != nil {
		return err
	}

	go o.forwardNotices(ctx, notices)

	o.logger.InfoContext(ctx, "orchestrator started")

	for {
		select {
		case <-ctx.Done():
			o.logger.InfoContext(ctx, "orchestrator stopped")

			return nil
		case d, ok := <-jobs:
			if !ok {
				return nil
			}

			if err := o.Handle(ctx, d.Value); err != nil {
				o.logger.ErrorContext(ctx, "run job will be redelivered", "run_id", d.Value.RunID, "error", err)
				d.Nack()

				continue
			}

			d.Ack()
		}
	}
}

func (o *Orchestrator) forwardNotices(ctx context.Context, notices <-chan queue.Delivery[models.RunNotice]) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-notices:
			if !ok {
				return
			}

			d.Ack()
			o.notify(d.Value.RunID)
		}
	}
}

// notify wakes the loop driving runID, if this instance drives it.
func (o *Orchestrator) notify(runID string) {
	o.mu.Lock()
	active := o.active
	o.mu.Unlock()

	if active != runID {
		return
	}

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *Orchestrator) setActive(runID string) {
	o.mu.Lock()
	o.active = runID
	o.mu.Unlock()
}

// Handle claims the job's run and drives it until it is terminal. A nil
// error means the job is done and may be acked; a non-nil error means it
// must be redelivered.
func (o *Orchestrator) Handle(ctx context.Context, job models.RunJob) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.run",
		attribute.String(otelhelper.RunIDKey, job.RunID),
		attribute.String(otelhelper.OrchestratorIDKey, o.id),
	)
	defer span.End()

	logger := o.logger.With("run_id", job.RunID)

	_, err := o.claims.Acquire(ctx, job.RunID, o.id, o.leaseTTL)
	if errors.Is(err, persistence.ErrClaimHeld) {
		logger.DebugContext(ctx, "dropping job for run claimed elsewhere", "reason", job.Reason)

		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to claim run: %w", err)
	}

	o.setActive(job.RunID)
	defer o.setActive("")

	err = o.drive(ctx, logger, job.RunID)

	if !errors.Is(err, persistence.ErrClaimLost) {
		if rerr := o.claims.Release(context.WithoutCancel(ctx), job.RunID, o.id); rerr != nil {
			logger.WarnContext(ctx, "failed to release claim", "error", rerr)
		}
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrClaimLost):
		logger.WarnContext(ctx, "claim lost, leaving run to its new owner")

		return nil
	default:
		otelhelper.SetError(span, err)

		return err
	}
}

// run is the driving state of one claimed run.
type run struct {
	id     string
	def    *cached.Analyzed
	st     *runstate.State
	logger *slog.Logger
}

func (o *Orchestrator) drive(ctx context.Context, logger *slog.Logger, runID string) error {
	r, err := o.replay(ctx, logger, runID)
	if err != nil || r == nil {
		return err
	}

	if r.st.Finalized() {
		o.project(ctx, r)

		return nil
	}

	if r.def == nil {
		return o.failUnknownDefinition(ctx, r)
	}

	if err := o.recover(ctx, r); err != nil {
		return err
	}

	for !r.st.Started {
		err := o.append(ctx, r, events.RunStarted{OrchestratorID: o.id})
		if errors.Is(err, persistence.ErrSequenceConflict) {
			if err := o.catchUp(ctx, r); err != nil {
				return err
			}

			continue
		}

		if err != nil {
			return err
		}

		r.logger.InfoContext(ctx, "run started")
	}

	poll := time.NewTicker(o.pollInterval)
	defer poll.Stop()

	renew := time.NewTicker(o.leaseTTL / 3)
	defer renew.Stop()

	for {
		done, err := o.step(ctx, r)
		if err != nil || done {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.wake:
		case <-poll.C:
		case <-renew.C:
			if _, err := o.claims.Renew(ctx, runID, o.id, o.leaseTTL); err != nil {
				return fmt.Errorf("failed to renew claim: %w", err)
			}
		}
	}
}

// replay folds the whole log. It returns a nil run when the job refers to a
// run that does not exist, and a run without definition when the
// definition version it refers to is gone. A log this build cannot fold is
// an error, so the job is redelivered rather than dropped.
func (o *Orchestrator) replay(ctx context.Context, logger *slog.Logger, runID string) (*run, error) {
	envs, err := o.log.Load(ctx, runID, 0)
	if errors.Is(err, persistence.ErrRunNotFound) {
		logger.ErrorContext(ctx, "dropping job for unknown run")

		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	st, err := runstate.Fold(envs)
	if err != nil {
		return nil, fmt.Errorf("failed to replay run: %w", err)
	}

	r := &run{id: runID, st: st, logger: logger.With("workflow_id", st.DefinitionID, "version", st.DefinitionVersion)}

	def, err := o.definitions.Analyzed(ctx, st.DefinitionID, st.DefinitionVersion)
	if err != nil && !persistence.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	r.def = def

	return r, nil
}

func (o *Orchestrator) failUnknownDefinition(ctx context.Context, r *run) error {
	msg := fmt.Sprintf("definition %s version %d not found", r.st.DefinitionID, r.st.DefinitionVersion)
	r.logger.ErrorContext(ctx, "failing run", "error", msg)

	if err := o.append(ctx, r, events.RunFailed{Error: msg}); err != nil && !errors.Is(err, persistence.ErrSequenceConflict) {
		return err
	}

	o.project(ctx, r)

	return nil
}

// recover republishes the work items of executions already marked ready. A
// previous owner may have crashed between recording NodeReady and
// publishing; workers drop duplicates of items already executed.
func (o *Orchestrator) recover(ctx context.Context, r *run) error {
	if r.st.CancelRequested {
		return nil
	}

	// Running executions are republished too: their worker resumes or
	// waits for them, or takes them over once they are stale.
	pending := append(r.st.WithStatus(models.ExecutionReady), r.st.WithStatus(models.ExecutionRunning)...)

	for _, exec := range pending {
		if err := o.queue.PublishWorkItem(ctx, o.workItem(r, exec.NodeID, exec.Instance)); err != nil {
			return err
		}
	}

	if len(pending) > 0 {
		r.logger.InfoContext(ctx, "republished unfinished executions", "count", len(pending))
	}

	return nil
}

// step advances the run as far as the current log allows and reports
// whether the run is terminal.
func (o *Orchestrator) step(ctx context.Context, r *run) (bool, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.step",
		attribute.String(otelhelper.RunIDKey, r.id),
	)
	defer span.End()

	for {
		if err := o.catchUp(ctx, r); err != nil {
			otelhelper.SetError(span, err)

			return false, err
		}

		if r.st.Finalized() {
			o.project(ctx, r)

			return true, nil
		}

		if r.st.CancelRequested {
			o.project(ctx, r)

			if r.st.AnyRunning() {
				return false, nil
			}

			r.logger.InfoContext(ctx, "run cancelled", "reason", r.st.CancelReason)

			return true, nil
		}

		res := remaining.Compute(r.def.Analysis, r.st)

		payloads, items := o.plan(r, res)

		if len(payloads) == 0 {
			final := o.finish(r, res)
			if final == nil {
				o.project(ctx, r)

				return false, nil
			}

			payloads = []events.Payload{final}
		}

		err := o.append(ctx, r, payloads...)
		if errors.Is(err, persistence.ErrSequenceConflict) {
			continue
		}

		if err != nil {
			otelhelper.SetError(span, err)

			return false, err
		}

		for _, item := range items {
			if err := o.queue.PublishWorkItem(ctx, item); err != nil {
				return false, err
			}
		}

		if len(items) > 0 {
			r.logger.DebugContext(ctx, "published work items", "count", len(items))
		}
	}
}

// plan turns the tracker result into skip and ready events plus the work
// items to publish once they are recorded.
func (o *Orchestrator) plan(r *run, res *remaining.Result) ([]events.Payload, []models.WorkItem) {
	var (
		payloads []events.Payload
		items    []models.WorkItem
	)

	for _, s := range res.Skippable {
		nodeID, inst := s.Key.Parse()
		payloads = append(payloads, events.NodeSkipped{NodeID: nodeID, Instance: inst, Reason: s.Reason})
	}

	for _, key := range res.NewlyReady {
		nodeID, inst := key.Parse()
		payloads = append(payloads, events.NodeReady{NodeID: nodeID, Instance: inst})
		items = append(items, o.workItem(r, nodeID, inst))
	}

	return payloads, items
}

// finish returns the final event when no more work can happen.
func (o *Orchestrator) finish(r *run, res *remaining.Result) events.Payload {
	switch {
	case res.Complete():
		return events.RunCompleted{Outputs: res.Outputs}
	case res.Stuck():
		failed := make([]events.NodeFailure, 0, len(res.Failed))

		for _, key := range res.Failed {
			nodeID, inst := key.Parse()
			exec := r.st.Execution(nodeID, inst)
			failed = append(failed, events.NodeFailure{NodeID: nodeID, Instance: inst, Kind: exec.FailureKind, Message: exec.FailureMessage})
		}

		return events.RunFailed{
			Error:  fmt.Sprintf("%d node execution(s) failed, %d blocked", len(res.Failed), len(res.Blocked)),
			Failed: failed,
		}
	}

	return nil
}

func (o *Orchestrator) workItem(r *run, nodeID string, inst models.Instance) models.WorkItem {
	return models.WorkItem{
		RunID:             r.id,
		DefinitionID:      r.st.DefinitionID,
		DefinitionVersion: r.st.DefinitionVersion,
		NodeID:            nodeID,
		Instance:          inst,
		Inputs:            remaining.Inputs(r.def.Analysis, r.st, nodeID, inst),
		EnqueuedAt:        time.Now().UTC(),
	}
}

// catchUp applies events appended by workers and API calls since the last
// applied sequence.
func (o *Orchestrator) catchUp(ctx context.Context, r *run) error {
	envs, err := o.log.Load(ctx, r.id, r.st.LastSequence)
	if err != nil {
		return fmt.Errorf("failed to load run events: %w", err)
	}

	for _, env := range envs {
		if err := r.st.Apply(env); err != nil {
			return fmt.Errorf("failed to apply event %d: %w", env.Sequence, err)
		}
	}

	return nil
}

// append records payloads conditionally on the last applied sequence and
// applies them to the state.
func (o *Orchestrator) append(ctx context.Context, r *run, payloads ...events.Payload) error {
	envs := make([]events.Envelope, 0, len(payloads))

	for _, p := range payloads {
		env, err := events.New(r.id, p)
		if err != nil {
			return err
		}

		envs = append(envs, env)
	}

	appended, err := o.log.Append(ctx, r.id, r.st.LastSequence, envs...)
	if err != nil {
		return err
	}

	for _, env := range appended {
		if err := r.st.Apply(env); err != nil {
			return err
		}

		if env.Kind == events.KindRunCompleted || env.Kind == events.KindRunFailed {
			r.logger.InfoContext(ctx, "run finished", "kind", env.Kind, "sequence", env.Sequence)
		}
	}

	return nil
}

func (o *Orchestrator) project(ctx context.Context, r *run) {
	if o.runs == nil {
		return
	}

	if err := o.runs.Save(ctx, r.st.Run(), r.st.Executions()); err != nil {
		r.logger.WarnContext(ctx, "failed to save run projection", "error", err)
	}
}
