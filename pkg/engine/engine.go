// Package engine is the entry point for definitions and runs: it saves and
// validates definitions, fires triggers and answers run status queries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukex/aide/pkg/blobs"
	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/graph"
	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/queue"
	"github.com/dukex/aide/pkg/runstate"
	"github.com/dukex/aide/pkg/schema"
	"github.com/dukex/aide/pkg/triggers"
)

type Config struct {
	Store persistence.Persistence
	// Definitions overrides Store.Definitions(), typically with a cache.
	Definitions persistence.DefinitionRepository
	Queue       queue.Publisher
	Validator   *graph.Validator
	Logger      *slog.Logger
}

type Engine struct {
	store       persistence.Persistence
	definitions persistence.DefinitionRepository
	triggers    persistence.TriggerRepository
	log         persistence.EventLog
	blobs       persistence.BlobStore
	runs        persistence.RunRepository
	queue       queue.Publisher
	reconciler  *triggers.Reconciler
	validator   *graph.Validator
	logger      *slog.Logger
}

func New(cfg Config) *Engine {
	if cfg.Definitions == nil {
		cfg.Definitions = cfg.Store.Definitions()
	}

	if cfg.Validator == nil {
		cfg.Validator = graph.NewValidator(schema.TypeCompatibility{})
	}

	logger := cfg.Logger.With("module", "engine")

	return &Engine{
		store:       cfg.Store,
		definitions: cfg.Definitions,
		triggers:    cfg.Store.Triggers(),
		log:         cfg.Store.Events(),
		blobs:       cfg.Store.Blobs(),
		runs:        cfg.Store.Runs(),
		queue:       cfg.Queue,
		reconciler:  triggers.NewReconciler(cfg.Store.Triggers(), cfg.Logger),
		validator:   cfg.Validator,
		logger:      logger,
	}
}

func (e *Engine) HealthCheck(ctx context.Context) error {
	return e.store.HealthCheck(ctx)
}

// SaveDefinition validates def, stores it as the next version of its id and
// brings the trigger index in line with it.
func (e *Engine) SaveDefinition(ctx context.Context, def *models.Definition) (*models.Definition, triggers.Changes, error) {
	if def == nil {
		return nil, triggers.Changes{}, newError("SaveDefinition", CodeInvalidRequest, ErrInvalidDefinition)
	}

	if err := e.validator.Validate(def); err != nil {
		return nil, triggers.Changes{}, &Error{Op: "SaveDefinition", Code: CodeInvalidDefinition, Err: err}
	}

	saved, err := e.definitions.Save(ctx, def)
	if err != nil {
		return nil, triggers.Changes{}, fmt.Errorf("failed to save definition %s: %w", def.ID, err)
	}

	changes, err := e.reconciler.Reconcile(ctx, saved)
	if err != nil {
		return saved, triggers.Changes{}, err
	}

	e.logger.InfoContext(ctx, "definition saved", "workflow_id", saved.ID, "version", saved.Version, "trigger_changes", changes.HasChanges())

	return saved, changes, nil
}

func (e *Engine) Definition(ctx context.Context, id string) (*models.Definition, error) {
	def, err := e.definitions.Latest(ctx, id)
	if err != nil {
		return nil, notFound("Definition", err)
	}

	return def, nil
}

func (e *Engine) Triggers(ctx context.Context, definitionID string) ([]*models.TriggerEntry, error) {
	if _, err := e.Definition(ctx, definitionID); err != nil {
		return nil, err
	}

	return e.triggers.ByDefinition(ctx, definitionID)
}

func (e *Engine) SetTriggerEnabled(ctx context.Context, triggerID string, enabled bool) (*models.TriggerEntry, error) {
	entry, err := e.reconciler.SetEnabled(ctx, triggerID, enabled)
	if err != nil {
		return nil, notFound("SetTriggerEnabled", err)
	}

	return entry, nil
}

// Fire starts a run of the latest version of the trigger's workflow with
// payload as the trigger's output.
func (e *Engine) Fire(ctx context.Context, triggerID string, payload any) (string, error) {
	entry, err := e.triggers.ByID(ctx, triggerID)
	if err != nil {
		return "", notFound("Fire", err)
	}

	return e.fire(ctx, entry, payload)
}

func (e *Engine) fire(ctx context.Context, entry *models.TriggerEntry, payload any) (string, error) {
	if !entry.Enabled {
		return "", &Error{Op: "Fire", Code: CodeTriggerDisabled, Message: "trigger " + entry.ID + " is disabled", Err: ErrTriggerDisabled}
	}

	def, err := e.definitions.Latest(ctx, entry.DefinitionID)
	if err != nil {
		return "", notFound("Fire", err)
	}

	if node, ok := def.Node(entry.NodeID); !ok || !node.IsTrigger() {
		return "", newError("Fire", CodeNotFound, fmt.Errorf("%w: node %s is gone from %s", ErrTriggerNotFound, entry.NodeID, def.ID))
	}

	return e.start(ctx, def, entry.NodeID, entry.ID, payload)
}

// StartManual starts a run without a trigger index entry. An empty nodeID
// selects the workflow's only manual trigger.
func (e *Engine) StartManual(ctx context.Context, definitionID, nodeID string, payload any) (string, error) {
	def, err := e.Definition(ctx, definitionID)
	if err != nil {
		return "", err
	}

	if nodeID == "" {
		nodeID, err = manualTrigger(def)
		if err != nil {
			return "", newError("StartManual", CodeInvalidRequest, err)
		}
	}

	node, ok := def.Node(nodeID)
	if !ok || !node.IsTrigger() {
		return "", newError("StartManual", CodeInvalidRequest, fmt.Errorf("%w: %s", ErrNotATrigger, nodeID))
	}

	return e.start(ctx, def, nodeID, "", payload)
}

func manualTrigger(def *models.Definition) (string, error) {
	var found []string

	for _, node := range def.TriggerNodes() {
		if models.TriggerKind(node.Kind()) == models.TriggerManual {
			found = append(found, node.ID)
		}
	}

	switch len(found) {
	case 0:
		return "", ErrNoManualTrigger
	case 1:
		return found[0], nil
	default:
		return "", ErrAmbiguousTrigger
	}
}

// FireWebhook fires every enabled webhook trigger registered on path.
func (e *Engine) FireWebhook(ctx context.Context, path string, payload any) ([]string, error) {
	return e.fireMatches(ctx, "FireWebhook", models.TriggerWebhook, models.NormalizeWebhookPath(path), payload)
}

// FireEvent fires every enabled integration-event trigger for source and
// eventType.
func (e *Engine) FireEvent(ctx context.Context, source, eventType string, payload any) ([]string, error) {
	return e.fireMatches(ctx, "FireEvent", models.TriggerIntegrationEvent, models.EventMatchKey(source, eventType), payload)
}

func (e *Engine) fireMatches(ctx context.Context, op string, kind models.TriggerKind, key string, payload any) ([]string, error) {
	entries, err := e.triggers.ByMatchKey(ctx, kind, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s triggers: %w", kind, err)
	}

	if len(entries) == 0 {
		return nil, &Error{Op: op, Code: CodeNotFound, Message: fmt.Sprintf("no %s trigger matches %q", kind, key), Err: ErrTriggerNotFound}
	}

	var runIDs []string

	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}

		runID, err := e.fire(ctx, entry, payload)
		if err != nil {
			return runIDs, err
		}

		runIDs = append(runIDs, runID)
	}

	if len(runIDs) == 0 {
		return nil, &Error{Op: op, Code: CodeTriggerDisabled, Message: fmt.Sprintf("every %s trigger matching %q is disabled", kind, key), Err: ErrTriggerDisabled}
	}

	return runIDs, nil
}

// start records a queued run and hands it to the orchestrators. The input
// blob is written before RunQueued so the event never points at a missing
// blob.
func (e *Engine) start(ctx context.Context, def *models.Definition, nodeID, triggerID string, payload any) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate run id: %w", err)
	}

	runID := id.String()

	key, err := blobs.WriteInput(ctx, e.blobs, runID, payload)
	if err != nil {
		return "", err
	}

	env, err := events.New(runID, events.RunQueued{
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		TriggerID:         triggerID,
		StartNodeID:       nodeID,
		InputKey:          key,
	})
	if err != nil {
		return "", err
	}

	appended, err := e.log.Append(ctx, runID, 0, env)
	if err != nil {
		return "", fmt.Errorf("failed to queue run: %w", err)
	}

	if st, err := runstate.Fold(appended); err == nil {
		e.project(ctx, st)
	}

	if err := e.queue.PublishRunJob(ctx, models.RunJob{RunID: runID, Reason: "fired"}); err != nil {
		return runID, err
	}

	e.logger.InfoContext(ctx, "run queued", "run_id", runID, "workflow_id", def.ID, "version", def.Version, "start_node", nodeID, "trigger_id", triggerID)

	return runID, nil
}

// Cancel requests cancellation of a run. It is a no-op when cancellation was
// already requested.
func (e *Engine) Cancel(ctx context.Context, runID, reason string) error {
	st, err := e.replay(ctx, "Cancel", runID)
	if err != nil {
		return err
	}

	switch {
	case st.Finalized():
		return &Error{Op: "Cancel", Code: CodeConflict, Message: fmt.Sprintf("run %s already %s", runID, st.Status()), Err: ErrRunFinished}
	case st.CancelRequested:
		return nil
	}

	appended, err := e.log.Append(ctx, runID, persistence.AnySequence, events.MustNew(runID, events.RunCancelled{Reason: reason}))
	if err != nil {
		return fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}

	for _, env := range appended {
		if err := st.Apply(env); err != nil {
			return err
		}
	}

	e.project(ctx, st)

	if err := e.queue.PublishRunNotice(ctx, models.RunNotice{RunID: runID, Sequence: st.LastSequence}); err != nil {
		e.logger.WarnContext(ctx, "failed to notify orchestrator of cancellation", "run_id", runID, "error", err)
	}

	e.logger.InfoContext(ctx, "run cancellation requested", "run_id", runID, "reason", reason)

	return nil
}

// Status replays the run's log and returns its per-node breakdown.
func (e *Engine) Status(ctx context.Context, runID string) (*runstate.Report, error) {
	st, err := e.replay(ctx, "Status", runID)
	if err != nil {
		return nil, err
	}

	return st.Report(), nil
}

func (e *Engine) replay(ctx context.Context, op, runID string) (*runstate.State, error) {
	envs, err := e.log.Load(ctx, runID, 0)
	if err != nil {
		return nil, notFound(op, err)
	}

	st, err := runstate.Fold(envs)
	if err != nil {
		return nil, fmt.Errorf("failed to replay run %s: %w", runID, err)
	}

	return st, nil
}

func (e *Engine) project(ctx context.Context, st *runstate.State) {
	if err := e.runs.Save(ctx, st.Run(), st.Executions()); err != nil {
		e.logger.WarnContext(ctx, "failed to save run projection", "run_id", st.RunID, "error", err)
	}
}

func notFound(op string, err error) error {
	if persistence.IsNotFound(err) {
		return newError(op, CodeNotFound, err)
	}

	var engineErr *Error
	if errors.As(err, &engineErr) {
		return err
	}

	return fmt.Errorf("%s: %w", op, err)
}
