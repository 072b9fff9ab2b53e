// Package runstate folds a run's event log into its current state. The same
// Apply path serves replay after a crash and live operation.
package runstate

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/aide/pkg/events"
	"github.com/dukex/aide/pkg/models"
)

var (
	ErrNoEvents           = errors.New("run has no events")
	ErrMissingRunQueued   = errors.New("first event of a run must be run_queued")
	ErrDuplicateRunQueued = errors.New("run_queued appears more than once")
	ErrOutOfOrder         = errors.New("event sequence is not contiguous")
)

// State is the in-memory view of one run.
type State struct {
	RunID             string
	DefinitionID      string
	DefinitionVersion int
	TriggerID         string
	StartNodeID       string
	InputKey          string

	Started         bool
	CancelRequested bool
	CancelReason    string
	Error           string
	Outputs         map[models.ExecKey]string

	LastSequence int64
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time

	final      models.RunStatus
	executions map[models.ExecKey]*models.NodeExecution
}

func newState() *State {
	return &State{executions: make(map[models.ExecKey]*models.NodeExecution)}
}

// Fold replays envelopes, which must start at sequence 1.
func Fold(envs []events.Envelope) (*State, error) {
	if len(envs) == 0 {
		return nil, ErrNoEvents
	}

	st := newState()
	for _, env := range envs {
		if err := st.Apply(env); err != nil {
			return nil, err
		}
	}

	return st, nil
}

// Apply advances the state by one event.
func (s *State) Apply(env events.Envelope) error {
	if env.Sequence != s.LastSequence+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrOutOfOrder, s.LastSequence+1, env.Sequence)
	}

	payload, err := env.Decode()
	if err != nil {
		return err
	}

	_, queued := payload.(*events.RunQueued)

	switch {
	case s.LastSequence == 0 && !queued:
		return ErrMissingRunQueued
	case s.LastSequence > 0 && queued:
		return ErrDuplicateRunQueued
	}

	at := env.Timestamp

	switch p := payload.(type) {
	case *events.RunQueued:
		s.RunID = env.RunID
		s.DefinitionID = p.DefinitionID
		s.DefinitionVersion = p.DefinitionVersion
		s.TriggerID = p.TriggerID
		s.StartNodeID = p.StartNodeID
		s.InputKey = p.InputKey
		s.CreatedAt = at

		if p.StartNodeID != "" {
			exec := s.exec(p.StartNodeID, nil)
			exec.Status = models.ExecutionCompleted
			exec.OutputKey = p.InputKey
			exec.FinishedAt = &at
		}
	case *events.RunStarted:
		s.Started = true
		if s.StartedAt == nil {
			s.StartedAt = &at
		}
	case *events.NodeReady:
		exec := s.exec(p.NodeID, p.Instance)
		if exec.Status == models.ExecutionPending {
			exec.Status = models.ExecutionReady
			exec.ReadyAt = &at
		}
	case *events.NodeStarted:
		exec := s.exec(p.NodeID, p.Instance)
		if !exec.Status.Terminal() {
			exec.Status = models.ExecutionRunning
			exec.WorkerID = p.WorkerID
			exec.StartedAt = &at
		}
	case *events.NodeCompleted:
		exec := s.exec(p.NodeID, p.Instance)
		if !exec.Status.Terminal() {
			exec.Status = models.ExecutionCompleted
			exec.OutputKey = p.OutputKey
			exec.ItemCount = p.ItemCount
			exec.FinishedAt = &at
		}
	case *events.NodeFailed:
		exec := s.exec(p.NodeID, p.Instance)
		if !exec.Status.Terminal() {
			exec.Status = models.ExecutionFailed
			exec.FailureKind = p.FailureKind
			exec.FailureMessage = p.Message
			exec.FinishedAt = &at
		}
	case *events.NodeSkipped:
		exec := s.exec(p.NodeID, p.Instance)
		if !exec.Status.Terminal() {
			exec.Status = models.ExecutionSkipped
			exec.FailureMessage = p.Reason
			exec.FinishedAt = &at
		}
	case *events.RunCompleted:
		s.finish(models.RunStatusCompleted, at)
		s.Outputs = p.Outputs
	case *events.RunFailed:
		s.finish(models.RunStatusFailed, at)
		s.Error = p.Error
	case *events.RunCancelled:
		s.CancelRequested = true
		if s.CancelReason == "" {
			s.CancelReason = p.Reason
		}
	}

	s.LastSequence = env.Sequence

	return nil
}

func (s *State) finish(status models.RunStatus, at time.Time) {
	if s.final != "" {
		return
	}

	s.final = status
	s.FinishedAt = &at
}

func (s *State) exec(nodeID string, instance models.Instance) *models.NodeExecution {
	key := models.MakeExecKey(nodeID, instance)

	exec, ok := s.executions[key]
	if !ok {
		if instance == nil {
			instance = models.Instance{}
		}

		exec = &models.NodeExecution{RunID: s.RunID, NodeID: nodeID, Instance: instance, Status: models.ExecutionPending}
		s.executions[key] = exec
	}

	return exec
}

// Status derives the run status. A cancellation request becomes cancelled
// once no execution is running.
func (s *State) Status() models.RunStatus {
	switch {
	case s.final != "":
		return s.final
	case s.CancelRequested && !s.AnyRunning():
		return models.RunStatusCancelled
	case s.Started:
		return models.RunStatusRunning
	default:
		return models.RunStatusQueued
	}
}

// Finalized reports whether a run_completed or run_failed event was applied.
func (s *State) Finalized() bool { return s.final != "" }

// Execution returns the recorded execution or a pending placeholder.
func (s *State) Execution(nodeID string, instance models.Instance) models.NodeExecution {
	if exec, ok := s.executions[models.MakeExecKey(nodeID, instance)]; ok {
		return *exec
	}

	if instance == nil {
		instance = models.Instance{}
	}

	return models.NodeExecution{RunID: s.RunID, NodeID: nodeID, Instance: instance, Status: models.ExecutionPending}
}

// ExecutionStatus is Execution(key).Status.
func (s *State) ExecutionStatus(key models.ExecKey) models.ExecutionStatus {
	if exec, ok := s.executions[key]; ok {
		return exec.Status
	}

	return models.ExecutionPending
}

func (s *State) AnyRunning() bool {
	for _, exec := range s.executions {
		if exec.Status == models.ExecutionRunning {
			return true
		}
	}

	return false
}

// WithStatus lists executions in the given status ordered by key.
func (s *State) WithStatus(status models.ExecutionStatus) []models.NodeExecution {
	var out []models.NodeExecution

	for _, exec := range s.executions {
		if exec.Status == status {
			out = append(out, *exec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}

// Executions lists every recorded execution ordered by key.
func (s *State) Executions() []models.NodeExecution {
	out := make([]models.NodeExecution, 0, len(s.executions))
	for _, exec := range s.executions {
		out = append(out, *exec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })

	return out
}

// Run projects the state into the cached run row.
func (s *State) Run() *models.Run {
	run := &models.Run{
		ID:                s.RunID,
		DefinitionID:      s.DefinitionID,
		DefinitionVersion: s.DefinitionVersion,
		StartNodeID:       s.StartNodeID,
		Status:            s.Status(),
		Error:             s.Error,
		CancelRequested:   s.CancelRequested,
		LastSequence:      s.LastSequence,
		CreatedAt:         s.CreatedAt,
		StartedAt:         s.StartedAt,
		FinishedAt:        s.FinishedAt,
	}

	if s.TriggerID != "" {
		id := s.TriggerID
		run.TriggerID = &id
	}

	return run
}
