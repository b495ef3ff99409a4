// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes workflow DAGs. It never blocks on long tasks:
// StartRun enqueues the entrypoint and returns, workers call ExecuteStep per
// delivered job, and the engine enqueues successors as steps complete. All
// state lives in the relational store; events are persisted before they are
// broadcast.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow"
	"github.com/loomhq/loom/internal/workflow/executor"
)

// Push-bus event types.
const (
	EventRunStarted    = "run.started"
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventRunCancelled  = "run.cancelled"
	EventStepStarted   = "step.started"
	EventStepCompleted = "step.completed"
	EventStepFailed    = "step.failed"
	// EventStepRetrying is recorded in the audit log only; the push bus
	// carries final outcomes.
	EventStepRetrying = "step.retrying"
)

// ErrRunNotCancellable is returned when cancelling a terminal run.
var ErrRunNotCancellable = errors.New("run is already terminal")

// Event is the broadcast form of an audit event.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"runId"`
	StepKey   string    `json:"stepKey,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster pushes events to live subscribers. The engine broadcasts only
// after the corresponding state transition has been persisted.
type Broadcaster interface {
	Publish(event Event)
}

// StepJob is the queue payload for one step delivery.
type StepJob struct {
	RunID    string `json:"runId"`
	TenantID string `json:"tenantId"`
	StepKey  string `json:"stepKey"`
	// Resume marks the redelivery of a DELAY step whose wait has elapsed.
	Resume bool `json:"resume,omitempty"`
}

// Config tunes the engine's retry policy and step execution.
type Config struct {
	MaxRetries  int
	BaseDelay   time.Duration
	StepTimeout time.Duration
	// Env is the non-secret configuration exposed to step contexts.
	Env map[string]string
}

// Engine coordinates run and step state transitions.
type Engine struct {
	store     *storage.Store
	queue     *jobstore.Queue
	executors *executor.Registry
	bus       Broadcaster
	cfg       Config
	logger    *slog.Logger
}

// New constructs an engine. bus may be nil when no live subscribers exist
// (e.g. in batch tests).
func New(store *storage.Store, queue *jobstore.Queue, executors *executor.Registry, bus Broadcaster, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.StepTimeout == 0 {
		cfg.StepTimeout = 5 * time.Minute
	}
	return &Engine{
		store:     store,
		queue:     queue,
		executors: executors,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.With("component", "workflow-engine"),
	}
}

// SetBroadcaster attaches the push bus after construction. The bus gates its
// subscriptions on run ownership, which the service layer answers, so the two
// cannot be built in one shot.
func (e *Engine) SetBroadcaster(bus Broadcaster) {
	e.bus = bus
}

// IdempotencyKey uniquely names one step attempt.
func IdempotencyKey(runID, stepKey string, retryCount int) string {
	return fmt.Sprintf("%s:%s:%d", runID, stepKey, retryCount)
}

// StartRun validates the workflow definition, creates the run with one
// pre-created step per node, and enqueues the entrypoint.
func (e *Engine) StartRun(ctx context.Context, tenantID, workflowID string, input map[string]any) (*storage.Run, error) {
	wf, err := e.store.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.IsActive {
		return nil, storage.ErrNotFound
	}

	def, err := workflow.ParseDefinition(wf.Definition)
	if err != nil {
		return nil, err
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run input: %w", err)
	}

	now := time.Now().UTC()
	run := &storage.Run{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Status:     storage.RunStatusPending,
		Input:      storage.JSON(inputJSON),
		StartedAt:  now,
	}

	steps := make([]storage.Step, 0, len(def.Nodes))
	for key, node := range def.Nodes {
		steps = append(steps, storage.Step{
			ID:             uuid.NewString(),
			RunID:          run.ID,
			StepKey:        key,
			Type:           string(node.Type),
			Status:         storage.StepStatusPending,
			IdempotencyKey: IdempotencyKey(run.ID, key, 0),
		})
	}

	if err := e.store.CreateRun(ctx, run, steps); err != nil {
		return nil, err
	}

	// PENDING is observable between creation and dispatch. A cancel landing
	// in that window wins and the entrypoint is never enqueued.
	started, err := e.store.MarkRunRunning(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if !started {
		return e.store.GetRun(ctx, tenantID, run.ID)
	}
	run.Status = storage.RunStatusRunning

	e.emit(ctx, run.ID, nil, EventRunStarted, map[string]any{"workflowId": workflowID})

	if err := e.enqueueStep(ctx, run, def.Entrypoint, 0, 0); err != nil {
		return nil, err
	}
	return run, nil
}

// ExecuteStep is the worker entry point for one delivered step job. It
// enforces the idempotency gate, runs the node executor under the step
// timeout, and hands the outcome to the completion or error path.
func (e *Engine) ExecuteStep(ctx context.Context, job *StepJob) error {
	run, err := e.store.GetRun(ctx, job.TenantID, job.RunID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("dropping step for unknown run", "runId", job.RunID, "stepKey", job.StepKey)
			return nil
		}
		return err
	}

	// Idempotency gate: terminal runs and terminal steps drop the delivery.
	if run.Status != storage.RunStatusRunning {
		e.logger.Debug("dropping step for non-running run", "runId", run.ID, "status", run.Status)
		return nil
	}
	step, err := e.store.GetStep(ctx, job.RunID, job.StepKey)
	if err != nil {
		return err
	}
	switch step.Status {
	case storage.StepStatusCompleted, storage.StepStatusSkipped, storage.StepStatusFailed:
		return nil
	case storage.StepStatusRunning:
		if !job.Resume {
			return nil
		}
	}

	def, node, err := e.loadNode(ctx, run, job.StepKey)
	if err != nil {
		return e.failRun(ctx, run, step, err.Error())
	}

	// A resumed DELAY step has already waited; complete it directly.
	if job.Resume && node.Type == workflow.NodeTypeDelay {
		cfg, cfgErr := node.DecodeConfig()
		if cfgErr != nil {
			return e.failRun(ctx, run, step, cfgErr.Error())
		}
		delayMs := cfg.(*workflow.DelayConfig).DelayMs
		if delayMs > workflow.MaxDelayMs {
			delayMs = workflow.MaxDelayMs
		}
		result := &executor.Result{Output: map[string]any{"delayed": true, "delayMs": delayMs}}
		return e.handleStepComplete(ctx, run, def, node, step, result)
	}

	if step.Status == storage.StepStatusPending {
		now := time.Now().UTC()
		step.Status = storage.StepStatusRunning
		step.StartedAt = &now
		step.Input = run.Input
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		e.emit(ctx, run.ID, step, EventStepStarted, map[string]any{"type": step.Type})
	}

	sctx, err := e.buildContext(ctx, run)
	if err != nil {
		return err
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	result, execErr := e.executors.Execute(stepCtx, node, sctx)
	if execErr != nil {
		return e.handleStepError(ctx, run, step, execErr)
	}

	// DELAY suspension: re-enqueue and release the worker.
	if result.Defer > 0 && !job.Resume {
		resume := &StepJob{RunID: run.ID, TenantID: run.TenantID, StepKey: step.StepKey, Resume: true}
		jobID := IdempotencyKey(run.ID, step.StepKey, step.RetryCount) + ":resume"
		if err := e.enqueueJob(ctx, jobID, resume, result.Defer); err != nil {
			return err
		}
		return nil
	}

	return e.handleStepComplete(ctx, run, def, node, step, result)
}

// CancelRun transitions a run to CANCELLED and skips its non-terminal steps
// in one transaction. In-flight steps past the gate run to completion but the
// run stays CANCELLED.
func (e *Engine) CancelRun(ctx context.Context, tenantID, runID string) (*storage.Run, error) {
	run, err := e.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != storage.RunStatusPending && run.Status != storage.RunStatusRunning {
		return nil, ErrRunNotCancellable
	}

	var cancelled bool
	err = e.store.Transaction(ctx, func(tx *storage.Store) error {
		var err error
		cancelled, err = tx.CancelRun(ctx, runID)
		if err != nil || !cancelled {
			return err
		}
		return tx.SkipPendingSteps(ctx, runID)
	})
	if err != nil {
		return nil, err
	}
	if !cancelled {
		// The run went terminal between the read and the transition.
		return nil, ErrRunNotCancellable
	}

	run, err = e.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, run.ID, nil, EventRunCancelled, nil)
	return run, nil
}

// handleStepComplete persists the step outcome, enqueues successors, and
// settles the run when no work remains.
func (e *Engine) handleStepComplete(ctx context.Context, run *storage.Run, def *workflow.Definition, node workflow.Node, step *storage.Step, result *executor.Result) error {
	outputJSON, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	now := time.Now().UTC()
	step.Status = storage.StepStatusCompleted
	step.Output = storage.JSON(outputJSON)
	step.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}

	alive, err := e.store.RecordRunProgress(ctx, run.ID, step.StepKey)
	if err != nil {
		return err
	}
	run.CurrentStepKey = &step.StepKey

	e.emit(ctx, run.ID, step, EventStepCompleted, map[string]any{"output": result.Output})

	// The run went terminal while the step executed. The step's outcome is
	// recorded but it schedules no successors.
	if !alive {
		return nil
	}

	successors, err := e.successors(def, node, result)
	if err != nil {
		return e.failRun(ctx, run, step, err.Error())
	}

	for _, key := range successors {
		if err := e.enqueueStep(ctx, run, key, 0, 0); err != nil {
			return err
		}
	}

	if len(successors) == 0 {
		return e.settleRun(ctx, run, step)
	}
	return nil
}

// handleStepError applies the retry policy: exponential backoff while budget
// remains, terminal failure afterwards.
func (e *Engine) handleStepError(ctx context.Context, run *storage.Run, step *storage.Step, execErr error) error {
	step.RetryCount++
	msg := execErr.Error()
	step.Error = &msg

	if step.RetryCount <= e.cfg.MaxRetries {
		delay := e.cfg.BaseDelay * (1 << (step.RetryCount - 1))
		step.Status = storage.StepStatusPending
		step.IdempotencyKey = IdempotencyKey(run.ID, step.StepKey, step.RetryCount)
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}
		e.emit(ctx, run.ID, step, EventStepRetrying, map[string]any{
			"retryCount": step.RetryCount,
			"delayMs":    delay.Milliseconds(),
			"error":      msg,
		})
		e.logger.Warn("step failed, retrying",
			"runId", run.ID, "stepKey", step.StepKey, "retry", step.RetryCount, "error", msg)
		return e.enqueueStep(ctx, run, step.StepKey, step.RetryCount, delay)
	}

	now := time.Now().UTC()
	step.Status = storage.StepStatusFailed
	step.CompletedAt = &now
	if err := e.store.UpdateStep(ctx, step); err != nil {
		return err
	}
	e.emit(ctx, run.ID, step, EventStepFailed, map[string]any{"error": msg})

	return e.failRun(ctx, run, step, msg)
}

// failRun marks the run FAILED and skips all remaining steps. A run that is
// already terminal is left untouched.
func (e *Engine) failRun(ctx context.Context, run *storage.Run, step *storage.Step, msg string) error {
	var stepKey *string
	if step != nil {
		stepKey = &step.StepKey
	}

	var failed bool
	err := e.store.Transaction(ctx, func(tx *storage.Store) error {
		var err error
		failed, err = tx.FailRun(ctx, run.ID, msg, stepKey)
		if err != nil || !failed {
			return err
		}
		return tx.SkipPendingSteps(ctx, run.ID)
	})
	if err != nil {
		return err
	}
	if !failed {
		return nil
	}

	run.Status = storage.RunStatusFailed
	run.Error = &msg
	e.emit(ctx, run.ID, nil, EventRunFailed, map[string]any{"error": msg})
	return nil
}

// settleRun completes the run when every scheduled step is terminal. Steps
// never scheduled (skipped branches) become SKIPPED; the last terminal step's
// output becomes the run output.
func (e *Engine) settleRun(ctx context.Context, run *storage.Run, lastStep *storage.Step) error {
	steps, err := e.store.ListSteps(ctx, run.ID)
	if err != nil {
		return err
	}
	for _, s := range steps {
		// A FAILED step means failRun owns the terminal transition.
		if s.Status == storage.StepStatusFailed {
			return nil
		}
		if s.Status == storage.StepStatusRunning {
			return nil
		}
		if s.Status == storage.StepStatusPending && s.ScheduledAt != nil {
			return nil
		}
	}

	var completed bool
	err = e.store.Transaction(ctx, func(tx *storage.Store) error {
		var err error
		completed, err = tx.CompleteRun(ctx, run.ID, lastStep.Output)
		if err != nil || !completed {
			return err
		}
		return tx.SkipPendingSteps(ctx, run.ID)
	})
	if err != nil {
		return err
	}
	if !completed {
		return nil
	}
	run.Status = storage.RunStatusCompleted
	run.Output = lastStep.Output

	var output any
	if len(lastStep.Output) > 0 {
		_ = json.Unmarshal(lastStep.Output, &output)
	}
	e.emit(ctx, run.ID, nil, EventRunCompleted, map[string]any{"output": output})
	return nil
}

// successors computes the next step keys after a completed node. CONDITION
// nodes follow the selected branch exclusively; everything else follows next.
func (e *Engine) successors(def *workflow.Definition, node workflow.Node, result *executor.Result) ([]string, error) {
	if result.BranchSelected {
		if result.SelectedBranch == "" {
			return nil, nil
		}
		if _, ok := def.Nodes[result.SelectedBranch]; !ok {
			return nil, fmt.Errorf("condition selected unknown node %q", result.SelectedBranch)
		}
		return []string{result.SelectedBranch}, nil
	}

	successors := make([]string, 0, len(node.Next))
	for _, key := range node.Next {
		if _, ok := def.Nodes[key]; !ok {
			return nil, fmt.Errorf("successor %q is not a node", key)
		}
		successors = append(successors, key)
	}
	return successors, nil
}

// enqueueStep marks the step scheduled and pushes its job, optionally delayed.
func (e *Engine) enqueueStep(ctx context.Context, run *storage.Run, stepKey string, retryCount int, delay time.Duration) error {
	step, err := e.store.GetStep(ctx, run.ID, stepKey)
	if err != nil {
		return err
	}
	if step.ScheduledAt == nil || retryCount > 0 {
		now := time.Now().UTC()
		step.ScheduledAt = &now
		if err := e.store.UpdateStep(ctx, step); err != nil {
			return err
		}
	}

	job := &StepJob{RunID: run.ID, TenantID: run.TenantID, StepKey: stepKey}
	return e.enqueueJob(ctx, IdempotencyKey(run.ID, stepKey, retryCount), job, delay)
}

func (e *Engine) enqueueJob(ctx context.Context, jobID string, job *StepJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode step job: %w", err)
	}
	queued := &jobstore.Job{ID: jobID, Kind: "step", Payload: payload}
	if delay > 0 {
		return e.queue.EnqueueIn(ctx, queued, delay)
	}
	return e.queue.Enqueue(ctx, queued)
}

// loadNode re-parses the run's workflow definition and resolves one node.
func (e *Engine) loadNode(ctx context.Context, run *storage.Run, stepKey string) (*workflow.Definition, workflow.Node, error) {
	wf, err := e.store.GetWorkflow(ctx, run.TenantID, run.WorkflowID)
	if err != nil {
		return nil, workflow.Node{}, err
	}
	var def workflow.Definition
	if err := json.Unmarshal(wf.Definition, &def); err != nil {
		return nil, workflow.Node{}, fmt.Errorf("stored definition is corrupt: %w", err)
	}
	node, ok := def.Nodes[stepKey]
	if !ok {
		return nil, workflow.Node{}, fmt.Errorf("step %q is not a node of workflow %s", stepKey, wf.ID)
	}
	return &def, node, nil
}

// buildContext assembles the read-only step context from the run input and
// the outputs of completed steps.
func (e *Engine) buildContext(ctx context.Context, run *storage.Run) (*workflow.Context, error) {
	var input map[string]any
	if len(run.Input) > 0 {
		if err := json.Unmarshal(run.Input, &input); err != nil {
			return nil, fmt.Errorf("run input is corrupt: %w", err)
		}
	}

	steps, err := e.store.ListSteps(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	completed := make(map[string]workflow.StepResult)
	for _, s := range steps {
		if s.Status != storage.StepStatusCompleted {
			continue
		}
		var output any
		if len(s.Output) > 0 {
			if err := json.Unmarshal(s.Output, &output); err != nil {
				return nil, fmt.Errorf("step %q output is corrupt: %w", s.StepKey, err)
			}
		}
		completed[s.StepKey] = workflow.StepResult{Output: output, Status: s.Status}
	}

	return &workflow.Context{Input: input, Steps: completed, Env: e.cfg.Env}, nil
}

// emit persists an audit event and then broadcasts it. Persist-before-push is
// the ordering guarantee observers rely on.
func (e *Engine) emit(ctx context.Context, runID string, step *storage.Step, eventType string, data map[string]any) {
	now := time.Now().UTC()
	var payload storage.JSON
	if data != nil {
		if encoded, err := json.Marshal(data); err == nil {
			payload = storage.JSON(encoded)
		}
	}

	event := &storage.Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: now,
	}
	var stepKey string
	if step != nil {
		event.StepID = &step.ID
		stepKey = step.StepKey
	}
	if err := e.store.AppendEvent(ctx, event); err != nil {
		e.logger.Error("failed to append event", "runId", runID, "type", eventType, "error", err)
		return
	}

	if e.bus != nil && eventType != EventStepRetrying {
		e.bus.Publish(Event{
			Type:      eventType,
			RunID:     runID,
			StepKey:   stepKey,
			Data:      data,
			Timestamp: now,
		})
	}
}
