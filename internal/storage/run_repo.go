// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"time"
)

// CreateRun inserts a run together with its pre-created steps.
func (s *Store) CreateRun(ctx context.Context, run *Run, steps []Step) error {
	return s.Transaction(ctx, func(tx *Store) error {
		if err := tx.db.Create(run).Error; err != nil {
			return translate(err)
		}
		if len(steps) > 0 {
			if err := tx.db.Create(&steps).Error; err != nil {
				return translate(err)
			}
		}
		return nil
	})
}

// GetRun fetches a run under the given tenant.
func (s *Store) GetRun(ctx context.Context, tenantID, runID string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, runID).
		First(&run).Error
	if err != nil {
		return nil, translate(err)
	}
	return &run, nil
}

// ListRuns returns a page of runs for a workflow, newest first.
func (s *Store) ListRuns(ctx context.Context, tenantID, workflowID string, page, limit int) ([]Run, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&Run{}).
		Where("tenant_id = ? AND workflow_id = ?", tenantID, workflowID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var runs []Run
	err := base.Order("started_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return runs, total, nil
}

// transitionRun applies updates to a run only while it still holds one of the
// expected statuses. Reports whether a row changed. Run statuses are monotone
// past their terminal states; every writer goes through here so a completing
// in-flight step can never resurrect a run that went terminal under it.
func (s *Store) transitionRun(ctx context.Context, runID string, from []string, updates map[string]any) (bool, error) {
	result := s.db.WithContext(ctx).Model(&Run{}).
		Where("id = ? AND status IN ?", runID, from).
		Updates(updates)
	if result.Error != nil {
		return false, translate(result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MarkRunRunning dispatches a PENDING run.
func (s *Store) MarkRunRunning(ctx context.Context, runID string) (bool, error) {
	return s.transitionRun(ctx, runID, []string{RunStatusPending},
		map[string]any{"status": RunStatusRunning})
}

// RecordRunProgress updates the run's current step. Reports whether the run
// was still live; a false return means it went terminal while the step ran.
func (s *Store) RecordRunProgress(ctx context.Context, runID, stepKey string) (bool, error) {
	return s.transitionRun(ctx, runID, []string{RunStatusRunning},
		map[string]any{"current_step_key": stepKey})
}

// CompleteRun moves a RUNNING run to COMPLETED with its output.
func (s *Store) CompleteRun(ctx context.Context, runID string, output JSON) (bool, error) {
	return s.transitionRun(ctx, runID, []string{RunStatusRunning}, map[string]any{
		"status":       RunStatusCompleted,
		"output":       output,
		"completed_at": time.Now().UTC(),
	})
}

// FailRun moves a live run to FAILED with its error.
func (s *Store) FailRun(ctx context.Context, runID, errMsg string, stepKey *string) (bool, error) {
	updates := map[string]any{
		"status":       RunStatusFailed,
		"error":        errMsg,
		"completed_at": time.Now().UTC(),
	}
	if stepKey != nil {
		updates["current_step_key"] = *stepKey
	}
	return s.transitionRun(ctx, runID, []string{RunStatusPending, RunStatusRunning}, updates)
}

// CancelRun moves a live run to CANCELLED.
func (s *Store) CancelRun(ctx context.Context, runID string) (bool, error) {
	return s.transitionRun(ctx, runID, []string{RunStatusPending, RunStatusRunning}, map[string]any{
		"status":       RunStatusCancelled,
		"completed_at": time.Now().UTC(),
	})
}

// GetStep fetches one step by run and key.
func (s *Store) GetStep(ctx context.Context, runID, stepKey string) (*Step, error) {
	var step Step
	err := s.db.WithContext(ctx).
		Where("run_id = ? AND step_key = ?", runID, stepKey).
		First(&step).Error
	if err != nil {
		return nil, translate(err)
	}
	return &step, nil
}

// ListSteps returns all steps of a run in creation order.
func (s *Store) ListSteps(ctx context.Context, runID string) ([]Step, error) {
	var steps []Step
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&steps).Error
	if err != nil {
		return nil, translate(err)
	}
	return steps, nil
}

// UpdateStep persists mutable step fields.
func (s *Store) UpdateStep(ctx context.Context, step *Step) error {
	return translate(s.db.WithContext(ctx).Save(step).Error)
}

// CountActiveSteps counts steps of a run that are still PENDING or RUNNING.
func (s *Store) CountActiveSteps(ctx context.Context, runID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Step{}).
		Where("run_id = ? AND status IN ?", runID, []string{StepStatusPending, StepStatusRunning}).
		Count(&count).Error
	return count, translate(err)
}

// SkipPendingSteps marks every non-terminal step of a run as SKIPPED.
// Used on cancellation and on retry exhaustion.
func (s *Store) SkipPendingSteps(ctx context.Context, runID string) error {
	now := time.Now().UTC()
	return translate(s.db.WithContext(ctx).Model(&Step{}).
		Where("run_id = ? AND status IN ?", runID, []string{StepStatusPending, StepStatusRunning}).
		Updates(map[string]any{"status": StepStatusSkipped, "completed_at": now}).Error)
}

// AppendEvent writes one audit event. Events are append-only.
func (s *Store) AppendEvent(ctx context.Context, event *Event) error {
	return translate(s.db.WithContext(ctx).Create(event).Error)
}

// ListEvents returns a page of events for a run after the given instant,
// ordered by persisted timestamp.
func (s *Store) ListEvents(ctx context.Context, runID string, since time.Time, page, limit int) ([]Event, int64, error) {
	base := s.db.WithContext(ctx).Model(&Event{}).Where("run_id = ?", runID)
	if !since.IsZero() {
		base = base.Where("timestamp > ?", since)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var events []Event
	err := base.Order("timestamp ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return events, total, nil
}
