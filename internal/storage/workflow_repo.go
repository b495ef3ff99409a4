// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "context"

// CreateWorkflow inserts a new workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	return translate(s.db.WithContext(ctx).Create(wf).Error)
}

// GetWorkflow fetches a workflow under the given tenant.
func (s *Store) GetWorkflow(ctx context.Context, tenantID, workflowID string) (*Workflow, error) {
	var wf Workflow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, workflowID).
		First(&wf).Error
	if err != nil {
		return nil, translate(err)
	}
	return &wf, nil
}

// ListWorkflows returns a page of active workflows for the tenant, newest first.
func (s *Store) ListWorkflows(ctx context.Context, tenantID string, page, limit int) ([]Workflow, int64, error) {
	var total int64
	base := s.db.WithContext(ctx).Model(&Workflow{}).
		Where("tenant_id = ? AND is_active = ?", tenantID, true)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var workflows []Workflow
	err := base.Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, translate(err)
	}
	return workflows, total, nil
}

// UpdateWorkflow persists a definition change, bumping the version counter.
func (s *Store) UpdateWorkflow(ctx context.Context, wf *Workflow) error {
	result := s.db.WithContext(ctx).Model(&Workflow{}).
		Where("tenant_id = ? AND id = ?", wf.TenantID, wf.ID).
		Updates(map[string]any{
			"name":       wf.Name,
			"definition": wf.Definition,
			"version":    wf.Version,
		})
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteWorkflow clears IsActive. Runs keep referencing the row.
func (s *Store) SoftDeleteWorkflow(ctx context.Context, tenantID, workflowID string) error {
	result := s.db.WithContext(ctx).Model(&Workflow{}).
		Where("tenant_id = ? AND id = ?", tenantID, workflowID).
		Update("is_active", false)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
