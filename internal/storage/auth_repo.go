// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import "context"

// CreateTenant inserts a new tenant.
func (s *Store) CreateTenant(ctx context.Context, tenant *Tenant) error {
	return translate(s.db.WithContext(ctx).Create(tenant).Error)
}

// CreateUser inserts a new user. Returns ErrConflict when the email is taken.
func (s *Store) CreateUser(ctx context.Context, user *User) error {
	return translate(s.db.WithContext(ctx).Create(user).Error)
}

// GetUserByEmail looks a user up by login email. Email is the global login
// identifier, so this is the one deliberately tenant-free lookup.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// GetUser fetches a user under the given tenant.
func (s *Store) GetUser(ctx context.Context, tenantID, userID string) (*User, error) {
	var user User
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, userID).
		First(&user).Error
	if err != nil {
		return nil, translate(err)
	}
	return &user, nil
}
