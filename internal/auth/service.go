// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/loomhq/loom/internal/storage"
)

// RoleAdmin is assigned to the first user of a tenant, created at signup.
const RoleAdmin = "admin"

// ErrEmailTaken is returned when registering an email that already has an
// account.
var ErrEmailTaken = errors.New("email already registered")

// Account is the authenticated-session view returned by Register and Login.
type Account struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
	Token    string
}

// Service implements signup and login on top of the store.
type Service struct {
	store  *storage.Store
	tokens *TokenManager
	logger *slog.Logger
}

func NewService(store *storage.Store, tokens *TokenManager, logger *slog.Logger) *Service {
	return &Service{store: store, tokens: tokens, logger: logger.With("component", "auth")}
}

// Register creates a tenant and its admin user in one transaction, then
// issues a session token.
func (s *Service) Register(ctx context.Context, tenantName, email, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	tenant := &storage.Tenant{ID: uuid.NewString(), Name: tenantName}
	user := &storage.User{
		ID:           uuid.NewString(),
		TenantID:     tenant.ID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleAdmin,
	}

	err = s.store.Transaction(ctx, func(tx *storage.Store) error {
		if err := tx.CreateTenant(ctx, tenant); err != nil {
			return err
		}
		return tx.CreateUser(ctx, user)
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("tenant registered", "tenantId", tenant.ID)
	return s.session(user)
}

// Login verifies credentials and issues a session token. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *Service) session(user *storage.User) (*Account, error) {
	token, err := s.tokens.Issue(Principal{UserID: user.ID, TenantID: user.TenantID, Role: user.Role})
	if err != nil {
		return nil, err
	}
	return &Account{
		UserID:   user.ID,
		TenantID: user.TenantID,
		Email:    user.Email,
		Role:     user.Role,
		Token:    token,
	}, nil
}
