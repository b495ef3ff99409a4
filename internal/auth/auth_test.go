// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomhq/loom/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store, err := storage.NewWithDB(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tokens := NewTokenManager("test-secret-key", time.Hour)
	return NewService(store, tokens, slog.Default()), store
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret-key", time.Hour)

	token, err := m.Issue(Principal{UserID: "u1", TenantID: "t1", Role: RoleAdmin})
	require.NoError(t, err)

	p, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, RoleAdmin, p.Role)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := NewTokenManager("secret-one", time.Hour).Issue(Principal{UserID: "u1", TenantID: "t1"})
	require.NoError(t, err)

	_, err = NewTokenManager("secret-two", time.Hour).Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := NewTokenManager("test-secret-key", -time.Minute)
	token, err := m.Issue(Principal{UserID: "u1", TenantID: "t1"})
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	m := NewTokenManager("test-secret-key", time.Hour)
	_, err := m.Verify("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPrincipalContext(t *testing.T) {
	ctx := NewContext(context.Background(), &Principal{UserID: "u1", TenantID: "t1"})
	p, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", p.UserID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestRegisterCreatesTenantAndAdmin(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "Acme", "admin@acme.test", "hunter22pass")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, account.Role)
	assert.NotEmpty(t, account.Token)
	assert.NotEmpty(t, account.TenantID)

	user, err := store.GetUser(ctx, account.TenantID, account.UserID)
	require.NoError(t, err)
	assert.Equal(t, "admin@acme.test", user.Email)
	// The password is stored hashed, never verbatim.
	assert.NotEqual(t, "hunter22pass", user.PasswordHash)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Acme", "dup@acme.test", "hunter22pass")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other Co", "dup@acme.test", "hunter22pass")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, "Acme", "login@acme.test", "hunter22pass")
	require.NoError(t, err)

	account, err := svc.Login(ctx, "login@acme.test", "hunter22pass")
	require.NoError(t, err)
	assert.Equal(t, registered.UserID, account.UserID)
	assert.Equal(t, registered.TenantID, account.TenantID)
	assert.NotEmpty(t, account.Token)
}

func TestLoginWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Acme", "who@acme.test", "hunter22pass")
	require.NoError(t, err)

	_, wrongPass := svc.Login(ctx, "who@acme.test", "wrong-password")
	_, unknownEmail := svc.Login(ctx, "nobody@acme.test", "hunter22pass")

	require.ErrorIs(t, wrongPass, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPass.Error(), unknownEmail.Error())
}

func TestSessionTokenCarriesTenant(t *testing.T) {
	svc, _ := newTestService(t)
	account, err := svc.Register(context.Background(), "Acme", "claims@acme.test", "hunter22pass")
	require.NoError(t, err)

	p, err := NewTokenManager("test-secret-key", time.Hour).Verify(account.Token)
	require.NoError(t, err)
	assert.Equal(t, account.TenantID, p.TenantID)
	assert.Equal(t, account.UserID, p.UserID)
}
