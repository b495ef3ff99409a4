// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package workflowapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/completion"
	"github.com/loomhq/loom/internal/jobstore"
	"github.com/loomhq/loom/internal/pushbus"
	"github.com/loomhq/loom/internal/server/middleware/ratelimit"
	"github.com/loomhq/loom/internal/storage"
	"github.com/loomhq/loom/internal/workflow-api/handlers"
	"github.com/loomhq/loom/internal/workflow-api/services"
	"github.com/loomhq/loom/internal/workflow/engine"
	"github.com/loomhq/loom/internal/workflow/executor"
	"github.com/loomhq/loom/internal/workflow/expr"
)

type apiFixture struct {
	router http.Handler
	store  *storage.Store
	queue  *jobstore.Queue
	engine *engine.Engine
}

// envelope is the wire form shared by every response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Details map[string]string `json:"details"`
	} `json:"error"`
	Pagination *struct {
		Page       int   `json:"page"`
		Limit      int   `json:"limit"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"totalPages"`
	} `json:"pagination"`
}

func newAPIFixture(t *testing.T) *apiFixture {
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

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	queue := jobstore.New(rdb, "steps")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	registry := executor.NewRegistry(executor.Options{
		Completion: completion.NewMock(),
		Evaluator:  eval,
	})
	eng := engine.New(store, queue, registry, nil, engine.Config{BaseDelay: time.Millisecond}, logger)

	tokens := auth.NewTokenManager("test-secret-key", time.Hour)
	authSvc := auth.NewService(store, tokens, logger)
	svcs := services.New(store, eng, authSvc, logger)

	hub := pushbus.NewHub(svcs.Runs, logger)
	eng.SetBroadcaster(hub)

	h := handlers.New(svcs, tokens, hub, store, rdb, logger)
	router := NewRouter(h, tokens, ratelimit.New(10_000), logger)

	return &apiFixture{router: router, store: store, queue: queue, engine: eng}
}

// do issues one request against the router and decodes the envelope.
func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, *envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code == http.StatusNoContent {
		return rec.Code, &envelope{Success: true}
	}
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec.Code, &env
}

func (f *apiFixture) register(t *testing.T, email string) string {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"tenantName": "acme",
		"email":      email,
		"password":   "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, code)
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

const apiDefinition = `{
	"metadata": {"name": "greeting"},
	"entrypoint": "greet",
	"nodes": {
		"greet": {
			"id": "greet",
			"type": "TRANSFORM",
			"config": {"template": {"msg": "hello {{input.name}}"}}
		}
	}
}`

func (f *apiFixture) createWorkflow(t *testing.T, token string) string {
	t.Helper()
	code, env := f.do(t, http.MethodPost, "/api/workflows", token, map[string]any{
		"name":       "greeting",
		"definition": json.RawMessage(apiDefinition),
	})
	require.Equal(t, http.StatusCreated, code)
	var wf struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &wf))
	return wf.ID
}

func TestRegisterLoginFlow(t *testing.T) {
	f := newAPIFixture(t)

	token := f.register(t, "owner@example.com")
	require.NotEmpty(t, token)

	// Same email again is a conflict.
	code, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"tenantName": "other",
		"email":      "owner@example.com",
		"password":   "hunter2hunter2",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)
	assert.Equal(t, "CONFLICT", env.Error.Code)

	code, _ = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "owner@example.com",
		"password": "hunter2hunter2",
	})
	assert.Equal(t, http.StatusOK, code)

	code, env = f.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "owner@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_ERROR", env.Error.Code)
}

func TestRegisterValidation(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"tenantName": "acme",
		"email":      "not-an-email",
		"password":   "short",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "email")
	assert.Contains(t, env.Error.Details, "password")
}

func TestGuardedRoutesRequireAuth(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodGet, "/api/workflows", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "AUTH_ERROR", env.Error.Code)
}

func TestWorkflowCRUD(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")

	id := f.createWorkflow(t, token)

	code, env := f.do(t, http.MethodGet, "/api/workflows/"+id, token, nil)
	require.Equal(t, http.StatusOK, code)
	var wf struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &wf))
	assert.Equal(t, "greeting", wf.Name)
	assert.Equal(t, 1, wf.Version)

	// A definition change bumps the version.
	code, env = f.do(t, http.MethodPut, "/api/workflows/"+id, token, map[string]any{
		"definition": json.RawMessage(apiDefinition),
	})
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &wf))
	assert.Equal(t, 2, wf.Version)

	code, env = f.do(t, http.MethodGet, "/api/workflows", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Pagination)
	assert.EqualValues(t, 1, env.Pagination.Total)

	code, _ = f.do(t, http.MethodDelete, "/api/workflows/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code, env = f.do(t, http.MethodGet, "/api/workflows/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestCreateWorkflowRejectsInvalidDefinition(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")

	code, env := f.do(t, http.MethodPost, "/api/workflows", token, map[string]any{
		"name":       "broken",
		"definition": json.RawMessage(`{"entrypoint": "ghost", "nodes": {}}`),
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.NotEmpty(t, env.Error.Details)
}

func TestTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	tokenA := f.register(t, "a@example.com")
	tokenB := f.register(t, "b@example.com")

	id := f.createWorkflow(t, tokenA)

	code, env := f.do(t, http.MethodGet, "/api/workflows/"+id, tokenB, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)

	code, env = f.do(t, http.MethodGet, "/api/workflows", tokenB, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, env.Pagination.Total)
}

func TestExecuteAndCancelRun(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")
	id := f.createWorkflow(t, token)

	code, env := f.do(t, http.MethodPost, "/api/workflows/"+id+"/execute", token, map[string]any{
		"input": map[string]any{"name": "loom"},
	})
	require.Equal(t, http.StatusAccepted, code)
	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, storage.RunStatusRunning, run.Status)

	// Single-run reads include the step records.
	code, env = f.do(t, http.MethodGet, "/api/runs/"+run.ID, token, nil)
	require.Equal(t, http.StatusOK, code)
	var detailed struct {
		Steps []struct {
			StepKey string `json:"stepKey"`
			Status  string `json:"status"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &detailed))
	require.Len(t, detailed.Steps, 1)
	assert.Equal(t, "greet", detailed.Steps[0].StepKey)

	code, env = f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/cancel", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &run))
	assert.Equal(t, storage.RunStatusCancelled, run.Status)

	// Cancelling a terminal run conflicts.
	code, env = f.do(t, http.MethodPost, "/api/runs/"+run.ID+"/cancel", token, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", env.Error.Code)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")

	code, env := f.do(t, http.MethodPost, "/api/workflows/"+uuid.NewString()+"/execute", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestRunEvents(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")
	id := f.createWorkflow(t, token)

	code, env := f.do(t, http.MethodPost, "/api/workflows/"+id+"/execute", token, map[string]any{
		"input": map[string]any{"name": "loom"},
	})
	require.Equal(t, http.StatusAccepted, code)
	var run struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &run))

	code, env = f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/events", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Pagination)
	var events []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.NotEmpty(t, events)
	assert.Equal(t, engine.EventRunStarted, events[0].Type)

	// A malformed since parameter is ignored, not rejected.
	code, env = f.do(t, http.MethodGet, "/api/runs/"+run.ID+"/events?since=yesterday", token, nil)
	assert.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &events))
	assert.NotEmpty(t, events)
}

func TestRunListPagination(t *testing.T) {
	f := newAPIFixture(t)
	token := f.register(t, "owner@example.com")
	id := f.createWorkflow(t, token)

	for i := 0; i < 3; i++ {
		code, _ := f.do(t, http.MethodPost, "/api/workflows/"+id+"/execute", token, map[string]any{
			"input": map[string]any{"name": fmt.Sprintf("run-%d", i)},
		})
		require.Equal(t, http.StatusAccepted, code)
	}

	code, env := f.do(t, http.MethodGet, "/api/workflows/"+id+"/runs?page=1&limit=2", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, env.Pagination)
	assert.EqualValues(t, 3, env.Pagination.Total)
	assert.Equal(t, 2, env.Pagination.Limit)
	assert.Equal(t, 2, env.Pagination.TotalPages)

	var runs []json.RawMessage
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 2)
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	code, env := f.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, code)
	var health struct {
		Status     string                     `json:"status"`
		Components map[string]json.RawMessage `json:"components"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Components, "database")
	assert.Contains(t, health.Components, "kv")
}
