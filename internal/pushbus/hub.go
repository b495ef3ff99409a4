// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package pushbus fans run events out to websocket subscribers. Clients
// subscribe per run; the hub checks tenant ownership before admitting a
// subscription and drops slow consumers rather than blocking publishers.
package pushbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/loomhq/loom/internal/workflow/engine"
)

// RunAuthorizer reports whether a run belongs to a tenant. The hub uses it to
// gate subscriptions.
type RunAuthorizer interface {
	RunBelongsToTenant(ctx context.Context, tenantID, runID string) (bool, error)
}

// Hub routes engine events to subscribed clients.
type Hub struct {
	auth   RunAuthorizer
	logger *slog.Logger

	mu      sync.RWMutex
	byRun   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool
}

func NewHub(auth RunAuthorizer, logger *slog.Logger) *Hub {
	return &Hub{
		auth:    auth,
		logger:  logger.With("component", "pushbus"),
		byRun:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Publish implements engine.Broadcaster. Delivery is best-effort: a client
// whose mailbox is full is disconnected.
func (h *Hub) Publish(event engine.Event) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.byRun[event.RunID]))
	for c := range h.byRun[event.RunID] {
		subscribers = append(subscribers, c)
	}
	h.mu.RUnlock()

	for _, c := range subscribers {
		if !c.deliver(event) {
			h.logger.Warn("disconnecting slow subscriber", "runId", event.RunID)
			c.close()
		}
	}
}

// Shutdown closes every connection with a going-away frame.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.goingAway()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for runID, subs := range h.byRun {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byRun, runID)
		}
	}
}

// subscribe admits c to runID's subscriber set after the ownership check.
func (h *Hub) subscribe(ctx context.Context, c *Client, runID string) error {
	ok, err := h.auth.RunBelongsToTenant(ctx, c.tenantID, runID)
	if err != nil {
		return err
	}
	if !ok {
		return errRunForbidden
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byRun[runID] == nil {
		h.byRun[runID] = make(map[*Client]struct{})
	}
	h.byRun[runID][c] = struct{}{}
	return nil
}

func (h *Hub) unsubscribe(c *Client, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.byRun[runID]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.byRun, runID)
		}
	}
}
