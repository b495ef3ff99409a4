// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package pushbus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomhq/loom/internal/workflow/engine"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	mailboxSize    = 64
)

var errRunForbidden = errors.New("run does not belong to tenant")

// command is the client-to-server control message.
type command struct {
	Action string `json:"action"`
	RunID  string `json:"runId"`
}

// ack is the server's reply to a command.
type ack struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
	Error string `json:"error,omitempty"`
}

// Client is one websocket connection. Events are delivered through a bounded
// mailbox so a stalled reader never blocks the hub.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	tenantID string
	logger   *slog.Logger

	mailbox   chan any
	closeOnce chan struct{}
}

// Serve attaches conn to the hub and blocks until the connection closes.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, tenantID string) {
	c := &Client{
		hub:       h,
		conn:      conn,
		tenantID:  tenantID,
		logger:    h.logger.With("tenantId", tenantID),
		mailbox:   make(chan any, mailboxSize),
		closeOnce: make(chan struct{}),
	}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer func() {
		h.unregister(c)
		conn.Close()
	}()

	go c.writePump()
	c.readPump(ctx)
}

// deliver queues an event; false means the mailbox is full.
func (c *Client) deliver(event engine.Event) bool {
	select {
	case c.mailbox <- event:
		return true
	case <-c.closeOnce:
		return true
	default:
		return false
	}
}

func (c *Client) send(msg any) {
	select {
	case c.mailbox <- msg:
	case <-c.closeOnce:
	default:
	}
}

func (c *Client) close() {
	select {
	case <-c.closeOnce:
	default:
		close(c.closeOnce)
	}
}

func (c *Client) goingAway() {
	deadline := time.Now().Add(writeWait)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
	c.close()
}

// readPump consumes subscribe/unsubscribe commands until the peer disconnects.
func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			c.close()
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.RunID == "" {
			c.send(ack{Type: "error", Error: "malformed command"})
			continue
		}

		switch cmd.Action {
		case "subscribe":
			if err := c.hub.subscribe(ctx, c, cmd.RunID); err != nil {
				msg := "subscription failed"
				if errors.Is(err, errRunForbidden) {
					msg = "run not found"
				}
				c.send(ack{Type: "error", RunID: cmd.RunID, Error: msg})
				continue
			}
			c.send(ack{Type: "subscribed", RunID: cmd.RunID})
		case "unsubscribe":
			c.hub.unsubscribe(c, cmd.RunID)
			c.send(ack{Type: "unsubscribed", RunID: cmd.RunID})
		default:
			c.send(ack{Type: "error", RunID: cmd.RunID, Error: "unknown action"})
		}
	}
}

// writePump serializes all writes to the connection and keeps it alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.mailbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		case <-c.closeOnce:
			return
		}
	}
}
