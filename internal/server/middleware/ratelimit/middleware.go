// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit enforces a per-tenant request budget. Unauthenticated
// requests are bucketed by remote address instead.
package ratelimit

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/loomhq/loom/internal/auth"
	"github.com/loomhq/loom/internal/httpapi"
)

const staleAfter = 10 * time.Minute

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out one token bucket per key. The bucket holds a full
// minute's budget and refills continuously.
type Limiter struct {
	perMinute int

	mu      sync.Mutex
	entries map[string]*entry
}

func New(perMinute int) *Limiter {
	l := &Limiter{
		perMinute: perMinute,
		entries:   make(map[string]*entry),
	}
	go l.sweep()
	return l
}

// Middleware rejects requests over budget with a RATE_LIMIT error.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l.perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			if !l.allow(keyFor(r)) {
				w.Header().Set("Retry-After", "60")
				httpapi.WriteError(w, http.StatusTooManyRequests, httpapi.CodeRateLimit, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

func keyFor(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok {
		return "tenant:" + p.TenantID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-staleAfter)
		l.mu.Lock()
		for key, e := range l.entries {
			if e.lastSeen.Before(cutoff) {
				delete(l.entries, key)
			}
		}
		l.mu.Unlock()
	}
}
