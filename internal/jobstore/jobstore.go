// Copyright 2025 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobstore implements the durable job queue shared by both services.
//
// Each queue is backed by three Redis structures: a ready list, a delayed
// sorted set scored by due time, and a dedup set of job IDs. Delivery is
// at-least-once; consumers convert that to effectively-once behind their
// idempotency gates, so job IDs are the idempotency keys of the work they
// carry.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job is one unit of queued work. ID doubles as the dedup key.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// Queue is a named durable queue.
type Queue struct {
	rdb  *redis.Client
	name string
}

// promoteScript atomically moves due jobs from the delayed set to the ready
// list. KEYS[1]=delayed zset, KEYS[2]=ready list, ARGV[1]=now (unix ms).
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for i, job in ipairs(due) do
  redis.call('LPUSH', KEYS[2], job)
  redis.call('ZREM', KEYS[1], job)
end
return #due
`)

// New creates a queue handle. Queues sharing a name share their backing
// structures across processes.
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) readyKey() string   { return "loom:queue:" + q.name + ":ready" }
func (q *Queue) delayedKey() string { return "loom:queue:" + q.name + ":delayed" }
func (q *Queue) dedupKey() string   { return "loom:queue:" + q.name + ":ids" }

// Enqueue pushes a job for immediate delivery. A job whose ID was already
// enqueued and not yet consumed is dropped.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	return q.enqueue(ctx, job, 0)
}

// EnqueueIn pushes a job for delivery no earlier than delay from now.
func (q *Queue) EnqueueIn(ctx context.Context, job *Job, delay time.Duration) error {
	return q.enqueue(ctx, job, delay)
}

func (q *Queue) enqueue(ctx context.Context, job *Job, delay time.Duration) error {
	if job.ID == "" {
		return errors.New("job ID is required")
	}
	job.EnqueuedAt = time.Now().UTC()

	added, err := q.rdb.SAdd(ctx, q.dedupKey(), job.ID).Result()
	if err != nil {
		return fmt.Errorf("failed to register job id: %w", err)
	}
	if added == 0 {
		// Duplicate of an in-flight job; the queue deduplicates natively.
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if delay <= 0 {
		if err := q.rdb.LPush(ctx, q.readyKey(), data).Err(); err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}
		return nil
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: data}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue delayed job: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or the context is cancelled. Due
// delayed jobs are promoted before each blocking pop.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := time.Now().UnixMilli()
		if err := promoteScript.Run(ctx, q.rdb, []string{q.delayedKey(), q.readyKey()}, now).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("failed to promote delayed jobs: %w", err)
		}

		res, err := q.rdb.BRPop(ctx, time.Second, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to pop job: %w", err)
		}

		// BRPop returns [key, value].
		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		if err := q.rdb.SRem(ctx, q.dedupKey(), job.ID).Err(); err != nil {
			return nil, fmt.Errorf("failed to release job id: %w", err)
		}
		return &job, nil
	}
}

// Len reports the number of ready plus delayed jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	ready, err := q.rdb.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}
