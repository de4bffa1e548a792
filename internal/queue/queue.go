// Package queue implements the Scheduler: a durable, at-least-once Redis
// task queue. Tasks move from a pending list into a per-worker processing
// list (BRPopLPush) so a crashed worker's in-flight tasks are recoverable
// instead of silently lost, and failed tasks are retried with exponential
// backoff and jitter via a delayed-task sorted set promoted back onto the
// pending list as each task's ready time arrives.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// TaskType enumerates the Scheduler's task kinds. Each corresponds to one
// pipeline stage or one administrative action.
type TaskType string

const (
	TaskParseDocument        TaskType = "parse_document"
	TaskRetryFailedProject   TaskType = "retry_failed_project"
	TaskGeneratePrompts      TaskType = "generate_prompts"
	TaskGeneratePromptsByIDs TaskType = "generate_prompts_by_ids"
	TaskGenerateImages       TaskType = "generate_images"
	TaskGenerateAudio        TaskType = "generate_audio"
	TaskSynthesizeVideo      TaskType = "synthesize_video"
)

const (
	pendingKey    = "inkframe:tasks:pending"
	delayedKey    = "inkframe:tasks:delayed"
	processingFmt = "inkframe:tasks:processing:%s"

	baseBackoff = 1 * time.Second
	maxBackoff  = 600 * time.Second
	maxAttempts = 8
)

// Task is the Scheduler's unit of work. Data carries the task-type-specific
// payload (e.g. the sentence ids for generate_prompts_by_ids).
type Task struct {
	ID           uuid.UUID              `json:"id"`
	Type         TaskType               `json:"type"`
	ProjectID    uuid.UUID              `json:"project_id"`
	ChapterID    *uuid.UUID             `json:"chapter_id,omitempty"`
	VideoTaskID  *uuid.UUID             `json:"video_task_id,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Attempt      int                    `json:"attempt"`
	SoftDeadline *time.Time             `json:"soft_deadline,omitempty"`
	HardDeadline *time.Time             `json:"hard_deadline,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// PastSoftDeadline reports whether the task has overrun its soft deadline —
// workers treat this as a signal to deprioritize, not abandon.
func (t *Task) PastSoftDeadline(now time.Time) bool {
	return t.SoftDeadline != nil && now.After(*t.SoftDeadline)
}

// PastHardDeadline reports whether the task must be abandoned outright.
func (t *Task) PastHardDeadline(now time.Time) bool {
	return t.HardDeadline != nil && now.After(*t.HardDeadline)
}

type Scheduler struct {
	client *redis.Client
}

func New(redisURL string) (*Scheduler, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Scheduler{client: client}, nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}

// Enqueue pushes a task onto the pending list for immediate pickup.
func (s *Scheduler) Enqueue(ctx context.Context, task *Task) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	return s.client.RPush(ctx, pendingKey, data).Err()
}

// PromoteDue moves every delayed task whose ready time has passed onto the
// pending list. Call this once per dequeue loop iteration — cheap when the
// delayed set is empty or not yet due.
func (s *Scheduler) PromoteDue(ctx context.Context) error {
	now := float64(time.Now().Unix())

	due, err := s.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to query delayed tasks: %w", err)
	}

	for _, payload := range due {
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, payload)
		pipe.RPush(ctx, pendingKey, payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to promote delayed task: %w", err)
		}
	}

	return nil
}

// Dequeue atomically moves one task from pending to the workerID's
// processing list and returns it. The task remains visible in the
// processing list until Ack removes it, so a crash between Dequeue and Ack
// leaves the task recoverable via Recover.
func (s *Scheduler) Dequeue(ctx context.Context, workerID string, timeout time.Duration) (*Task, error) {
	if err := s.PromoteDue(ctx); err != nil {
		return nil, err
	}

	processingKey := fmt.Sprintf(processingFmt, workerID)
	result, err := s.client.BRPopLPush(ctx, pendingKey, processingKey, timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(result), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Ack removes a completed task from the worker's processing list.
func (s *Scheduler) Ack(ctx context.Context, workerID string, task *Task) error {
	processingKey := fmt.Sprintf(processingFmt, workerID)
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return s.client.LRem(ctx, processingKey, 1, data).Err()
}

// Retry removes the task from the worker's processing list and schedules it
// onto the delayed set with exponential backoff and jitter:
// min(base * 2^attempt + U(0, base), cap). Returns false without
// rescheduling once attempts are exhausted or the hard deadline has passed.
func (s *Scheduler) Retry(ctx context.Context, workerID string, task *Task) (bool, error) {
	if err := s.Ack(ctx, workerID, task); err != nil {
		return false, err
	}

	task.Attempt++
	if task.Attempt >= maxAttempts || task.PastHardDeadline(time.Now()) {
		return false, nil
	}

	delay := backoff(task.Attempt)
	score := float64(time.Now().Add(delay).Unix())

	data, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := s.client.ZAdd(ctx, delayedKey, &redis.Z{Score: score, Member: data}).Err(); err != nil {
		return false, fmt.Errorf("failed to schedule retry: %w", err)
	}

	return true, nil
}

// Recover re-enqueues every task still sitting in workerID's processing
// list — called on worker startup to pick up tasks orphaned by a crash.
func (s *Scheduler) Recover(ctx context.Context, workerID string) (int, error) {
	processingKey := fmt.Sprintf(processingFmt, workerID)

	n := 0
	for {
		result, err := s.client.RPopLPush(ctx, processingKey, pendingKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return n, fmt.Errorf("failed to recover processing task: %w", err)
		}
		_ = result
		n++
	}
	return n, nil
}

func (s *Scheduler) PendingLength(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, pendingKey).Result()
}

func (s *Scheduler) DelayedLength(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, delayedKey).Result()
}

// backoff implements min(base*2^attempt + U(0, base), cap).
func backoff(attempt int) time.Duration {
	exp := float64(baseBackoff) * math.Pow(2, float64(attempt))
	jitter := float64(baseBackoff) * rand.Float64()
	delay := exp + jitter
	if delay > float64(maxBackoff) {
		delay = float64(maxBackoff)
	}
	return time.Duration(delay)
}
