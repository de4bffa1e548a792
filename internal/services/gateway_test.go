package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/google/uuid"
)

func TestBackoffDelayCapped(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := backoffDelay(attempt)
			if d > gatewayMaxDelay {
				t.Fatalf("backoffDelay(%d) = %v, exceeds cap %v", attempt, d, gatewayMaxDelay)
			}
			if d < 0 {
				t.Fatalf("backoffDelay(%d) = %v, negative", attempt, d)
			}
		}
	}
}

func TestGatewayCallRetriesRateLimited(t *testing.T) {
	g := NewGateway()
	keyID := uuid.New()

	attempts := 0
	start := time.Now()
	err := g.Call(context.Background(), keyID, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apperr.RateLimitedErr("simulated 429")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if time.Since(start) <= 0 {
		t.Fatal("expected some backoff delay to have elapsed")
	}
}

func TestGatewayCallDoesNotRetryNonRateLimited(t *testing.T) {
	g := NewGateway()
	keyID := uuid.New()

	attempts := 0
	wantErr := errors.New("boom")
	err := g.Call(context.Background(), keyID, func(ctx context.Context) error {
		attempts++
		return apperr.ExternalErr(wantErr, "upstream failure")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for non-rate-limited error, got %d", attempts)
	}
}

func TestGatewayPermitLimitsConcurrency(t *testing.T) {
	g := NewGatewayWithConcurrency(2)
	keyID := uuid.New()

	var active, maxActive int
	mu := chanMutex{ch: make(chan struct{}, 1)}
	done := make(chan struct{}, 5)

	for i := 0; i < 5; i++ {
		go func() {
			_ = g.Call(context.Background(), keyID, func(ctx context.Context) error {
				mu.lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.unlock()
				time.Sleep(20 * time.Millisecond)
				mu.lock()
				active--
				mu.unlock()
				return nil
			})
			done <- struct{}{}
		}()
	}

	for i := 0; i < 5; i++ {
		<-done
	}

	if maxActive > 2 {
		t.Fatalf("expected at most 2 concurrent calls, observed %d", maxActive)
	}
}

// chanMutex is a tiny channel-backed mutex to avoid importing sync in the
// test just for this one helper.
type chanMutex struct {
	ch chan struct{}
}

func (m *chanMutex) lock() {
	m.ch <- struct{}{}
}

func (m *chanMutex) unlock() {
	<-m.ch
}
