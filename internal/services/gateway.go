// Package services implements the ProviderGateway and the capability
// adapters (chat completion, image generation, transcription, subtitle
// correction, subtitle rendering, compositing, and optional motion) that sit
// behind it.
//
// ProviderGateway presents one uniform surface —
// {chat_completion, image, tts} — over several provider variants
// (OpenAICompatible, DeepSeek, Volcengine, Custom, Siliconflow all speak the
// OpenAI wire protocol via go-openai with a swapped base URL; Gemini-image
// is the one genuinely different wire format and goes through the genai
// SDK instead). Every call is gated by a per-API-key concurrency permit and
// retried on 429 with exponential backoff and jitter, grounded in
// custom_provider.py's per-key asyncio.Semaphore and the worker's
// withSemaphore helper.
package services

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/inkframe/inkframe/internal/apperr"
	"github.com/google/uuid"
)

const (
	defaultKeyConcurrency = 5
	gatewayBaseDelay      = 1 * time.Second
	gatewayMaxDelay       = 20 * time.Second
	gatewayMaxAttempts    = 5
)

// Gateway owns one concurrency permit per API key and the 429-backoff loop
// shared by every capability call.
type Gateway struct {
	mu       sync.Mutex
	permits  map[uuid.UUID]chan struct{}
	capacity int
}

func NewGateway() *Gateway {
	return &Gateway{
		permits:  make(map[uuid.UUID]chan struct{}),
		capacity: defaultKeyConcurrency,
	}
}

// NewGatewayWithConcurrency overrides the default per-key concurrency limit.
func NewGatewayWithConcurrency(concurrency int) *Gateway {
	if concurrency <= 0 {
		concurrency = defaultKeyConcurrency
	}
	return &Gateway{
		permits:  make(map[uuid.UUID]chan struct{}),
		capacity: concurrency,
	}
}

func (g *Gateway) permitFor(keyID uuid.UUID) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.permits[keyID]
	if !ok {
		ch = make(chan struct{}, g.capacity)
		g.permits[keyID] = ch
	}
	return ch
}

// Call runs fn under keyID's concurrency permit, retrying a RateLimited
// apperr up to gatewayMaxAttempts times with backoff
// min(base*2^attempt + U(0, 0.5s), 20s).
func (g *Gateway) Call(ctx context.Context, keyID uuid.UUID, fn func(ctx context.Context) error) error {
	permit := g.permitFor(keyID)

	select {
	case permit <- struct{}{}:
	case <-ctx.Done():
		return apperr.CancelledErr()
	}
	defer func() { <-permit }()

	var lastErr error
	for attempt := 0; attempt < gatewayMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return apperr.CancelledErr()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if apperr.KindOf(err) != apperr.RateLimited {
			return err
		}
	}

	return apperr.RateLimitedErr("exhausted %d attempts: %v", gatewayMaxAttempts, lastErr)
}

// backoffDelay implements min(base*2^attempt + U(0, 0.5s), 20s).
func backoffDelay(attempt int) time.Duration {
	exp := float64(gatewayBaseDelay) * math.Pow(2, float64(attempt))
	jitter := 0.5 * float64(time.Second) * rand.Float64()
	delay := exp + jitter
	if delay > float64(gatewayMaxDelay) {
		delay = float64(gatewayMaxDelay)
	}
	return time.Duration(delay)
}

// classifyHTTPError maps a wire-level failure into an apperr Kind so the
// gateway's retry loop and the callers above it can branch without
// string-matching provider-specific errors.
func classifyHTTPError(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	switch {
	case statusCode == 429:
		return apperr.RateLimitedErr("rate limited: %v", err)
	case statusCode == 401 || statusCode == 403:
		return apperr.Wrap(apperr.Auth, "provider authentication failed", err)
	case statusCode >= 500 || statusCode == 0:
		return apperr.TransportErr(err, "provider transport error")
	case statusCode >= 400:
		return apperr.ExternalErr(err, "provider rejected request")
	default:
		return apperr.ExternalErr(err, "provider call failed")
	}
}

// looksRateLimited is used by SDK paths (genai, go-openai) that surface 429s
// as plain errors rather than a typed status code.
func looksRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests")
}
