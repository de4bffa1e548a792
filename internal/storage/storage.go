// Package storage implements the object store (ObjectStore) that backs every
// generated image, synthesized audio clip, and rendered chapter video. Keys
// are namespaced by purpose, partitioned by owner and day (DatedKey), and
// never carry a host or signature — presigned
// read URLs are computed fresh on every read and never persisted to the
// database, so a bucket migration never invalidates a stored record.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	uploadTimeout   = 180 * time.Second
	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Purpose namespaces a key under the bucket so listing and lifecycle rules
// can target one material kind at a time.
type Purpose string

const (
	PurposeImages Purpose = "images"
	PurposeAudio  Purpose = "audio"
	PurposeVideos Purpose = "videos"
	PurposeBGM    Purpose = "bgm"
)

// Store is the Supabase-style HTTP object store: signed PUT/GET over a
// storage bucket, with retry-with-backoff around every call.
type Store struct {
	url        string
	serviceKey string
	Bucket     string
	client     *http.Client
}

func New(url, serviceKey, bucket string) *Store {
	return &Store{
		url:        url,
		serviceKey: serviceKey,
		Bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// DatedKey builds the key every stored artifact (generated image,
// synthesized audio, concatenated chapter video) is actually saved under:
// {purpose}/<owner_id>/<YYYYMMDD>/<uuid>.<ext> (§6.3). The key is not
// content-addressed — two renders of the same sentence produce
// two distinct objects, partitioned by owner and day rather than deduped by
// hash, which is what lets a listing by owner or by day work directly
// against the bucket layout.
func DatedKey(purpose Purpose, ownerID uuid.UUID, ext string) string {
	day := time.Now().UTC().Format("20060102")
	return path.Join(string(purpose), ownerID.String(), day, uuid.New().String()+"."+strings.TrimPrefix(ext, "."))
}

// Put uploads data under key, retrying transient failures with exponential
// backoff. Idempotent: re-uploading the same key with the same bytes is a
// no-op on the far end (x-upsert).
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[storage] put retry %d/%d for %s (waiting %v)...", attempt, maxRetries, key, delay)
			select {
			case <-ctx.Done():
				return fmt.Errorf("put cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		putCtx, cancel := context.WithTimeout(ctx, uploadTimeout)

		req, err := http.NewRequestWithContext(putCtx, "PUT", url, bytes.NewReader(data))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to put: %w", err)
			if isRetryableError(err) {
				log.Printf("[storage] put attempt %d failed (retryable): %v", attempt+1, err)
				continue
			}
			return lastErr
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}

		lastErr = fmt.Errorf("put failed with status %d: %s", resp.StatusCode, string(body))

		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[storage] put attempt %d returned status %d (retryable)", attempt+1, resp.StatusCode)
			continue
		}

		return lastErr
	}

	return fmt.Errorf("put failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Get downloads the bytes stored at key, retrying transient failures.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt)
			log.Printf("[storage] get retry %d/%d for %s (waiting %v)...", attempt, maxRetries, key, delay)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("get cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		getCtx, cancel := context.WithTimeout(ctx, downloadTimeout)

		req, err := http.NewRequestWithContext(getCtx, "GET", url, nil)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			cancel()
			lastErr = fmt.Errorf("failed to get: %w", err)
			if isRetryableError(err) {
				log.Printf("[storage] get attempt %d failed (retryable): %v", attempt+1, err)
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusOK {
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if err != nil {
				lastErr = fmt.Errorf("failed to read body: %w", err)
				continue
			}
			return data, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()

		lastErr = fmt.Errorf("get failed with status %d: %s", resp.StatusCode, string(body))

		if isRetryableStatus(resp.StatusCode) {
			log.Printf("[storage] get attempt %d returned status %d (retryable)", attempt+1, resp.StatusCode)
			continue
		}

		return nil, lastErr
	}

	return nil, fmt.Errorf("get failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Delete removes the object at key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	url := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.Bucket, key)

	req, err := http.NewRequestWithContext(ctx, "DELETE", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("delete failed with status %d: %s", resp.StatusCode, string(body))
}

// List returns every key under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/list/%s", s.url, s.Bucket)

	body, err := json.Marshal(map[string]interface{}{"prefix": prefix})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = path.Join(prefix, e.Name)
	}
	return names, nil
}

// PresignRead returns a time-limited signed URL for key, computed fresh on
// every call — never cached, never stored alongside the record that
// references the key.
func (s *Store) PresignRead(ctx context.Context, key string, expiresIn int) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.Bucket, key)

	body := fmt.Sprintf(`{"expiresIn": %d}`, expiresIn)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBufferString(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to presign: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("presign failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse presign response: %w", err)
	}

	return s.url + result.SignedURL, nil
}

func retryDelay(attempt int) time.Duration {
	delay := float64(baseRetryDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "broken pipe")
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
