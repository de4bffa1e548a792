package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/inkframe/inkframe/internal/apperr"
	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// MotionProvider
//
// An optional capability SentenceSynthesizer can use in place of
// Compositor's zoompan still-image motion: given the sentence's generated
// image and its image_prompt, produce a short AI-generated video clip to use
// as the visual track instead. Disabled providers are simply not
// constructed — the synthesizer falls back to zoompan when it has none.
// ---------------------------------------------------------------------------

type MotionProvider interface {
	GenerateVideo(ctx context.Context, prompt string, imageData []byte, imageMIMEType string) ([]byte, error)
}

// ---------------------------------------------------------------------------
// Veo motion provider
// ---------------------------------------------------------------------------

const (
	defaultVeoModel    = "veo-3.1-generate-preview"
	veoPollInterval    = 10 * time.Second
	veoMaxPollDuration = 5 * time.Minute
)

// VeoMotionProvider generates image-to-video motion via Google's Veo model.
type VeoMotionProvider struct {
	apiKey string
	model  string
}

func NewVeoMotionProvider(apiKey, model string) *VeoMotionProvider {
	if model == "" {
		model = defaultVeoModel
	}
	return &VeoMotionProvider{apiKey: apiKey, model: model}
}

func buildVeoPrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Visual style direction: match the illustration style of the input image exactly. Do not alter the art style, color grading, or rendering quality.

Motion direction: subtle, natural movement only — gentle drift, soft ambient motion, a slow push-in. Avoid sudden or exaggerated movement, morphing, or style drift between frames.

No generated audio or dialogue. Silent video only.`, rawPrompt)
}

// GenerateVideo generates a short video with imageData as the first frame,
// polling the async Veo operation until it completes or times out.
func (s *VeoMotionProvider) GenerateVideo(ctx context.Context, prompt string, imageData []byte, imageMIMEType string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.TransportErr(err, "failed to create genai client")
	}

	enhancedPrompt := buildVeoPrompt(prompt)
	firstFrame := &genai.Image{ImageBytes: imageData, MIMEType: imageMIMEType}
	config := &genai.GenerateVideosConfig{
		AspectRatio:      "9:16",
		Resolution:       "1080p",
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
	}

	operation, err := client.Models.GenerateVideos(ctx, s.model, enhancedPrompt, firstFrame, config)
	if err != nil {
		return nil, apperr.ExternalErr(err, "failed to start veo video generation")
	}

	deadline := time.Now().Add(veoMaxPollDuration)
	pollCount := 0
	for !operation.Done {
		if time.Now().After(deadline) {
			return nil, apperr.ExternalErr(fmt.Errorf("timeout"), "veo video generation timed out after %v", veoMaxPollDuration)
		}
		select {
		case <-ctx.Done():
			return nil, apperr.CancelledErr()
		case <-time.After(veoPollInterval):
		}

		pollCount++
		operation, err = client.Operations.GetVideosOperation(ctx, operation, nil)
		if err != nil {
			return nil, apperr.ExternalErr(err, "failed to poll veo operation (attempt %d)", pollCount)
		}
	}

	if operation.Error != nil && len(operation.Error) > 0 {
		errJSON, _ := json.Marshal(operation.Error)
		return nil, apperr.ExternalErr(fmt.Errorf("%s", errJSON), "veo operation failed")
	}
	if operation.Response == nil {
		return nil, apperr.ExternalErr(fmt.Errorf("no response"), "veo operation completed with no response")
	}
	if operation.Response.RAIMediaFilteredCount > 0 {
		reasons := "unknown"
		if len(operation.Response.RAIMediaFilteredReasons) > 0 {
			reasons = strings.Join(operation.Response.RAIMediaFilteredReasons, ", ")
		}
		return nil, apperr.BusinessRuleErr("veo blocked the video by safety filter: %s", reasons)
	}
	if len(operation.Response.GeneratedVideos) == 0 {
		return nil, apperr.ExternalErr(fmt.Errorf("no videos"), "veo returned no generated videos")
	}

	video := operation.Response.GeneratedVideos[0]
	if video.Video == nil {
		return nil, apperr.ExternalErr(fmt.Errorf("nil video"), "veo generated video object is nil")
	}

	downloadURI := genai.NewDownloadURIFromVideo(video.Video)
	videoBytes, err := client.Files.Download(ctx, downloadURI, nil)
	if err != nil {
		return nil, apperr.ExternalErr(err, "failed to download veo video")
	}
	if len(videoBytes) == 0 {
		return nil, apperr.ExternalErr(fmt.Errorf("empty video"), "veo download returned 0 bytes")
	}

	log.Printf("[motion:veo] generated %d bytes after %d polls", len(videoBytes), pollCount)
	return videoBytes, nil
}

// ---------------------------------------------------------------------------
// xAI motion provider
// ---------------------------------------------------------------------------

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiInitialDelay      = 15 * time.Second
	xaiPollMinInterval   = 5 * time.Second
	xaiPollMaxInterval   = 20 * time.Second
	xaiPollBackoffFactor = 1.5
	xaiMaxPollDuration   = 5 * time.Minute
	xaiDefaultDuration   = 12
	xaiDefaultAspect     = "9:16"
	xaiDefaultResolution = "720p"
)

// XAIMotionProvider generates image-to-video motion via xAI's Grok Imagine
// Video API: submit → poll by request id → download.
type XAIMotionProvider struct {
	apiKey     string
	httpClient *http.Client
}

func NewXAIMotionProvider(apiKey string) *XAIMotionProvider {
	return &XAIMotionProvider{apiKey: apiKey, httpClient: &http.Client{Timeout: 30 * time.Second}}
}

type xaiGenerationRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model"`
	Image       *xaiImageInput `json:"image,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
}

type xaiImageInput struct {
	URL string `json:"url"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL      string `json:"url"`
	Duration int    `json:"duration"`
}

func buildXAIVideoPrompt(rawPrompt string) string {
	return fmt.Sprintf(`%s

Maintain visual consistency with the input image throughout the video. Preserve the color palette, lighting, and artistic quality from the source frame.

Generate natural, cinematic movement that brings the scene to life. Silent video only — no generated audio or dialogue.`, rawPrompt)
}

// xAI's image-to-video endpoint takes a publicly reachable image URL rather
// than inline bytes, so this provider needs the ObjectStore-presigned URL,
// not raw image bytes — it implements a slightly different shape than
// MotionProvider and is adapted by the caller.
func (s *XAIMotionProvider) GenerateVideoFromURL(ctx context.Context, prompt, imageURL string, durationSec int) ([]byte, error) {
	enhancedPrompt := buildXAIVideoPrompt(prompt)

	if durationSec <= 0 {
		durationSec = xaiDefaultDuration
	}

	reqBody := xaiGenerationRequest{
		Prompt:      enhancedPrompt,
		Model:       xaiVideoModel,
		Duration:    durationSec,
		AspectRatio: xaiDefaultAspect,
		Resolution:  xaiDefaultResolution,
	}
	if imageURL != "" {
		reqBody.Image = &xaiImageInput{URL: imageURL}
	}

	requestID, err := s.submitGeneration(ctx, reqBody)
	if err != nil {
		return nil, apperr.ExternalErr(err, "failed to submit xai video generation")
	}

	result, err := s.pollForResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	videoBytes, err := s.downloadVideo(ctx, result.Video.URL)
	if err != nil {
		return nil, apperr.ExternalErr(err, "failed to download xai video")
	}
	if len(videoBytes) == 0 {
		return nil, apperr.ExternalErr(fmt.Errorf("empty video"), "xai download returned 0 bytes")
	}

	log.Printf("[motion:xai] generated %d bytes (request_id=%s)", len(videoBytes), requestID)
	return videoBytes, nil
}

func (s *XAIMotionProvider) submitGeneration(ctx context.Context, reqBody xaiGenerationRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", xaiBaseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("xai returned status %d: %s", resp.StatusCode, string(body))
	}

	var genResp xaiGenerationResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("failed to parse generation response: %w", err)
	}
	if genResp.RequestID == "" {
		return "", fmt.Errorf("no request_id in generation response")
	}
	return genResp.RequestID, nil
}

func (s *XAIMotionProvider) pollForResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	deadline := time.Now().Add(xaiMaxPollDuration)
	pollCount := 0
	currentInterval := xaiPollMinInterval

	select {
	case <-ctx.Done():
		return nil, apperr.CancelledErr()
	case <-time.After(xaiInitialDelay):
	}

	for {
		if time.Now().After(deadline) {
			return nil, apperr.ExternalErr(fmt.Errorf("timeout"), "xai video generation timed out after %v (request_id=%s)", xaiMaxPollDuration, requestID)
		}
		pollCount++

		result, err := s.getVideoResult(ctx, requestID)
		if err != nil {
			return nil, apperr.ExternalErr(err, "failed to poll xai video result (attempt %d)", pollCount)
		}

		if result.Video != nil && result.Video.URL != "" {
			return result, nil
		}

		switch result.Status {
		case "failed":
			errMsg := result.Error
			if errMsg == "" {
				errMsg = "unknown error"
			}
			return nil, apperr.ExternalErr(fmt.Errorf("%s", errMsg), "xai video generation failed (request_id=%s)", requestID)
		default:
			select {
			case <-ctx.Done():
				return nil, apperr.CancelledErr()
			case <-time.After(currentInterval):
			}
			next := time.Duration(float64(currentInterval) * xaiPollBackoffFactor)
			if next > xaiPollMaxInterval {
				next = xaiPollMaxInterval
			}
			currentInterval = next
		}
	}
}

func (s *XAIMotionProvider) getVideoResult(ctx context.Context, requestID string) (*xaiVideoResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/videos/%s", xaiBaseURL, requestID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("xai returned status %d: %s", resp.StatusCode, string(body))
	}

	var result xaiVideoResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse video result: %w", err)
	}
	return &result, nil
}

func (s *XAIMotionProvider) downloadVideo(ctx context.Context, videoURL string) ([]byte, error) {
	downloadClient := &http.Client{Timeout: 120 * time.Second}
	req, err := http.NewRequestWithContext(ctx, "GET", videoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("video download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
