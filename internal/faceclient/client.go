// Package faceclient calls the facial recognition microservice. The service
// owns the matching threshold; this client only maps its answers onto the
// engine's error taxonomy.
package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"presenca/internal/apperr"
)

// EncodeResult is the enrollment answer: a base64 embedding plus a nonce
// tying the three enrollment shots together.
type EncodeResult struct {
	Embedding string `json:"embedding"`
	Nonce     string `json:"nonce"`
}

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Skip short-circuits every call with canned answers
// for dev environments without the facial service running.
func New(baseURL, apiKey string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Encode submits the enrollment images and returns the embedding. Used by
// the student registration path, never by totems.
func (c *Client) Encode(ctx context.Context, imageURLs []string) (EncodeResult, error) {
	if c.Skip {
		return EncodeResult{Embedding: "bW9jay1lbWJlZGRpbmc=", Nonce: "mock-nonce"}, nil
	}
	if len(imageURLs) == 0 {
		return EncodeResult{}, apperr.Validation("at least one enrollment image is required")
	}

	body, _ := json.Marshal(map[string]any{"image_urls": imageURLs})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/encode", bytes.NewReader(body))
	if err != nil {
		return EncodeResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-facial-api-key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return EncodeResult{}, apperr.Auth("face service rejected the api key")
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return EncodeResult{}, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out EncodeResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return EncodeResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Embedding == "" {
		return EncodeResult{}, apperr.NotRecognized("no face detected in enrollment images")
	}
	return out, nil
}

// Recognize resolves a capture to a student id, matching only against the
// students associated with the room. Returns a not-recognized error when no
// gallery match clears the service threshold.
func (c *Client) Recognize(ctx context.Context, roomID, imageURL string) (string, error) {
	if c.Skip {
		return "mock-student", nil
	}
	if imageURL == "" {
		return "", apperr.Validation("image url is required")
	}

	body, _ := json.Marshal(map[string]string{"room": roomID, "image_url": imageURL})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/recognize", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-facial-api-key", c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return "", apperr.Auth("face service rejected the api key")
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest:
		return "", apperr.NotRecognized("no student matched the capture")
	case resp.StatusCode >= 300:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		StudentID string `json:"studentId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.StudentID == "" {
		return "", apperr.NotRecognized("no student matched the capture")
	}
	return out.StudentID, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
