// Package riskml talks to the externally hosted fraud classifier. The model
// is a black box: it consumes a feature vector and returns a probability.
// The service is optional; an unconfigured client reports itself disabled
// and the scoring engine proceeds rule-only.
package riskml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fraudwatch/internal/scoring"
)

// ErrDisabled is returned when the classifier endpoint is not configured.
var ErrDisabled = errors.New("risk classifier disabled")

// Config holds classifier service parameters.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements scoring.Classifier against the classifier service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient constructs a Client if the supplied configuration is valid.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, ErrDisabled
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
	}, nil
}

// Enabled reports whether the client can make outbound calls.
func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type predictRequest struct {
	Features scoring.Features `json:"features"`
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
}

// PredictProbability requests a fraud probability for the feature vector.
func (c *Client) PredictProbability(ctx context.Context, features scoring.Features) (float64, error) {
	if c == nil || !c.Enabled() {
		return 0, ErrDisabled
	}

	body, err := json.Marshal(predictRequest{Features: features})
	if err != nil {
		return 0, fmt.Errorf("marshal predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("classifier status %d", resp.StatusCode)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode classifier response: %w", err)
	}
	if decoded.Probability == nil {
		return 0, errors.New("classifier response missing probability")
	}
	return *decoded.Probability, nil
}
