// Package classify extracts medical entities from free text and derives the
// summary and keyword signals used to enrich harvested references.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/sources"
)

// Entity categories and types returned by the extraction service.
const (
	CategoryMedicalCondition = "MEDICAL_CONDITION"
	CategoryTreatment        = "TREATMENT"
	TypeDiagnosisName        = "DX_NAME"
)

// Entity is one extracted medical entity.
type Entity struct {
	Text     string  `json:"text"`
	Category string  `json:"category"`
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
}

// EntityExtractor detects medical entities in free text. Implementations
// wrap an external NLP capability.
type EntityExtractor interface {
	DetectEntities(ctx context.Context, text string) ([]Entity, error)
}

// ClientConfig configures the HTTP entity-extraction client.
type ClientConfig struct {
	// Endpoint is the extraction API endpoint URL.
	Endpoint string

	// APIKey authenticates with the extraction service.
	APIKey string

	// Timeout is the per-call timeout.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per request,
	// including the first.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration
}

// Client is an HTTP client for a medical entity-extraction service.
type Client struct {
	config     ClientConfig
	httpClient *sources.HTTPClient
}

var _ EntityExtractor = (*Client)(nil)

// NewClient creates a new entity-extraction client.
func NewClient(cfg ClientConfig, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpCfg := sources.HTTPClientConfig{
		Timeout:      cfg.Timeout,
		MaxAttempts:  cfg.MaxAttempts,
		RetryDelay:   cfg.RetryDelay,
		RateLimit:    20,
		BurstSize:    20,
		APIKey:       cfg.APIKey,
		APIKeyHeader: "X-API-Key",
	}

	return &Client{
		config:     cfg,
		httpClient: sources.NewHTTPClient(httpCfg, logger),
	}
}

// NewClientWithHTTPClient creates a client with a custom HTTP client,
// useful for testing with mock servers.
func NewClientWithHTTPClient(cfg ClientConfig, httpClient *sources.HTTPClient) *Client {
	return &Client{config: cfg, httpClient: httpClient}
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Entities []Entity `json:"entities"`
}

// DetectEntities submits text to the extraction service and returns the
// detected entities.
func (c *Client) DetectEntities(ctx context.Context, text string) ([]Entity, error) {
	payload, err := json.Marshal(detectRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewExternalAPIError("entity-extraction", resp.StatusCode, string(body), nil)
	}

	var result detectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return result.Entities, nil
}
