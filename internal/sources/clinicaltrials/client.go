// Package clinicaltrials implements the reference source client for the
// ClinicalTrials.gov v2 API.
package clinicaltrials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for the ClinicalTrials.gov v2 API.
	DefaultBaseURL = "https://clinicaltrials.gov/api/v2"

	// DefaultRateLimit is the default requests per second.
	DefaultRateLimit = 5.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxResults is the default page size per fetch.
	DefaultMaxResults = 20

	// MaxResultsLimit is the maximum page size accepted by the API.
	MaxResultsLimit = 1000

	// studyURLPrefix is the public URL for a study record.
	studyURLPrefix = "https://clinicaltrials.gov/study/"

	// sourceName is the human-readable name for this source.
	sourceName = "ClinicalTrials.gov"
)

// Config holds the configuration for the ClinicalTrials.gov client.
type Config struct {
	// BaseURL is the API base URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is an optional API key.
	APIKey string

	// Timeout is the request timeout. Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxAttempts is the total number of attempts per request,
	// including the first.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// MaxResults is the default page size per fetch.
	MaxResults int

	// Enabled indicates whether this source is enabled.
	Enabled bool
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
}

// Client implements the sources.ReferenceSource interface for
// ClinicalTrials.gov.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	logger     zerolog.Logger
}

// Compile-time check that Client implements ReferenceSource.
var _ sources.ReferenceSource = (*Client)(nil)

// New creates a new ClinicalTrials.gov client with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg.applyDefaults()

	httpCfg := sources.HTTPClientConfig{
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		BurstSize:   cfg.BurstSize,
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  cfg.RetryDelay,
		UserAgent:   "MedScribe-ReferenceHarvester/1.0 (mailto:support@medscribe.health)",
	}

	return &Client{
		config:     cfg,
		httpClient: sources.NewHTTPClient(httpCfg, logger),
		logger:     logger.With().Str("source", "clinicaltrials").Logger(),
	}
}

// NewWithHTTPClient creates a new client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("source", "clinicaltrials").Logger(),
	}
}

// Fetch retrieves a single page of studies matching the condition query and
// maps each to a title/date-only raw reference: the registry has no abstract
// or full-text document to offer. Any fetch-level failure is caught and
// logged, and the client returns an empty list.
func (c *Client) Fetch(ctx context.Context, params sources.FetchParams) (*sources.FetchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("clinicaltrials source is disabled")
	}

	startTime := time.Now()

	refs, err := c.fetch(ctx, params)
	if err != nil {
		c.logger.Error().Err(err).Str("query", params.Query).Msg("fetch failed, returning empty result")
		refs = nil
	}

	return &sources.FetchResult{
		References:    refs,
		Source:        domain.SourceTypeClinicalTrials,
		FetchDuration: time.Since(startTime),
	}, nil
}

func (c *Client) fetch(ctx context.Context, params sources.FetchParams) ([]domain.RawReference, error) {
	u, err := url.Parse(c.config.BaseURL + "/studies")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	pageSize := params.MaxResults
	if pageSize <= 0 {
		pageSize = c.config.MaxResults
	}
	if pageSize > MaxResultsLimit {
		pageSize = MaxResultsLimit
	}

	q := u.Query()
	q.Set("query.cond", params.Query)
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("fields", "NCTId,BriefTitle,OverallStatus,StartDate")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
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
		return nil, domain.NewExternalAPIError(sourceName, resp.StatusCode, string(body), nil)
	}

	var result StudiesResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	refs := make([]domain.RawReference, 0, len(result.Studies))
	for _, study := range result.Studies {
		ident := study.ProtocolSection.IdentificationModule
		if ident.NCTID == "" && ident.BriefTitle == "" {
			continue
		}

		ref := domain.RawReference{
			SourceID: ident.NCTID,
			Title:    ident.BriefTitle,
			URL:      studyURLPrefix + ident.NCTID,
			Source:   domain.SourceTypeClinicalTrials,
		}

		if ds := study.ProtocolSection.StatusModule.StartDateStruct; ds != nil {
			if started := parseStudyDate(ds.Date); started != nil {
				ref.Published = started
			}
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeClinicalTrials
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// parseStudyDate parses a registry date, which may be a full date
// ("2006-01-02") or a partial month date ("2006-01").
func parseStudyDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
