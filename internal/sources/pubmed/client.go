// Package pubmed implements the reference source client for the NCBI
// E-utilities API.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/sources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxResults is the default maximum results per fetch.
	DefaultMaxResults = 20

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	// articleURLPrefix is the public URL for a PubMed record.
	articleURLPrefix = "https://pubmed.ncbi.nlm.nih.gov/"

	// sourceName is the human-readable name for this source.
	sourceName = "PubMed"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	// Optional but recommended for production use.
	APIKey string

	// Timeout is the request timeout.
	// Defaults to DefaultTimeout if zero.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	// Defaults to DefaultRateLimit (3 req/sec) if zero.
	// With an API key, you can increase this to 10 req/sec.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	// Defaults to DefaultBurstSize if zero.
	BurstSize int

	// MaxAttempts is the total number of attempts per request,
	// including the first.
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay time.Duration

	// MaxResults is the default maximum results per fetch.
	// Defaults to DefaultMaxResults if zero.
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

// Client implements the sources.ReferenceSource interface for PubMed.
type Client struct {
	config     Config
	httpClient *sources.HTTPClient
	logger     zerolog.Logger
}

// Compile-time check that Client implements ReferenceSource.
var _ sources.ReferenceSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
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
		logger:     logger.With().Str("source", "pubmed").Logger(),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *sources.HTTPClient, logger zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
		logger:     logger.With().Str("source", "pubmed").Logger(),
	}
}

// Fetch queries PubMed for references matching the given parameters.
// It performs a multi-step fetch:
//  1. esearch.fcgi - retrieves PMIDs matching the query
//  2. esummary.fcgi - retrieves title and date for each PMID
//  3. efetch.fcgi - retrieves abstracts for the PMIDs
//  4. elink.fcgi + efetch db=pmc - resolves linked full text, best-effort
//
// PMIDs without a summary document are skipped. Any fetch-level failure is
// caught and logged, and the client returns an empty list; a broken source
// must never block the other sources in a harvest.
func (c *Client) Fetch(ctx context.Context, params sources.FetchParams) (*sources.FetchResult, error) {
	if !c.config.Enabled {
		return nil, errors.New("pubmed source is disabled")
	}

	startTime := time.Now()

	refs, err := c.fetch(ctx, params)
	if err != nil {
		c.logger.Error().Err(err).Str("query", params.Query).Msg("fetch failed, returning empty result")
		refs = nil
	}

	return &sources.FetchResult{
		References:    refs,
		Source:        domain.SourceTypePubMed,
		FetchDuration: time.Since(startTime),
	}, nil
}

func (c *Client) fetch(ctx context.Context, params sources.FetchParams) ([]domain.RawReference, error) {
	searchResult, err := c.esearch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("esearch failed: %w", err)
	}

	// Phrases the index cannot resolve are not an error.
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 {
		return nil, nil
	}

	pmids := searchResult.IDList.IDs
	if len(pmids) == 0 {
		return nil, nil
	}

	summaries, err := c.esummary(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("esummary failed: %w", err)
	}

	abstracts, err := c.efetchAbstracts(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("efetch failed: %w", err)
	}

	// Full-text resolution is best-effort; failures leave the map empty.
	fullTexts := c.resolveFullTexts(ctx, pmids)

	refs := make([]domain.RawReference, 0, len(pmids))
	for _, pmid := range pmids {
		doc, ok := summaries[pmid]
		if !ok || doc.Title == "" {
			c.logger.Debug().Str("pmid", pmid).Msg("no summary document, skipping")
			continue
		}

		ref := domain.RawReference{
			SourceID: pmid,
			Title:    doc.Title,
			URL:      articleURLPrefix + pmid + "/",
			Source:   domain.SourceTypePubMed,
		}

		if published := parsePubDate(doc.PubDate); published != nil {
			ref.Published = published
		} else if published := parsePubDate(doc.EPubDate); published != nil {
			ref.Published = published
		}

		if abstract, ok := abstracts[pmid]; ok && abstract != "" {
			ref.AbstractText = &abstract
		}
		if fullText, ok := fullTexts[pmid]; ok && fullText != "" {
			ref.FullText = &fullText
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// IsEnabled returns whether the source is enabled.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, params sources.FetchParams) (*ESearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmode", "xml")
	q.Set("usehistory", "n")

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	q.Set("retmax", strconv.Itoa(maxResults))

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}

	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result ESearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	return &result, nil
}

// esummary retrieves document summaries for the given PMIDs, keyed by PMID.
func (c *Client) esummary(ctx context.Context, pmids []string) (map[string]SummaryDoc, error) {
	if len(pmids) == 0 {
		return map[string]SummaryDoc{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/esummary.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "json")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result ESummaryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	return result.Result.Docs, nil
}

// efetchAbstracts retrieves abstracts for the given PMIDs, keyed by PMID.
func (c *Client) efetchAbstracts(ctx context.Context, pmids []string) (map[string]string, error) {
	if len(pmids) == 0 {
		return map[string]string{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result PubmedArticleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	abstracts := make(map[string]string, len(result.Articles))
	for _, article := range result.Articles {
		pmid := article.MedlineCitation.PMID.Value
		if pmid == "" {
			continue
		}
		abstracts[pmid] = extractAbstract(article.MedlineCitation.Article.Abstract)
	}

	return abstracts, nil
}

// resolveFullTexts resolves PMC full-text documents for the given PMIDs.
// This is best-effort: any failure is logged at debug level and the PMID is
// left without full text.
func (c *Client) resolveFullTexts(ctx context.Context, pmids []string) map[string]string {
	links, err := c.elink(ctx, pmids)
	if err != nil {
		c.logger.Debug().Err(err).Msg("elink failed, skipping full-text resolution")
		return nil
	}

	fullTexts := make(map[string]string, len(links))
	for pmid, pmcid := range links {
		text, err := c.efetchFullText(ctx, pmcid)
		if err != nil {
			c.logger.Debug().Err(err).Str("pmid", pmid).Str("pmcid", pmcid).Msg("full-text fetch failed")
			continue
		}
		if text != "" {
			fullTexts[pmid] = text
		}
	}
	return fullTexts
}

// elink maps each PMID to its linked PMC ID, where one exists.
func (c *Client) elink(ctx context.Context, pmids []string) (map[string]string, error) {
	if len(pmids) == 0 {
		return map[string]string{}, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/elink.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("dbfrom", "pubmed")
	q.Set("db", "pmc")
	q.Set("linkname", "pubmed_pmc")
	q.Set("retmode", "json")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	// One id parameter per PMID yields one linkset per PMID.
	for _, pmid := range pmids {
		q.Add("id", pmid)
	}
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result ELinkResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	links := make(map[string]string)
	for _, ls := range result.LinkSets {
		if len(ls.IDs) == 0 {
			continue
		}
		for _, db := range ls.LinkSetDBs {
			if db.DBTo == "pmc" && len(db.Links) > 0 {
				links[ls.IDs[0]] = db.Links[0]
				break
			}
		}
	}
	return links, nil
}

// efetchFullText retrieves the body text of a PMC article.
func (c *Client) efetchFullText(ctx context.Context, pmcid string) (string, error) {
	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pmc")
	q.Set("id", pmcid)
	q.Set("retmode", "xml")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.get(ctx, u.String())
	if err != nil {
		return "", err
	}

	return extractBodyText(body), nil
}

// get performs a GET request and returns the response body.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
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

	return body, nil
}

// extractAbstract concatenates multiple abstract sections into a single string.
func extractAbstract(abstract *Abstract) string {
	if abstract == nil || len(abstract.AbstractTexts) == 0 {
		return ""
	}

	// If only one section without label, return it directly
	if len(abstract.AbstractTexts) == 1 && abstract.AbstractTexts[0].Label == "" {
		return strings.TrimSpace(abstract.AbstractTexts[0].Value)
	}

	// Concatenate multiple sections with labels
	var parts []string
	for _, at := range abstract.AbstractTexts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" {
			parts = append(parts, at.Label+": "+text)
		} else {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " ")
}

// extractBodyText walks a JATS article document and collects the character
// data inside the <body> element.
func extractBodyText(doc []byte) string {
	decoder := xml.NewDecoder(strings.NewReader(string(doc)))
	var sb strings.Builder
	depth := 0

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "body" || depth > 0 {
				depth++
			}
		case xml.EndElement:
			if depth > 0 {
				depth--
			}
		case xml.CharData:
			if depth > 0 {
				text := strings.TrimSpace(string(t))
				if text != "" {
					if sb.Len() > 0 {
						sb.WriteByte(' ')
					}
					sb.WriteString(text)
				}
			}
		}
	}

	return sb.String()
}

// monthNames maps lowercase month name strings to time.Month.
var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parsePubDate parses an esummary publication date such as "2023 Jan 15",
// "2023 Jan", or "2023". Returns nil when no year can be extracted.
func parsePubDate(s string) *time.Time {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}

	year, err := strconv.Atoi(strings.Split(fields[0], "-")[0])
	if err != nil {
		return nil
	}

	month := time.January
	if len(fields) > 1 {
		if m, ok := monthNames[strings.ToLower(fields[1])[:min(3, len(fields[1]))]]; ok {
			month = m
		}
	}

	day := 1
	if len(fields) > 2 {
		if d, err := strconv.Atoi(fields[2]); err == nil && d >= 1 && d <= 31 {
			day = d
		}
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}
