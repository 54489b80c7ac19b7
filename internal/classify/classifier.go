package classify

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// DefaultMaxTextLength is the truncation bound applied before submitting
// text to the extraction service, matching its payload limit.
const DefaultMaxTextLength = 10000

// Classifier derives summary and keyword signals from free text using an
// entity extractor. Extraction failures are swallowed: summaries degrade to
// the unavailable sentinel and keyword sets degrade to empty, so a broken
// extraction service never aborts a harvest.
type Classifier struct {
	extractor     EntityExtractor
	maxTextLength int
	logger        zerolog.Logger
}

// NewClassifier creates a classifier backed by the given extractor.
// maxTextLength bounds the text submitted per call; zero or negative values
// use DefaultMaxTextLength.
func NewClassifier(extractor EntityExtractor, maxTextLength int, logger zerolog.Logger) *Classifier {
	if maxTextLength <= 0 {
		maxTextLength = DefaultMaxTextLength
	}
	return &Classifier{
		extractor:     extractor,
		maxTextLength: maxTextLength,
		logger:        logger.With().Str("component", "classifier").Logger(),
	}
}

// ExtractSummary concatenates the extracted medical-condition and treatment
// entities, space-joined. Returns domain.SummaryUnavailable if extraction
// fails or yields no matching entities.
func (c *Classifier) ExtractSummary(ctx context.Context, text string) string {
	entities, err := c.extractor.DetectEntities(ctx, c.truncate(text))
	if err != nil {
		c.logger.Warn().Err(err).Msg("entity extraction failed for summary")
		return domain.SummaryUnavailable
	}

	var parts []string
	for _, e := range entities {
		if e.Category == CategoryMedicalCondition || e.Category == CategoryTreatment {
			if e.Text != "" {
				parts = append(parts, e.Text)
			}
		}
	}

	if len(parts) == 0 {
		return domain.SummaryUnavailable
	}
	return strings.Join(parts, " ")
}

// ExtractKeywords collects entities whose category is medical condition or
// whose fine-grained type is diagnosis name, lower-cased with set semantics.
// Returns an empty set on failure; the error is logged, not propagated.
func (c *Classifier) ExtractKeywords(ctx context.Context, text string) []string {
	entities, err := c.extractor.DetectEntities(ctx, c.truncate(text))
	if err != nil {
		c.logger.Warn().Err(err).Msg("entity extraction failed for keywords")
		return nil
	}

	var keywords []string
	for _, e := range entities {
		if e.Category == CategoryMedicalCondition || e.Type == TypeDiagnosisName {
			keywords = append(keywords, e.Text)
		}
	}

	return domain.NormalizeKeywords(keywords)
}

// truncate bounds text to the extraction service's payload limit, cutting
// on a rune boundary so a multi-byte character is never split.
func (c *Classifier) truncate(text string) string {
	if len(text) <= c.maxTextLength {
		return text
	}
	cut := c.maxTextLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
