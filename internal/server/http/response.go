package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// Response types for JSON serialization.

type startHarvestResponse struct {
	WorkflowID      string `json:"workflow_id"`
	RunID           string `json:"run_id"`
	Status          string `json:"status"`
	LiteratureQuery string `json:"literature_query"`
	TrialsQuery     string `json:"trials_query"`
	Message         string `json:"message"`
}

type referenceResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Summary         string    `json:"summary"`
	SourceURL       string    `json:"source_url,omitempty"`
	Keywords        []string  `json:"keywords"`
	PublicationDate time.Time `json:"publication_date"`
	Confidence      float64   `json:"confidence"`
	RelevanceTag    string    `json:"relevance_tag"`
	Source          string    `json:"source"`
}

type searchResponse struct {
	Results []referenceResponse `json:"results"`
	Count   int                 `json:"count"`
}

type insightItemResponse struct {
	Title           string `json:"title"`
	Summary         string `json:"summary"`
	SourceID        string `json:"source_id,omitempty"`
	ConfidenceLabel string `json:"confidence_label"`
	RelevanceTag    string `json:"relevance_tag,omitempty"`
}

type insightReferenceResponse struct {
	SourceID string `json:"source_id"`
	Title    string `json:"title"`
}

type insightResponse struct {
	PatientID  string                     `json:"patient_id"`
	VisitID    string                     `json:"visit_id"`
	Insights   []insightItemResponse      `json:"insights"`
	References []insightReferenceResponse `json:"references"`
	CreatedAt  time.Time                  `json:"created_at"`
	ExpiresAt  time.Time                  `json:"expires_at"`
}

// Converter functions

func domainReferenceToResponse(ref domain.NormalizedReference) referenceResponse {
	keywords := ref.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return referenceResponse{
		ID:              ref.ID,
		Title:           ref.Title,
		Summary:         ref.Summary,
		SourceURL:       ref.SourceURL,
		Keywords:        keywords,
		PublicationDate: ref.PublicationDate,
		Confidence:      ref.Confidence,
		RelevanceTag:    ref.RelevanceTag,
		Source:          string(ref.Source),
	}
}

func domainInsightToResponse(insight *domain.PatientInsight) insightResponse {
	items := make([]insightItemResponse, len(insight.Insights))
	for i, item := range insight.Insights {
		items[i] = insightItemResponse{
			Title:           item.Title,
			Summary:         item.Summary,
			SourceID:        item.SourceID,
			ConfidenceLabel: string(item.ConfidenceLabel),
			RelevanceTag:    item.RelevanceTag,
		}
	}
	refs := make([]insightReferenceResponse, len(insight.References))
	for i, ref := range insight.References {
		refs[i] = insightReferenceResponse{SourceID: ref.SourceID, Title: ref.Title}
	}
	return insightResponse{
		PatientID:  insight.PatientID,
		VisitID:    insight.VisitID,
		Insights:   items,
		References: refs,
		CreatedAt:  insight.CreatedAt,
		ExpiresAt:  insight.ExpiresAt,
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// writeDomainError maps domain errors to appropriate HTTP status codes and
// writes a JSON error response. Internal error details are not leaked to
// clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	case errors.Is(err, domain.ErrUnparseable):
		writeError(w, http.StatusInternalServerError, "insight generation produced an unusable response")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
