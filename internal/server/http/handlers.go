package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/medscribe/reference-harvester/internal/domain"
)

// Search and validation constants.
const (
	defaultSearchSize  = 10
	maxSearchSize      = 100
	maxQueryLength     = 500
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

var validate = validator.New()

// startHarvestRequest is the optional JSON request body for triggering a
// harvest. Omitted fields fall back to configured defaults.
type startHarvestRequest struct {
	LiteratureQuery string `json:"literature_query,omitempty"`
	TrialsQuery     string `json:"trials_query,omitempty"`
	MaxPerSource    int    `json:"max_per_source,omitempty" validate:"omitempty,min=1,max=200"`
}

// generateInsightsRequest is the JSON request body for insight generation.
type generateInsightsRequest struct {
	PatientID  string `json:"patient_id" validate:"required,max=128"`
	VisitID    string `json:"visit_id" validate:"required,max=128"`
	Transcript string `json:"transcript" validate:"required"`
}

// startHarvest handles POST /api/v1/harvest.
// It starts the harvest workflow and returns 202 with the workflow IDs.
func (s *Server) startHarvest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req := startHarvestRequest{
		LiteratureQuery: s.harvest.LiteratureQuery,
		TrialsQuery:     s.harvest.TrialsQuery,
		MaxPerSource:    s.harvest.MaxPerSource,
	}

	if r.ContentLength != 0 {
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON request body")
				return
			}
		}
	}

	req.LiteratureQuery = strings.TrimSpace(req.LiteratureQuery)
	req.TrialsQuery = strings.TrimSpace(req.TrialsQuery)
	if req.LiteratureQuery == "" {
		req.LiteratureQuery = domain.DefaultKeyword
	}
	if req.TrialsQuery == "" {
		req.TrialsQuery = domain.DefaultKeyword
	}
	if len(req.LiteratureQuery) > maxQueryLength || len(req.TrialsQuery) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query must be at most 500 characters")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "max_per_source must be between 1 and 200")
		return
	}

	workflowID, runID, err := s.harvestStarter.StartHarvestWorkflow(ctx, req.LiteratureQuery, req.TrialsQuery, req.MaxPerSource)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to start harvest workflow")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, startHarvestResponse{
		WorkflowID:      workflowID,
		RunID:           runID,
		Status:          "started",
		LiteratureQuery: req.LiteratureQuery,
		TrialsQuery:     req.TrialsQuery,
		Message:         "harvest started",
	})
}

// searchReferences handles GET /api/v1/references/search.
// Query parameters: q (default "allergy"), size (default 10, max 100).
func (s *Server) searchReferences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		query = domain.DefaultKeyword
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "q must be at most 500 characters")
		return
	}

	size := defaultSearchSize
	if sizeParam := r.URL.Query().Get("size"); sizeParam != "" {
		parsed, err := strconv.Atoi(sizeParam)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		size = parsed
	}
	if size > maxSearchSize {
		size = maxSearchSize
	}

	refs, err := s.referenceRepo.Search(ctx, query, size)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("reference search failed")
		writeDomainError(w, err)
		return
	}

	results := make([]referenceResponse, len(refs))
	for i, ref := range refs {
		results[i] = domainReferenceToResponse(ref)
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Results: results,
		Count:   len(results),
	})
}

// generateInsights handles POST /api/v1/insights.
// It runs the full insight-generation flow synchronously and returns the
// stored record.
func (s *Server) generateInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if s.generator == nil {
		writeError(w, http.StatusServiceUnavailable, "insight generation is not configured")
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req generateInsightsRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "patient_id, visit_id and transcript are required")
		return
	}

	insight, err := s.generator.Generate(ctx, req.PatientID, req.VisitID, req.Transcript)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("patient_id", req.PatientID).
			Str("visit_id", req.VisitID).
			Msg("insight generation failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, domainInsightToResponse(insight))
}

// getInsights handles GET /api/v1/insights/{patientID}/{visitID}.
// It returns the stored insight record for a visit, if one exists and has
// not expired.
func (s *Server) getInsights(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	patientID := chi.URLParam(r, "patientID")
	visitID := chi.URLParam(r, "visitID")

	insight, err := s.insightRepo.Get(ctx, patientID, visitID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, domainInsightToResponse(insight))
}
