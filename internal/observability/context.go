package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	harvestIDKey  contextKey = "harvest_id"
	patientIDKey  contextKey = "patient_id"
	visitIDKey    contextKey = "visit_id"
	workflowIDKey contextKey = "workflow_id"
	runIDKey      contextKey = "workflow_run_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithHarvestID adds a harvest run ID to the context.
func WithHarvestID(ctx context.Context, harvestID string) context.Context {
	return context.WithValue(ctx, harvestIDKey, harvestID)
}

// HarvestIDFromContext retrieves the harvest run ID from context.
// Returns empty string if not present.
func HarvestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(harvestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithPatientVisit adds patient and visit IDs to the context.
func WithPatientVisit(ctx context.Context, patientID, visitID string) context.Context {
	ctx = context.WithValue(ctx, patientIDKey, patientID)
	ctx = context.WithValue(ctx, visitIDKey, visitID)
	return ctx
}

// PatientVisitFromContext retrieves patient and visit IDs from context.
// Returns empty strings if not present.
func PatientVisitFromContext(ctx context.Context) (patientID, visitID string) {
	if v := ctx.Value(patientIDKey); v != nil {
		if id, ok := v.(string); ok {
			patientID = id
		}
	}
	if v := ctx.Value(visitIDKey); v != nil {
		if id, ok := v.(string); ok {
			visitID = id
		}
	}
	return patientID, visitID
}

// WithWorkflow adds workflow ID and run ID to the context.
func WithWorkflow(ctx context.Context, workflowID, runID string) context.Context {
	ctx = context.WithValue(ctx, workflowIDKey, workflowID)
	ctx = context.WithValue(ctx, runIDKey, runID)
	return ctx
}

// WorkflowFromContext retrieves workflow ID and run ID from context.
// Returns empty strings if not present.
func WorkflowFromContext(ctx context.Context) (workflowID, runID string) {
	if v := ctx.Value(workflowIDKey); v != nil {
		if id, ok := v.(string); ok {
			workflowID = id
		}
	}
	if v := ctx.Value(runIDKey); v != nil {
		if id, ok := v.(string); ok {
			runID = id
		}
	}
	return workflowID, runID
}
