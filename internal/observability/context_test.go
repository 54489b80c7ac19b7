package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestHarvestIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, HarvestIDFromContext(ctx))

	ctx = WithHarvestID(ctx, "harvest-abc")
	assert.Equal(t, "harvest-abc", HarvestIDFromContext(ctx))
}

func TestPatientVisitContext(t *testing.T) {
	ctx := context.Background()
	patientID, visitID := PatientVisitFromContext(ctx)
	assert.Empty(t, patientID)
	assert.Empty(t, visitID)

	ctx = WithPatientVisit(ctx, "patient-1", "visit-2")
	patientID, visitID = PatientVisitFromContext(ctx)
	assert.Equal(t, "patient-1", patientID)
	assert.Equal(t, "visit-2", visitID)
}

func TestWorkflowContext(t *testing.T) {
	ctx := context.Background()
	workflowID, runID := WorkflowFromContext(ctx)
	assert.Empty(t, workflowID)
	assert.Empty(t, runID)

	ctx = WithWorkflow(ctx, "wf-1", "run-1")
	workflowID, runID = WorkflowFromContext(ctx)
	assert.Equal(t, "wf-1", workflowID)
	assert.Equal(t, "run-1", runID)
}
