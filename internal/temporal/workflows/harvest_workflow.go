// Package workflows contains the Temporal workflow definitions for the
// reference harvester.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/medscribe/reference-harvester/internal/events"
	"github.com/medscribe/reference-harvester/internal/temporal/activities"
)

// HarvestWorkflowInput is the input for the harvest workflow. It mirrors
// temporal.HarvestWorkflowInput field-for-field; the JSON wire shape is what
// matters to Temporal's payload converter.
type HarvestWorkflowInput struct {
	// LiteratureQuery is the literature search term.
	LiteratureQuery string `json:"literature_query"`

	// TrialsQuery is the clinical-trials condition term.
	TrialsQuery string `json:"trials_query"`

	// MaxPerSource bounds results fetched from each source.
	MaxPerSource int `json:"max_per_source"`
}

// HarvestWorkflowResult is the result of a harvest workflow run.
type HarvestWorkflowResult struct {
	// ReferencesStored is the number of references written by this run.
	ReferencesStored int `json:"references_stored"`

	// ReferencesPurged is the number of expired reference rows removed.
	ReferencesPurged int64 `json:"references_purged"`

	// InsightsPurged is the number of expired insight rows removed.
	InsightsPurged int64 `json:"insights_purged"`
}

// HarvestWorkflow runs one reference harvest:
//
//  1. Harvest: fetch from all sources, enrich, score, and store.
//  2. Purge: remove rows whose retention window has elapsed (non-fatal).
//  3. Publish: emit a completion or failure event (non-fatal).
//
// Only the harvest stage can fail the workflow; purge and publish failures
// are logged and absorbed.
func HarvestWorkflow(ctx workflow.Context, input HarvestWorkflowInput) (*HarvestWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	harvestID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("starting harvest workflow",
		"literatureQuery", input.LiteratureQuery,
		"trialsQuery", input.TrialsQuery,
	)

	var act *activities.HarvestActivities

	harvestCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    1 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	maintenanceCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    1 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})

	result := &HarvestWorkflowResult{}

	var harvestOutput activities.RunHarvestOutput
	err := workflow.ExecuteActivity(harvestCtx, act.RunHarvest, activities.RunHarvestInput{
		LiteratureQuery: input.LiteratureQuery,
		TrialsQuery:     input.TrialsQuery,
		MaxPerSource:    input.MaxPerSource,
	}).Get(ctx, &harvestOutput)
	if err != nil {
		logger.Error("harvest activity failed", "error", err)
		publishEvent(ctx, maintenanceCtx, events.HarvestEvent{
			EventType:       events.EventTypeHarvestFailed,
			HarvestID:       harvestID,
			LiteratureQuery: input.LiteratureQuery,
			TrialsQuery:     input.TrialsQuery,
			Error:           err.Error(),
			OccurredAt:      workflow.Now(ctx).UTC(),
		})
		return result, fmt.Errorf("harvest: %w", err)
	}
	result.ReferencesStored = harvestOutput.ReferencesStored

	// Purge failure is non-fatal: the stored references are already visible
	// and expired rows stay filtered at read time.
	var purgeOutput activities.PurgeExpiredOutput
	err = workflow.ExecuteActivity(maintenanceCtx, act.PurgeExpired).Get(ctx, &purgeOutput)
	if err != nil {
		logger.Warn("purge of expired rows failed", "error", err)
	} else {
		result.ReferencesPurged = purgeOutput.ReferencesDeleted
		result.InsightsPurged = purgeOutput.InsightsDeleted
	}

	publishEvent(ctx, maintenanceCtx, events.HarvestEvent{
		EventType:        events.EventTypeHarvestCompleted,
		HarvestID:        harvestID,
		LiteratureQuery:  input.LiteratureQuery,
		TrialsQuery:      input.TrialsQuery,
		ReferencesStored: result.ReferencesStored,
		OccurredAt:       workflow.Now(ctx).UTC(),
	})

	logger.Info("harvest workflow completed",
		"referencesStored", result.ReferencesStored,
		"referencesPurged", result.ReferencesPurged,
	)
	return result, nil
}

// publishEvent emits a harvest lifecycle event best-effort.
func publishEvent(ctx workflow.Context, activityCtx workflow.Context, event events.HarvestEvent) {
	logger := workflow.GetLogger(ctx)

	var act *activities.HarvestActivities
	err := workflow.ExecuteActivity(activityCtx, act.PublishHarvestEvent, activities.PublishHarvestEventInput{
		Event: event,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to publish harvest event", "eventType", event.EventType, "error", err)
	}
}
