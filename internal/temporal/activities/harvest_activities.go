// Package activities implements the Temporal activities executed by the
// harvest workflow.
package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/medscribe/reference-harvester/internal/events"
)

// HarvestRunner runs one aggregation pass and reports how many references
// were stored. Implemented by pipeline.Pipeline; abstracted so activities can
// be tested without external sources.
type HarvestRunner interface {
	Harvest(ctx context.Context, literatureQuery, trialsQuery string, maxPerSource int) (int, error)
}

// ExpiredPurger deletes rows whose retention window has elapsed.
// Implemented by the reference and insight repositories.
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// EventPublisher emits harvest lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event events.HarvestEvent) error
}

// HarvestActivities provides the Temporal activities for the harvest workflow.
// Methods on this struct are registered as activities via the worker.
type HarvestActivities struct {
	runner        HarvestRunner
	referenceRepo ExpiredPurger
	insightRepo   ExpiredPurger
	publisher     EventPublisher
}

// NewHarvestActivities creates a new HarvestActivities.
// insightRepo and publisher may be nil; the corresponding activities then
// skip that part of their work.
func NewHarvestActivities(runner HarvestRunner, referenceRepo, insightRepo ExpiredPurger, publisher EventPublisher) *HarvestActivities {
	return &HarvestActivities{
		runner:        runner,
		referenceRepo: referenceRepo,
		insightRepo:   insightRepo,
		publisher:     publisher,
	}
}

// RunHarvestInput is the serializable input for the RunHarvest activity.
type RunHarvestInput struct {
	// LiteratureQuery is the literature search term.
	LiteratureQuery string `json:"literature_query"`

	// TrialsQuery is the clinical-trials condition term.
	TrialsQuery string `json:"trials_query"`

	// MaxPerSource bounds results fetched from each source.
	MaxPerSource int `json:"max_per_source"`
}

// RunHarvestOutput is the result of the RunHarvest activity.
type RunHarvestOutput struct {
	// ReferencesStored is the number of references written by this run.
	ReferencesStored int `json:"references_stored"`
}

// RunHarvest executes one full aggregation pass: fetch from all sources,
// enrich, score, and store. A failure to store is fatal and retried per the
// workflow's retry policy; source-level failures are absorbed by the pipeline.
func (a *HarvestActivities) RunHarvest(ctx context.Context, input RunHarvestInput) (*RunHarvestOutput, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("running harvest",
		"literatureQuery", input.LiteratureQuery,
		"trialsQuery", input.TrialsQuery,
		"maxPerSource", input.MaxPerSource,
	)

	activity.RecordHeartbeat(ctx, "harvest started")

	stored, err := a.runner.Harvest(ctx, input.LiteratureQuery, input.TrialsQuery, input.MaxPerSource)
	if err != nil {
		logger.Error("harvest failed", "error", err)
		return nil, fmt.Errorf("run harvest: %w", err)
	}

	logger.Info("harvest completed", "referencesStored", stored)
	return &RunHarvestOutput{ReferencesStored: stored}, nil
}

// PurgeExpiredOutput is the result of the PurgeExpired activity.
type PurgeExpiredOutput struct {
	// ReferencesDeleted is the number of expired reference rows removed.
	ReferencesDeleted int64 `json:"references_deleted"`

	// InsightsDeleted is the number of expired insight rows removed.
	InsightsDeleted int64 `json:"insights_deleted"`
}

// PurgeExpired removes reference and insight rows whose retention has
// elapsed. Expired rows are already invisible to reads; this reclaims the
// storage.
func (a *HarvestActivities) PurgeExpired(ctx context.Context) (*PurgeExpiredOutput, error) {
	logger := activity.GetLogger(ctx)

	out := &PurgeExpiredOutput{}

	refs, err := a.referenceRepo.DeleteExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("purge expired references: %w", err)
	}
	out.ReferencesDeleted = refs

	if a.insightRepo != nil {
		insights, err := a.insightRepo.DeleteExpired(ctx)
		if err != nil {
			return nil, fmt.Errorf("purge expired insights: %w", err)
		}
		out.InsightsDeleted = insights
	}

	logger.Info("purged expired rows",
		"referencesDeleted", out.ReferencesDeleted,
		"insightsDeleted", out.InsightsDeleted,
	)
	return out, nil
}

// PublishHarvestEventInput is the serializable input for the
// PublishHarvestEvent activity.
type PublishHarvestEventInput struct {
	Event events.HarvestEvent `json:"event"`
}

// PublishHarvestEvent publishes a harvest lifecycle event to Kafka. The
// workflow calls this best-effort; a publish failure never fails the
// harvest.
func (a *HarvestActivities) PublishHarvestEvent(ctx context.Context, input PublishHarvestEventInput) error {
	logger := activity.GetLogger(ctx)

	if a.publisher == nil {
		logger.Debug("event publishing disabled, skipping", "eventType", input.Event.EventType)
		return nil
	}

	if err := a.publisher.Publish(ctx, input.Event); err != nil {
		logger.Error("failed to publish harvest event",
			"eventType", input.Event.EventType,
			"harvestID", input.Event.HarvestID,
			"error", err,
		)
		return fmt.Errorf("publish harvest event %s: %w", input.Event.EventType, err)
	}

	logger.Info("harvest event published",
		"eventType", input.Event.EventType,
		"harvestID", input.Event.HarvestID,
	)
	return nil
}
