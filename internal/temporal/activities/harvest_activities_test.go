package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/medscribe/reference-harvester/internal/events"
)

type mockRunner struct {
	literatureQuery string
	trialsQuery     string
	maxPerSource    int
	stored          int
	err             error
}

func (m *mockRunner) Harvest(_ context.Context, literatureQuery, trialsQuery string, maxPerSource int) (int, error) {
	m.literatureQuery = literatureQuery
	m.trialsQuery = trialsQuery
	m.maxPerSource = maxPerSource
	if m.err != nil {
		return 0, m.err
	}
	return m.stored, nil
}

type mockPurger struct {
	deleted int64
	err     error
}

func (m *mockPurger) DeleteExpired(context.Context) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.deleted, nil
}

type mockEventPublisher struct {
	published []events.HarvestEvent
	err       error
}

func (m *mockEventPublisher) Publish(_ context.Context, event events.HarvestEvent) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, event)
	return nil
}

func TestHarvestActivities_RunHarvest(t *testing.T) {
	t.Run("runs the pipeline and reports the stored count", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		runner := &mockRunner{stored: 17}
		act := NewHarvestActivities(runner, &mockPurger{}, &mockPurger{}, nil)
		env.RegisterActivity(act.RunHarvest)

		val, err := env.ExecuteActivity(act.RunHarvest, RunHarvestInput{
			LiteratureQuery: "peanut allergy",
			TrialsQuery:     "immunotherapy",
			MaxPerSource:    10,
		})
		require.NoError(t, err)

		var out RunHarvestOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, 17, out.ReferencesStored)

		assert.Equal(t, "peanut allergy", runner.literatureQuery)
		assert.Equal(t, "immunotherapy", runner.trialsQuery)
		assert.Equal(t, 10, runner.maxPerSource)
	})

	t.Run("propagates pipeline failure", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		runner := &mockRunner{err: errors.New("store unavailable")}
		act := NewHarvestActivities(runner, &mockPurger{}, &mockPurger{}, nil)
		env.RegisterActivity(act.RunHarvest)

		_, err := env.ExecuteActivity(act.RunHarvest, RunHarvestInput{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "run harvest")
	})
}

func TestHarvestActivities_PurgeExpired(t *testing.T) {
	t.Run("purges both tables", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := NewHarvestActivities(&mockRunner{}, &mockPurger{deleted: 4}, &mockPurger{deleted: 2}, nil)
		env.RegisterActivity(act.PurgeExpired)

		val, err := env.ExecuteActivity(act.PurgeExpired)
		require.NoError(t, err)

		var out PurgeExpiredOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, int64(4), out.ReferencesDeleted)
		assert.Equal(t, int64(2), out.InsightsDeleted)
	})

	t.Run("skips insights when no insight repo is configured", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := NewHarvestActivities(&mockRunner{}, &mockPurger{deleted: 3}, nil, nil)
		env.RegisterActivity(act.PurgeExpired)

		val, err := env.ExecuteActivity(act.PurgeExpired)
		require.NoError(t, err)

		var out PurgeExpiredOutput
		require.NoError(t, val.Get(&out))
		assert.Equal(t, int64(3), out.ReferencesDeleted)
		assert.Equal(t, int64(0), out.InsightsDeleted)
	})

	t.Run("reference purge failure is an error", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := NewHarvestActivities(&mockRunner{}, &mockPurger{err: errors.New("deadlock")}, nil, nil)
		env.RegisterActivity(act.PurgeExpired)

		_, err := env.ExecuteActivity(act.PurgeExpired)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "purge expired references")
	})
}

func TestHarvestActivities_PublishHarvestEvent(t *testing.T) {
	t.Run("publishes the event", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		pub := &mockEventPublisher{}
		act := NewHarvestActivities(&mockRunner{}, &mockPurger{}, nil, pub)
		env.RegisterActivity(act.PublishHarvestEvent)

		input := PublishHarvestEventInput{Event: events.HarvestEvent{
			EventType:        events.EventTypeHarvestCompleted,
			HarvestID:        "harvest-1",
			ReferencesStored: 9,
		}}

		_, err := env.ExecuteActivity(act.PublishHarvestEvent, input)
		require.NoError(t, err)

		require.Len(t, pub.published, 1)
		assert.Equal(t, "harvest.completed", pub.published[0].EventType)
		assert.Equal(t, 9, pub.published[0].ReferencesStored)
	})

	t.Run("no-op when publishing is disabled", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		act := NewHarvestActivities(&mockRunner{}, &mockPurger{}, nil, nil)
		env.RegisterActivity(act.PublishHarvestEvent)

		_, err := env.ExecuteActivity(act.PublishHarvestEvent, PublishHarvestEventInput{})
		require.NoError(t, err)
	})

	t.Run("returns error from publisher", func(t *testing.T) {
		suite := &testsuite.WorkflowTestSuite{}
		env := suite.NewTestActivityEnvironment()

		pub := &mockEventPublisher{err: errors.New("broker unreachable")}
		act := NewHarvestActivities(&mockRunner{}, &mockPurger{}, nil, pub)
		env.RegisterActivity(act.PublishHarvestEvent)

		input := PublishHarvestEventInput{Event: events.HarvestEvent{
			EventType: events.EventTypeHarvestFailed,
		}}

		_, err := env.ExecuteActivity(act.PublishHarvestEvent, input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publish harvest event harvest.failed")
	})
}
