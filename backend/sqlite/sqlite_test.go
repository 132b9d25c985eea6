package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

const (
	defaultName  = "testing"
	defaultInput = "Hello, 世界!"
)

var ctx = context.Background()

func newTestBackends(t *testing.T) []backend.Backend {
	file := filepath.Join(t.TempDir(), "test.sqlite3")
	backends := []backend.Backend{
		New(NewOptions(""), backend.DefaultLogger()),
		New(NewOptions(file), backend.DefaultLogger()),
	}
	for _, be := range backends {
		require.NoError(t, be.CreateTaskHub(ctx))
		t.Cleanup(func() { _ = be.DeleteTaskHub(ctx) })
	}
	return backends
}

func createInstance(t *testing.T, be backend.Backend, id string) {
	e := backend.NewExecutionStartedEvent(defaultName, "", id, defaultInput, nil)
	require.NoError(t, be.CreateOrchestrationInstance(ctx, e))
}

func Test_NewOrchestrationWorkItem_Single(t *testing.T) {
	for _, be := range newTestBackends(t) {
		t.Run(be.(interface{ String() string }).String(), func(t *testing.T) {
			createInstance(t, be, "myinstance")

			wi, err := be.GetOrchestrationWorkItem(ctx)
			require.NoError(t, err)
			require.Len(t, wi.NewEvents, 1)

			startEvent := wi.NewEvents[0].GetExecutionStarted()
			require.NotNil(t, startEvent)
			assert.Equal(t, "myinstance", startEvent.InstanceID)
			assert.Equal(t, defaultName, startEvent.Name)
			assert.Equal(t, defaultInput, startEvent.Input)

			state, err := be.GetOrchestrationRuntimeState(ctx, wi)
			require.NoError(t, err)
			assert.Equal(t, wi.InstanceID, state.InstanceID())
			_, err = state.Name()
			assert.ErrorIs(t, err, api.ErrNotStarted)

			// The instance is locked so a second fetch finds nothing.
			_, err = be.GetOrchestrationWorkItem(ctx)
			assert.ErrorIs(t, err, backend.ErrNoWorkItems)
		})
	}
}

func Test_CompleteOrchestration(t *testing.T) {
	for _, be := range newTestBackends(t) {
		createInstance(t, be, "abc")

		wi, err := be.GetOrchestrationWorkItem(ctx)
		require.NoError(t, err)
		state, err := be.GetOrchestrationRuntimeState(ctx, wi)
		require.NoError(t, err)
		for _, e := range wi.NewEvents {
			require.NoError(t, state.AddEvent(e))
		}

		actions := []*backend.OrchestratorAction{
			backend.NewScheduleTaskAction(0, "SayHello", "", `["world"]`),
			backend.NewCompleteOrchestrationAction(1, api.RUNTIME_STATUS_COMPLETED, `"done"`, nil, nil),
		}
		_, err = state.ApplyActions(actions, nil)
		require.NoError(t, err)
		state.CustomStatus = `"halfway"`
		wi.State = state

		require.NoError(t, be.CompleteOrchestrationWorkItem(ctx, wi))

		metadata, err := be.GetOrchestrationMetadata(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, api.RUNTIME_STATUS_COMPLETED, metadata.RuntimeStatus)
		assert.Equal(t, `"done"`, metadata.SerializedOutput)
		assert.Equal(t, `"halfway"`, metadata.SerializedCustomStatus)
		assert.Equal(t, defaultInput, metadata.SerializedInput)
		assert.Nil(t, metadata.FailureDetails)

		// The scheduled task is now visible to the activity worker.
		awi, err := be.GetActivityWorkItem(ctx)
		require.NoError(t, err)
		assert.Equal(t, "SayHello", awi.NewEvent.GetTaskScheduled().Name)
		assert.Equal(t, `["world"]`, awi.NewEvent.GetTaskScheduled().Input)

		awi.Result = backend.NewTaskCompletedEvent(awi.NewEvent.EventID, `"Hello, world!"`)
		require.NoError(t, be.CompleteActivityWorkItem(ctx, awi))
		assert.ErrorIs(t, be.CompleteActivityWorkItem(ctx, awi), backend.ErrWorkItemLockLost)

		require.NoError(t, be.PurgeOrchestrationState(ctx, "abc"))
		_, err = be.GetOrchestrationMetadata(ctx, "abc")
		assert.ErrorIs(t, err, api.ErrInstanceNotFound)
	}
}

func Test_FailedOrchestrationStoresFailureDetails(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "failing")

	wi, err := be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	state, err := be.GetOrchestrationRuntimeState(ctx, wi)
	require.NoError(t, err)
	for _, e := range wi.NewEvents {
		require.NoError(t, state.AddEvent(e))
	}

	fd := &api.FailureDetails{ErrorType: "MyError", ErrorMessage: "kaboom", TextCode: "BOOM"}
	_, err = state.ApplyActions([]*backend.OrchestratorAction{
		backend.NewCompleteOrchestrationAction(0, api.RUNTIME_STATUS_FAILED, "", nil, fd),
	}, nil)
	require.NoError(t, err)
	wi.State = state
	require.NoError(t, be.CompleteOrchestrationWorkItem(ctx, wi))

	metadata, err := be.GetOrchestrationMetadata(ctx, "failing")
	require.NoError(t, err)
	assert.Equal(t, api.RUNTIME_STATUS_FAILED, metadata.RuntimeStatus)
	require.NotNil(t, metadata.FailureDetails)
	assert.Equal(t, "kaboom", metadata.FailureDetails.ErrorMessage)
	assert.Equal(t, "BOOM", metadata.FailureDetails.TextCode)
}

func Test_NewEventsAreReturnedInOrder(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "ordered")

	for i := 0; i < 5; i++ {
		e := backend.NewEventRaisedEvent("Step", string(rune('a'+i)))
		require.NoError(t, be.AddNewOrchestrationEvent(ctx, "ordered", e))
	}

	wi, err := be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	require.Len(t, wi.NewEvents, 6)
	assert.NotNil(t, wi.NewEvents[0].GetExecutionStarted())
	for i, e := range wi.NewEvents[1:] {
		assert.Equal(t, string(rune('a'+i)), e.GetEventRaised().Input)
	}
}

func Test_AbandonOrchestrationWorkItem(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "retry")

	wi, err := be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	require.NoError(t, be.AbandonOrchestrationWorkItem(ctx, wi))

	wi, err = be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), wi.RetryCount)
}

func Test_ScheduledStartIsDeferred(t *testing.T) {
	be := newTestBackends(t)[0]
	e := backend.NewExecutionStartedEvent(defaultName, "", "later", "", nil)
	e.GetExecutionStarted().ScheduledStartTime = time.Now().Add(time.Hour)
	require.NoError(t, be.CreateOrchestrationInstance(ctx, e))

	_, err := be.GetOrchestrationWorkItem(ctx)
	assert.ErrorIs(t, err, backend.ErrNoWorkItems)

	metadata, err := be.GetOrchestrationMetadata(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, api.RUNTIME_STATUS_PENDING, metadata.RuntimeStatus)
}

func Test_DuplicateInstanceReusePolicy(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "dup")

	e := backend.NewExecutionStartedEvent(defaultName, "", "dup", "", nil)
	assert.ErrorIs(t, be.CreateOrchestrationInstance(ctx, e), api.ErrDuplicateInstance)

	ignore := &api.OrchestrationIdReusePolicy{
		OperationStatus: []api.OrchestrationStatus{api.RUNTIME_STATUS_PENDING},
		Action:          api.REUSE_ID_ACTION_IGNORE,
	}
	assert.NoError(t, be.CreateOrchestrationInstance(ctx, e, backend.WithOrchestrationIdReusePolicy(ignore)))

	terminate := &api.OrchestrationIdReusePolicy{
		OperationStatus: []api.OrchestrationStatus{api.RUNTIME_STATUS_PENDING},
		Action:          api.REUSE_ID_ACTION_TERMINATE,
	}
	e = backend.NewExecutionStartedEvent(defaultName, "v2", "dup", "", nil)
	require.NoError(t, be.CreateOrchestrationInstance(ctx, e, backend.WithOrchestrationIdReusePolicy(terminate)))

	metadata, err := be.GetOrchestrationMetadata(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, "v2", metadata.Version)
}

func Test_PurgeRunningInstanceFails(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "running")
	assert.ErrorIs(t, be.PurgeOrchestrationState(ctx, "running"), api.ErrNotCompleted)
	assert.ErrorIs(t, be.PurgeOrchestrationState(ctx, "missing"), api.ErrInstanceNotFound)
}

func Test_HostHeartbeat(t *testing.T) {
	be := newTestBackends(t)[0]
	hb, ok := be.(backend.HostHeartbeatStore)
	require.True(t, ok)

	before := time.Now().UTC().Add(-time.Second)
	require.NoError(t, hb.RecordHostHeartbeat(ctx, "host-1", "hub"))
	require.NoError(t, hb.RecordHostHeartbeat(ctx, "host-1", "hub"))

	last, err := hb.LastHostHeartbeat(ctx, "host-1", "hub")
	require.NoError(t, err)
	assert.True(t, last.After(before))

	_, err = hb.LastHostHeartbeat(ctx, "host-2", "hub")
	assert.Error(t, err)
}

func Test_StopKeepsStateUntilClosed(t *testing.T) {
	be := New(NewOptions(""), backend.DefaultLogger())
	require.NoError(t, be.CreateTaskHub(ctx))
	createInstance(t, be, "survivor")

	require.NoError(t, be.Stop(ctx))
	require.NoError(t, be.Start(ctx))
	_, err := be.GetOrchestrationMetadata(ctx, "survivor")
	assert.NoError(t, err)

	require.NoError(t, be.DeleteTaskHub(ctx))
	_, err = be.GetOrchestrationMetadata(ctx, "survivor")
	assert.ErrorIs(t, err, backend.ErrNotInitialized)
}

func Test_TimersStayHiddenUntilDue(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "sleepy")

	wi, err := be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	state, err := be.GetOrchestrationRuntimeState(ctx, wi)
	require.NoError(t, err)
	for _, e := range wi.NewEvents {
		require.NoError(t, state.AddEvent(e))
	}
	_, err = state.ApplyActions([]*backend.OrchestratorAction{
		backend.NewCreateTimerAction(0, time.Now().Add(time.Hour)),
	}, nil)
	require.NoError(t, err)
	wi.State = state
	require.NoError(t, be.CompleteOrchestrationWorkItem(ctx, wi))

	_, err = be.GetOrchestrationWorkItem(ctx)
	assert.ErrorIs(t, err, backend.ErrNoWorkItems)

	metadata, err := be.GetOrchestrationMetadata(ctx, "sleepy")
	require.NoError(t, err)
	assert.Equal(t, api.RUNTIME_STATUS_RUNNING, metadata.RuntimeStatus)
}

func Test_AbandonActivityWorkItem(t *testing.T) {
	be := newTestBackends(t)[0]
	createInstance(t, be, "work")

	wi, err := be.GetOrchestrationWorkItem(ctx)
	require.NoError(t, err)
	state, err := be.GetOrchestrationRuntimeState(ctx, wi)
	require.NoError(t, err)
	for _, e := range wi.NewEvents {
		require.NoError(t, state.AddEvent(e))
	}
	_, err = state.ApplyActions([]*backend.OrchestratorAction{
		backend.NewScheduleTaskAction(0, "Flaky", "", ""),
	}, nil)
	require.NoError(t, err)
	wi.State = state
	require.NoError(t, be.CompleteOrchestrationWorkItem(ctx, wi))

	awi, err := be.GetActivityWorkItem(ctx)
	require.NoError(t, err)
	_, err = be.GetActivityWorkItem(ctx)
	assert.ErrorIs(t, err, backend.ErrNoWorkItems)

	require.NoError(t, be.AbandonActivityWorkItem(ctx, awi))
	assert.ErrorIs(t, be.AbandonActivityWorkItem(ctx, awi), backend.ErrWorkItemLockLost)

	again, err := be.GetActivityWorkItem(ctx)
	require.NoError(t, err)
	assert.Equal(t, awi.SequenceNumber, again.SequenceNumber)
}
