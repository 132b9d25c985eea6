package samples

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/host"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

var ctx = context.Background()

func startSamples(t *testing.T) *binding.OrchestrationClientContext {
	h := host.New(
		host.WithConnections(binding.StaticConnections{binding.DispatchConnectionName: "memory"}),
		host.WithHeartbeatInterval(0),
		host.WithMaxParallelism(4),
		host.WithUnclaimedEventPolicy(task.BufferUnclaimedEvents),
	)
	t.Cleanup(func() { _ = h.Close() })
	require.NoError(t, Register(h, "samples"))
	require.NoError(t, h.Start(ctx))

	client, err := h.Client("samples")
	require.NoError(t, err)
	return client
}

func run(t *testing.T, client *binding.OrchestrationClientContext, name string, input any, events map[string]any) *api.OrchestrationMetadata {
	id, err := client.CreateInstance(ctx, name, "", input)
	require.NoError(t, err)
	for event, payload := range events {
		require.NoError(t, client.RaiseEvent(ctx, id, event, payload))
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	metadata, err := client.WaitForCompletion(timeoutCtx, id)
	require.NoError(t, err)
	return metadata
}

func Test_Samples(t *testing.T) {
	client := startSamples(t)

	t.Run(HelloCities, func(t *testing.T) {
		metadata := run(t, client, HelloCities, nil, nil)
		require.Equal(t, api.RUNTIME_STATUS_COMPLETED, metadata.RuntimeStatus)
		assert.JSONEq(t, `["Hello, Tokyo!","Hello, London!","Hello, Seattle!"]`, metadata.SerializedOutput)
	})

	t.Run(UpdateDevices, func(t *testing.T) {
		metadata := run(t, client, UpdateDevices, 5, nil)
		require.Equal(t, api.RUNTIME_STATUS_COMPLETED, metadata.RuntimeStatus)
		var rate float32
		require.NoError(t, json.Unmarshal([]byte(metadata.SerializedOutput), &rate))
		assert.GreaterOrEqual(t, rate, float32(0))
		assert.LessOrEqual(t, rate, float32(1))
	})

	t.Run(Approval, func(t *testing.T) {
		metadata := run(t, client, Approval, "expense-42", map[string]any{"approved": true})
		require.Equal(t, api.RUNTIME_STATUS_COMPLETED, metadata.RuntimeStatus)
		assert.Equal(t, "expense-42: approved", metadata.SerializedOutput)
		assert.Equal(t, `"waiting for approval"`, metadata.SerializedCustomStatus)
	})

	t.Run(PingEndpoint, func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))
		defer server.Close()

		metadata := run(t, client, PingEndpoint, server.URL, nil)
		require.Equal(t, api.RUNTIME_STATUS_COMPLETED, metadata.RuntimeStatus)
		assert.Equal(t, "204", metadata.SerializedOutput)
	})
}

func Test_CallEndpoint_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	status, err := callEndpoint(ctx, server.URL)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Error(t, err)
}

func Test_ConfigureTracing(t *testing.T) {
	tp, err := ConfigureTracing("", "samples-test")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(ctx))

	tp, err = ConfigureTracing("http://localhost:9411/api/v2/spans", "samples-test")
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(ctx))
}
