package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_OrchestrationStatus_RoundTrip(t *testing.T) {
	for status := range statusNames {
		parsed, err := ParseOrchestrationStatus(status.String())
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	parsed, err := ParseOrchestrationStatus("ORCHESTRATION_STATUS_TERMINATED")
	require.NoError(t, err)
	assert.Equal(t, RUNTIME_STATUS_TERMINATED, parsed)

	_, err = ParseOrchestrationStatus("sleeping")
	assert.Error(t, err)
}

func Test_OrchestrationMetadata_JSON(t *testing.T) {
	md := &OrchestrationMetadata{InstanceID: "abc", Name: "Order", RuntimeStatus: RUNTIME_STATUS_FAILED}
	data, err := json.Marshal(md)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"runtimeStatus":"FAILED"`)

	var decoded OrchestrationMetadata
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, RUNTIME_STATUS_FAILED, decoded.RuntimeStatus)
	assert.True(t, decoded.IsComplete())
	assert.False(t, decoded.IsRunning())
}

func Test_CreateInstanceOptions(t *testing.T) {
	req := &CreateInstanceRequest{}
	for _, opt := range []NewOrchestrationOptions{
		WithInstanceID("i1"),
		WithVersion("v2"),
		WithInput(map[string]int{"qty": 3}),
	} {
		require.NoError(t, opt(req))
	}
	assert.Equal(t, InstanceID("i1"), req.InstanceID)
	assert.Equal(t, "v2", req.Version)
	assert.JSONEq(t, `{"qty":3}`, req.Input)

	raise := &RaiseEventRequest{}
	require.NoError(t, WithEventPayload(true)(raise))
	assert.Equal(t, "true", raise.Input)
}

func Test_NewFailureDetails_PlainError(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("ship failed: %w", cause)

	fd := NewFailureDetails(err)
	require.NotNil(t, fd)
	assert.Equal(t, "*fmt.wrapError", fd.ErrorType)
	assert.Equal(t, "ship failed: disk full", fd.ErrorMessage)
	require.NotNil(t, fd.InnerFailure)
	assert.Equal(t, "disk full", fd.InnerFailure.ErrorMessage)
	assert.Nil(t, NewFailureDetails(nil))
}

func Test_NewFailureDetails_Classified(t *testing.T) {
	err := goerrors.New("quantity must be positive", goerrors.CategoryValidation).
		WithTextCode("ORDER_INVALID").
		WithMetadata(map[string]any{"field": "qty"})

	fd := NewFailureDetails(err)
	require.NotNil(t, fd)
	assert.Equal(t, "ORDER_INVALID", fd.TextCode)
	assert.NotEmpty(t, fd.Category)
	assert.Equal(t, "qty", fd.Metadata["field"])
}

func Test_TaskFailedError_KeepsDetails(t *testing.T) {
	details := &FailureDetails{ErrorType: "x", ErrorMessage: "boom", TextCode: "E1"}
	err := &TaskFailedError{TaskName: "Ship", Details: details}
	assert.Equal(t, "task 'Ship' failed with an error: boom", err.Error())
	assert.Equal(t, "E1", err.TextCode())
	assert.Same(t, details, NewFailureDetails(err))
}
