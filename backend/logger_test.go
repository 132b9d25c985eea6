package backend

import (
	"bytes"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/assert"
)

func Test_StructuredLogger_WritesJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	base := glog.NewLogger(
		glog.WithWriter(buf),
		glog.WithLoggerTypeJSON(),
		glog.WithLevel("debug"),
	)
	logger := NewStructuredLogger(base)

	logger.Infof("%v: worker started", "orchestration-processor")
	logger.Warn("dropping duplicate event")

	logged := buf.String()
	assert.Contains(t, logged, "orchestration-processor: worker started")
	assert.Contains(t, logged, "dropping duplicate event")
}

func Test_StdLogger_FiltersBelowMinimum(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewStdLogger(buf, LevelWarn)

	logger.Debugf("polling %d", 1)
	logger.Info("started")
	logger.Warnf("lock lost on %s", "abc")
	logger.Error("boom")

	logged := buf.String()
	assert.NotContains(t, logged, "polling")
	assert.NotContains(t, logged, "started")
	assert.Contains(t, logged, "WARNING: ")
	assert.Contains(t, logged, "lock lost on abc")
	assert.Contains(t, logged, "ERROR: ")
}

func Test_ParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		"":        LevelInfo,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
	} {
		got, err := ParseLevel(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
	assert.NotNil(t, DefaultLogger())
}
