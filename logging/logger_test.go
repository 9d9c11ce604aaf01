package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusAdapter(t *testing.T) {
	l, hook := test.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	logger := NewLogrusLogger(l)

	logger.Debugf("debug %d", 1)
	logger.Infof("info %d", 2)
	logger.Warnf("warn %d", 3)
	logger.Errorf("error %d", 4)

	entries := hook.AllEntries()
	require.Len(t, entries, 4)
	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "info 2", entries[1].Message)
	assert.Equal(t, logrus.WarnLevel, entries[2].Level)
	assert.Equal(t, "error 4", hook.LastEntry().Message)
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Infof("dropped")
	logger.Warnf("renewal failed for %s", "user-1")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "renewal failed for user-1", line["msg"])
	assert.Equal(t, "sessionkit", line["component"])
	assert.Equal(t, "warning", line["level"])
}

func TestNewWithWriterRejectsBadInput(t *testing.T) {
	_, err := NewWithWriter(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)

	_, err = NewWithWriter(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop.Debugf("x")
		Nop.Errorf("y %v", 1)
	})
}
