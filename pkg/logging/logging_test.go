package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Configure(logrus.New(), &buf, "debug", "json")
	require.NoError(t, err)

	logger.WithField("workload", "aws-cluster/production/frontend-web").Debug("Generated sample")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Generated sample", entry["msg"])
	assert.Equal(t, "aws-cluster/production/frontend-web", entry["workload"])
	assert.Equal(t, "debug", entry["level"])
}

func TestConfigureFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Configure(logrus.New(), &buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigureRejectsUnknownLevel(t *testing.T) {
	_, err := Configure(logrus.New(), &bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)
}
