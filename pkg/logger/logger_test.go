package logger

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mapgrab/pkg/config"
)

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(&config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewAcceptsAllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		_, err := New(&config.LoggingConfig{Level: level})
		assert.NoError(t, err, level)
	}
}

func TestInitializeSetsGlobalLogger(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "error"}))
	assert.NotNil(t, GetLogger())
}

func TestHelpersAcceptRequestTimings(t *testing.T) {
	require.NoError(t, Initialize(&config.LoggingConfig{Level: "disabled"}))

	// The client reports elapsed time as fractional milliseconds.
	elapsed := 125 * time.Millisecond
	LogRequest(http.MethodGet, "https://graph.mapillary.com/image_ids", http.StatusOK, float64(elapsed.Milliseconds()))
	LogRequest(http.MethodGet, "https://graph.mapillary.com/image_ids", http.StatusTooManyRequests, 0.4)
	LogDownload("seq1", "101", true, nil)
	LogDownload("seq1", "102", false, errors.New("timeout"))
	LogRateLimit("/image_ids", 7)
}

func TestTestLoggerCapturesMessages(t *testing.T) {
	log := NewTestLogger()

	log.Info("starting")
	log.WarnWithFields("slow response", map[string]interface{}{"ms": 1200})
	log.WithError(errors.New("boom")).Error("request failed")

	assert.True(t, log.HasMessage("starting"))
	assert.Len(t, log.GetMessagesByLevel("WARN"), 1)

	errs := log.GetMessagesByLevel("ERROR")
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0].Error, "boom")

	log.Clear()
	assert.Empty(t, log.GetMessages())
}

func TestContextFieldsMerge(t *testing.T) {
	log := NewTestLogger()

	bound := log.WithFields(map[string]interface{}{"sequence_id": "seq1"})
	bound.InfoWithFields("image done", map[string]interface{}{"image_id": "101"})

	messages := log.GetMessages()
	require.Len(t, messages, 1)
	assert.Equal(t, "seq1", messages[0].Fields["sequence_id"])
	assert.Equal(t, "101", messages[0].Fields["image_id"])
}
