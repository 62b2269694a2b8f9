package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scheduleARN = "arn:aws:scheduler:eu-west-1:123456789012:schedule/default/fn-schedule"

func TestScheduleInputIsStable(t *testing.T) {
	first, err := ScheduleInput("123456789012", "eu-west-1", scheduleARN)
	require.NoError(t, err)
	second, err := ScheduleInput("123456789012", "eu-west-1", scheduleARN)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(first), &decoded))
	assert.Equal(t, ScheduledTimePlaceholder, decoded["time"])
	assert.Equal(t, ExecutionIDPlaceholder, decoded["id"])
	assert.Equal(t, "Scheduled Event", decoded["detail-type"])
	assert.Equal(t, []interface{}{scheduleARN}, decoded["resources"])
}

func TestScheduledEvent(t *testing.T) {
	now := time.Date(2024, 3, 15, 10, 30, 0, 123, time.FixedZone("CET", 3600))
	event := ScheduledEvent("123456789012", "eu-west-1", scheduleARN, "local-test", now)
	b, err := Marshal(event)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "2024-03-15T09:30:00Z", decoded["time"])
	assert.Equal(t, "aws.scheduler", decoded["source"])
	assert.Equal(t, map[string]interface{}{}, decoded["detail"])
}
