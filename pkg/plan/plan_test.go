package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/primait/lambda-deploy/pkg/io/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryRunSkipsExecution(t *testing.T) {
	r := NewRecorder(true, logging.New(io.Discard))
	r.SetStep("IAM Setup")

	called := false
	err := r.Do("iam", "CreateRole", "fn-role", map[string]interface{}{"RoleName": "fn-role"}, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)

	calls := r.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "IAM Setup", calls[0].Step)
	assert.False(t, calls[0].Applied)
	assert.Equal(t, 0, r.Applied())
}

func TestLiveRunExecutesAndRecords(t *testing.T) {
	r := NewRecorder(false, logging.New(io.Discard))

	require.NoError(t, r.Do("lambda", "UpdateFunctionCode", "fn", nil, func() error { return nil }))
	boom := errors.New("boom")
	err := r.Do("lambda", "UpdateFunctionConfiguration", "fn", nil, func() error { return boom })
	require.ErrorIs(t, err, boom)

	calls := r.Calls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].Applied)
	assert.False(t, calls[1].Applied)
	assert.Equal(t, "boom", calls[1].Error)
	assert.Equal(t, 1, r.Applied())
}

func TestFlattenRedactsAndDropsEmpty(t *testing.T) {
	flat := Flatten(map[string]interface{}{
		"Name":  "/app/token",
		"Value": "secret",
		"Tags":  map[string]interface{}{"team": "data"},
		"Empty": "",
	}, "Value")

	assert.Equal(t, "/app/token", flat["Name"])
	assert.Equal(t, redacted, flat["Value"])
	assert.Equal(t, "data", flat["Tags_team"])
	assert.NotContains(t, flat, "Empty")
	assert.Nil(t, Flatten(nil))
}

func sampleCalls() []Call {
	return []Call{
		{Step: "Schedule Setup", Service: "scheduler", Operation: "CreateSchedule", Target: "fn-schedule",
			Params: map[string]interface{}{"ScheduleExpression": "rate(5 minutes)"}},
		{Step: "Lambda Deployment", Service: "lambda", Operation: "CreateFunction", Target: "fn"},
	}
}

func TestRenderFormats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleCalls(), FormatJSON))
	var decoded []Call
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "CreateSchedule", decoded[0].Operation)

	buf.Reset()
	require.NoError(t, Render(&buf, sampleCalls(), FormatYAML))
	assert.Contains(t, buf.String(), "operation: CreateFunction")

	buf.Reset()
	require.NoError(t, Render(&buf, sampleCalls(), FormatCSV))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "step,service,operation"))
	assert.Contains(t, lines[1], "ScheduleExpression=rate(5 minutes)")

	buf.Reset()
	require.NoError(t, Render(&buf, sampleCalls(), FormatTable))
	assert.Contains(t, buf.String(), "CreateFunction")

	assert.Error(t, Render(&buf, nil, "xml"))
}

func TestEmptyTable(t *testing.T) {
	assert.Contains(t, Table(nil), "no changes")
}

func TestAbsent(t *testing.T) {
	offline := errors.New("failed to retrieve credentials")
	notFound := &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "role not found"}
	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}

	live := NewRecorder(false, logging.New(io.Discard))
	assert.True(t, live.Absent(notFound))
	assert.False(t, live.Absent(offline))
	assert.False(t, live.Absent(denied))

	dry := NewRecorder(true, logging.New(io.Discard))
	assert.True(t, dry.Absent(notFound))
	assert.True(t, dry.Absent(offline))
	assert.False(t, dry.Absent(denied))
	assert.False(t, dry.Absent(nil))
}
