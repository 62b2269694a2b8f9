package localtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssert(t *testing.T) {
	cases := []struct {
		name       string
		expression string
		output     string
		passed     bool
	}{
		{"status ok", ".statusCode == 200", `{"statusCode":200,"body":"ok"}`, true},
		{"status error", ".statusCode == 200", `{"statusCode":500}`, false},
		{"nested", `.body | fromjson | .processed > 0`, `{"body":"{\"processed\":3}"}`, true},
		{"non boolean", ".statusCode", `{"statusCode":200}`, false},
		{"null output", ". == null", ``, true},
		{"empty expression", "", `"anything"`, true},
		{"float", ".ratio < 0.5", `{"ratio":0.25}`, true},
		{"array", "length == 2", `[1,2]`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			passed, err := Assert(c.expression, []byte(c.output))
			require.NoError(t, err)
			assert.Equal(t, c.passed, passed)
		})
	}
}

func TestAssertErrors(t *testing.T) {
	_, err := Assert(".statusCode ==", []byte(`{}`))
	require.Error(t, err)

	_, err = Assert(".statusCode == 200", []byte(`not json`))
	require.Error(t, err)

	_, err = Assert(`error("boom")`, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
