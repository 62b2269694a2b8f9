package localtest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/ohler55/ojg/oj"
)

var ErrAssertion = errors.New("local test assertion failed")

// Assert evaluates the jq expression against the handler output. It passes only
// when the first value produced is the boolean true.
func Assert(expression string, output []byte) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return true, nil
	}
	query, err := gojq.Parse(expression)
	if err != nil {
		return false, fmt.Errorf("parse assertion %q: %w", expression, err)
	}

	var input interface{}
	if len(strings.TrimSpace(string(output))) > 0 {
		parsed, err := oj.Parse(output)
		if err != nil {
			return false, fmt.Errorf("handler output is not JSON: %w", err)
		}
		input = normalize(parsed)
	}

	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, ok := v.(error); ok {
		return false, fmt.Errorf("evaluate assertion %q: %w", expression, err)
	}
	passed, _ := v.(bool)
	return passed, nil
}

// normalize converts the integer types of the ojg parser into the ones gojq accepts.
func normalize(v interface{}) interface{} {
	switch value := v.(type) {
	case int64:
		return int(value)
	case map[string]interface{}:
		for k, item := range value {
			value[k] = normalize(item)
		}
		return value
	case []interface{}:
		for i, item := range value {
			value[i] = normalize(item)
		}
		return value
	default:
		return v
	}
}
