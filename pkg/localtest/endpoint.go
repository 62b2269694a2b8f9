package localtest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	req "github.com/imroc/req/v3"
)

// invocationsPath is the invoke route of the Lambda runtime interface emulator.
const invocationsPath = "/2015-03-31/functions/function/invocations"

// invokeEndpoint posts the event to a running runtime interface emulator.
func invokeEndpoint(ctx context.Context, endpoint string, event []byte, timeout time.Duration) (*Result, error) {
	url := strings.TrimRight(endpoint, "/")
	if !strings.Contains(url, "/2015-03-31/") {
		url += invocationsPath
	}
	client := req.C().SetTimeout(timeout).SetUserAgent("lambda-deploy")

	response, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBodyBytes(event).
		Post(url)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", url, err)
	}
	body := response.Bytes()
	if response.IsErrorState() {
		return nil, fmt.Errorf("invoke %s: %s: %s", url, response.Status, strings.TrimSpace(string(body)))
	}

	result := &Result{Output: body}
	if fe := asFunctionError(body, response.GetHeader("X-Amz-Function-Error")); fe != nil {
		result.Output = nil
		result.Error = fe
	}
	return result, nil
}

// asFunctionError recognizes the error document the emulator answers with when
// the handler fails; it still replies 200.
func asFunctionError(body []byte, header string) *FunctionError {
	var fe FunctionError
	if err := json.Unmarshal(body, &fe); err != nil {
		if header != "" {
			return &FunctionError{ErrorType: header, ErrorMessage: string(body)}
		}
		return nil
	}
	var keys map[string]json.RawMessage
	_ = json.Unmarshal(body, &keys)
	_, hasType := keys["errorType"]
	_, hasMessage := keys["errorMessage"]
	if header != "" || (hasType && hasMessage && len(keys) <= 4) {
		if fe.ErrorType == "" {
			fe.ErrorType = header
		}
		return &fe
	}
	return nil
}
