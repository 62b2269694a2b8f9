package logging

import (
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

// ErrorFields flattens an error returned by the AWS SDK into key/value pairs
// suitable for the structured logger. Non AWS errors only yield "err".
func ErrorFields(err error) []interface{} {
	if err == nil {
		return nil
	}
	fields := []interface{}{"err", err}

	var oe *smithy.OperationError
	if errors.As(err, &oe) {
		fields = append(fields, "service", oe.Service(), "operation", oe.Operation())
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		fields = append(fields, "status", re.HTTPStatusCode(), "requestId", re.ServiceRequestID())
		switch re.HTTPStatusCode() {
		case 403:
			fields = append(fields, "hint", "Permission Denied")
		case 429:
			fields = append(fields, "hint", "Throttled")
		}
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		fields = append(fields, "code", ae.ErrorCode())
	}
	return fields
}

// HandleError prints message in red, logs err with its AWS details and exits when
// exitOnError is unset or true.
func HandleError(err error, message string, exitOnError ...bool) {
	handleError(GetLogManager(), err, message, len(exitOnError) == 0 || exitOnError[0])
}

func handleError(lm LogManager, err error, message string, exit bool) {
	lm.PrintRed(message)
	if !exit {
		lm.Error("Cause", ErrorFields(err)...)
		return
	}
	lm.Fatal("Cause", ErrorFields(err)...)
}
