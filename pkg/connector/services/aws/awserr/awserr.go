// Package awserr classifies errors returned by the AWS SDK by their API error code.
package awserr

import (
	"context"
	"errors"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
)

var notFoundCodes = map[string]struct{}{
	"NoSuchEntity":              {},
	"NoSuchEntityException":     {},
	"ResourceNotFoundException": {},
	"NotFoundException":         {},
	"NotFound":                  {},
	"NoSuchKey":                 {},
	"ParameterNotFound":         {},
}

var alreadyExistsCodes = map[string]struct{}{
	"EntityAlreadyExists":            {},
	"EntityAlreadyExistsException":   {},
	"ResourceConflictException":      {},
	"ResourceAlreadyExistsException": {},
	"DuplicateRecordException":       {},
	"ConflictException":              {},
}

var permanentCodes = map[string]struct{}{
	"AccessDenied":              {},
	"AccessDeniedException":     {},
	"ValidationError":           {},
	"ValidationException":       {},
	"InvalidParameter":          {},
	"InvalidParameterValue":     {},
	"InvalidParameterException": {},
	"MalformedPolicyDocument":   {},
}

// Code returns the API error code carried by err, or "" when err is not an API error.
func Code(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := notFoundCodes[Code(err)]; ok {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 404
}

func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	_, ok := alreadyExistsCodes[Code(err)]
	return ok
}

// IsPermanent reports errors that no amount of retrying will fix.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	_, ok := permanentCodes[Code(err)]
	return ok
}

func IsAccessDenied(err error) bool {
	code := Code(err)
	if code == "AccessDenied" || code == "AccessDeniedException" {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == 403
}

// IsUnreachable reports errors raised before any AWS API answered: missing or
// expired credentials, DNS and connection failures. Cancellation is not one of them.
func IsUnreachable(err error) bool {
	if err == nil || Code(err) != "" {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *awshttp.ResponseError
	return !errors.As(err, &re)
}
