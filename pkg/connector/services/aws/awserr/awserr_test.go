package awserr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
)

func apiError(code string) error {
	return fmt.Errorf("wrapped: %w", &smithy.OperationError{
		ServiceID:     "IAM",
		OperationName: "GetRole",
		Err:           &smithy.GenericAPIError{Code: code, Message: code},
	})
}

func TestClassification(t *testing.T) {
	cases := []struct {
		code          string
		notFound      bool
		alreadyExists bool
		permanent     bool
	}{
		{"NoSuchEntity", true, false, false},
		{"ResourceNotFoundException", true, false, false},
		{"NotFoundException", true, false, false},
		{"EntityAlreadyExists", false, true, false},
		{"ResourceConflictException", false, true, false},
		{"AccessDenied", false, false, true},
		{"ValidationError", false, false, true},
		{"ThrottlingException", false, false, false},
	}
	for _, c := range cases {
		t.Run(c.code, func(t *testing.T) {
			err := apiError(c.code)
			assert.Equal(t, c.code, Code(err))
			assert.Equal(t, c.notFound, IsNotFound(err))
			assert.Equal(t, c.alreadyExists, IsAlreadyExists(err))
			assert.Equal(t, c.permanent, IsPermanent(err))
		})
	}
}

func TestNonAPIErrors(t *testing.T) {
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("NoSuchEntity")))
	assert.Empty(t, Code(errors.New("x")))
	assert.True(t, IsAccessDenied(apiError("AccessDeniedException")))
}

func TestIsUnreachable(t *testing.T) {
	assert.True(t, IsUnreachable(fmt.Errorf("get role: %w", errors.New("failed to retrieve credentials"))))
	assert.False(t, IsUnreachable(nil))
	assert.False(t, IsUnreachable(apiError("NoSuchEntity")))
	assert.False(t, IsUnreachable(apiError("ExpiredToken")))
	assert.False(t, IsUnreachable(fmt.Errorf("get role: %w", context.Canceled)))
	assert.False(t, IsUnreachable(context.DeadlineExceeded))
}
