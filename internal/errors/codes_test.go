package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestGetCode_ThroughWrapping(t *testing.T) {
	base := NotFound("metadata", "state")
	wrapped := fmt.Errorf("get state: %w", base)

	assert.Equal(t, ErrCodeNotFound, GetCode(wrapped))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsAlreadyExists(wrapped))
	assert.True(t, IsMetadataError(wrapped))
}

func TestGetCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, GetCode(fmt.Errorf("boom")))
	assert.Equal(t, ErrCodeOK, GetCode(nil))
	assert.False(t, IsCode(nil, ErrCodeOK))
}

func TestConcurrentModification_Details(t *testing.T) {
	err := ConcurrentModification("tbl", "state", 3, 4)

	assert.Equal(t, int64(3), err.Details["expected_version"])
	assert.Equal(t, int64(4), err.Details["actual_version"])
	assert.Contains(t, err.Error(), "expected 3, actual 4")
}

func TestToGRPCStatus(t *testing.T) {
	tests := []struct {
		name string
		err  *MetadataError
		want codes.Code
	}{
		{"not found", NotFound("t", "k"), codes.NotFound},
		{"already exists", AlreadyExists("t", "k"), codes.AlreadyExists},
		{"conflict", ConcurrentModification("t", "k", 1, 2), codes.Aborted},
		{"illegal state", IllegalState("s/n", "CREATING"), codes.FailedPrecondition},
		{"not allowed", OperationNotAllowed("s/n", "SEALED", "ACTIVE"), codes.FailedPrecondition},
		{"corruption", DataCorruption("t", "k", nil), codes.DataLoss},
		{"invalid", InvalidArgument("bad", nil), codes.InvalidArgument},
		{"unavailable", Unavailable("down", nil), codes.Unavailable},
		{"internal", InternalError("oops", nil), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ToGRPCStatus().Code())
		})
	}
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "CONCURRENT_MODIFICATION", ErrCodeConcurrentModification.String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}
