package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestAnalysisError_Error(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name string
		err  *AnalysisError
		want string
	}{
		{
			name: "without cause",
			err:  InvalidChange("bad batch"),
			want: "bad batch",
		},
		{
			name: "with cause",
			err:  InternalError("sweep failed", cause),
			want: "sweep failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnknownSourceRoot_Details(t *testing.T) {
	err := UnknownSourceRoot(42, "roots not installed")

	assert.Equal(t, ErrCodeUnknownSourceRoot, err.Code)
	assert.Equal(t, uint32(42), err.Details["file_id"])
	assert.Contains(t, err.Error(), "file 42")
}

func TestToGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *AnalysisError
		want codes.Code
	}{
		{UnknownSourceRoot(1, "x"), codes.FailedPrecondition},
		{InvalidChange("x"), codes.InvalidArgument},
		{FileTooLarge(1, 10, 5), codes.InvalidArgument},
		{UnknownTable("parse"), codes.NotFound},
		{Canceled(nil), codes.Canceled},
		{Unavailable("x", nil), codes.Unavailable},
		{InternalError("x", nil), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.ToGRPCStatus().Code())
		})
	}
}

func TestGetCode(t *testing.T) {
	wrapped := fmt.Errorf("apply: %w", UnknownSourceRoot(3, "file in no root"))

	assert.Equal(t, ErrCodeUnknownSourceRoot, GetCode(wrapped))
	assert.True(t, IsAnalysisError(wrapped))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
	assert.Equal(t, ErrCodeOK, GetCode(nil))
}

func TestCanceled_Unwrap(t *testing.T) {
	sentinel := stderrors.New("canceled")
	err := Canceled(sentinel)

	assert.True(t, stderrors.Is(err, sentinel))
}

func TestErrorCode_String(t *testing.T) {
	assert.Equal(t, "UNKNOWN_SOURCE_ROOT", ErrCodeUnknownSourceRoot.String())
	assert.Equal(t, "CANCELED", ErrCodeCanceled.String())
	assert.Equal(t, "CODE_42", ErrorCode(42).String())
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"unknown source root", UnknownSourceRoot(1, "x"), http.StatusBadRequest},
		{"invalid change", InvalidChange("x"), http.StatusBadRequest},
		{"unknown table", fmt.Errorf("sweep: %w", UnknownTable("parse")), http.StatusNotFound},
		{"canceled", Canceled(nil), StatusClientClosedRequest},
		{"change canceled", ChangeCanceled(context.Canceled), StatusClientClosedRequest},
		{"unavailable", Unavailable("x", nil), http.StatusServiceUnavailable},
		{"context canceled", context.Canceled, StatusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
