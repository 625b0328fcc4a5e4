package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_NewCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")
	require.NotNil(t, err)
	require.Equal(t, ERR_NOT_FOUND, err.Code())
	require.Equal(t, "resource not found", err.Message())

	secondErr := New(ERR_INVALID_ARGUMENT, "[ProcessBlock][%s] failed to store block", "_test_string_", err)
	thirdErr := New(ERR_BLOCK_INVALID, "[ConnectBlock][%s] block rejected", "_test_string_", secondErr)
	anotherErr := New(ERR_BLOCK_INVALID, "another block is invalid")
	fourthErr := New(ERR_SERVICE_ERROR, "older error", thirdErr)

	require.Equal(t, "[ProcessBlock][_test_string_] failed to store block", secondErr.Message())

	require.True(t, anotherErr.Is(thirdErr))
	require.True(t, fourthErr.Is(ErrBlockInvalid))
	require.True(t, fourthErr.Is(err))
	require.False(t, anotherErr.Is(fourthErr))
	require.False(t, fourthErr.Is(ErrBlockNotFound))
}

func Test_FmtWrappedCustomError(t *testing.T) {
	err := New(ERR_NOT_FOUND, "resource not found")

	fmtError := fmt.Errorf("error: %w", err)
	secondErr := New(ERR_INVALID_ARGUMENT, "wrapping fmt error", fmtError)

	// the chain is broken by the fmt error, so codes do not match through it
	require.False(t, secondErr.Is(err))
	require.True(t, errors.Is(fmtError, ErrNotFound))
}

func Test_InvalidCode(t *testing.T) {
	err := New(ERR(9999), "whatever")
	assert.Equal(t, "invalid error code", err.Message())
}

func Test_As(t *testing.T) {
	inner := NewRequestTimeoutError("no answer from %s", "peer-1")
	outer := NewProcessingError("chunk failed", inner)

	var tErr *Error
	require.True(t, As(outer, &tErr))
	assert.Equal(t, ERR_PROCESSING, tErr.Code())

	assert.Equal(t, ERR_PROCESSING, CodeOf(outer))
	assert.Equal(t, ERR_UNKNOWN, CodeOf(errors.New("plain")))
	assert.Equal(t, ERR_UNKNOWN, CodeOf(nil))
}

func Test_Join(t *testing.T) {
	assert.Nil(t, Join(nil, nil))

	err := Join(NewStorageError("a"), nil, NewServiceError("b"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_ERROR")
	assert.Contains(t, err.Error(), "SERVICE_ERROR")
}

func Test_ErrorString(t *testing.T) {
	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.Equal(t, ERR_UNKNOWN, nilErr.Code())

	err := NewConfigurationError("chunkSize must be positive")
	assert.Equal(t, "CONFIGURATION (5): chunkSize must be positive", err.Error())

	wrapped := NewStorageError("could not open %s", "blocks.db", NewConfigurationError("bad url"))
	assert.Equal(t, "STORAGE_ERROR (62): could not open blocks.db: CONFIGURATION (5): bad url", wrapped.Error())
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		peer      bool
		malicious bool
		category  string
	}{
		{"nil", nil, false, false, "none"},
		{"invalid block", NewBlockInvalidError("bad pow"), true, true, "malicious"},
		{"protocol violation", NewPeerProtocolViolationError("bad skeleton"), true, true, "malicious"},
		{"timeout", NewRequestTimeoutError("late"), true, false, "timeout"},
		{"unexpected", NewPeerUnexpectedMessageError("who asked"), true, false, "network"},
		{"orphan", NewBlockOrphanError("no parent"), false, false, "block"},
		{"storage", NewStorageError("disk"), false, false, "storage"},
		{"configuration", NewConfigurationError("bad"), false, false, "configuration"},
		{"context", context.Canceled, false, false, "context"},
		{"wrapped timeout", NewProcessingError("chunk", NewRequestTimeoutError("late")), false, false, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.peer, IsPeerError(tt.err))
			assert.Equal(t, tt.malicious, IsMaliciousResponseError(tt.err))
			assert.Equal(t, tt.category, GetErrorCategory(tt.err))
		})
	}
}
