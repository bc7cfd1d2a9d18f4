package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"chatbridge/internal/domain"
	"chatbridge/internal/transport"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"configuration", domain.ConfigError("API key is required"), ErrorConfiguration},
		{"protocol", domain.ProtocolError("create_page", "no id"), ErrorProtocol},
		{"transport", domain.TransportError("auth", errors.New("dial tcp")), ErrorUpstream},
		{"rate limited", domain.TransportError("", &transport.HTTPStatusError{StatusCode: 429}), ErrorRateLimited},
		{"unknown", errors.New("boom"), ErrorInternal},
		{"passthrough", newError(ErrorInvalidInput, "empty_message", nil), ErrorInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("op", tc.err)
			require.Equal(t, tc.code, got.Code)
			require.ErrorIs(t, got, tc.err)
		})
	}
	require.Nil(t, Classify("op", nil))
}

func TestError_Format(t *testing.T) {
	require.Equal(t, "usecase: INVALID_INPUT (empty_message)", newError(ErrorInvalidInput, "empty_message", nil).Error())
	require.Equal(t, "usecase: UPSTREAM_ERROR (export): boom", newError(ErrorUpstream, "export", errors.New("boom")).Error())
}
