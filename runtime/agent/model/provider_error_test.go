package model

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFromStatus(t *testing.T) {
	cases := map[int]ProviderErrorKind{
		http.StatusUnauthorized:        ProviderErrorKindAuth,
		http.StatusForbidden:           ProviderErrorKindAuth,
		http.StatusTooManyRequests:     ProviderErrorKindRateLimited,
		http.StatusBadGateway:          ProviderErrorKindUnavailable,
		http.StatusRequestTimeout:      ProviderErrorKindUnavailable,
		http.StatusBadRequest:          ProviderErrorKindInvalidRequest,
		0:                              ProviderErrorKindUnknown,
		http.StatusInternalServerError: ProviderErrorKindUnavailable,
	}
	for status, want := range cases {
		require.Equal(t, want, KindFromStatus(status), "status %d", status)
	}
}

func TestProviderErrorMatchesRateLimited(t *testing.T) {
	err := fmt.Errorf("phase one: %w", NewProviderError("openai", http.StatusTooManyRequests, "rate_limit_exceeded", "slow down", nil))
	require.ErrorIs(t, err, ErrRateLimited)

	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.True(t, pe.Retryable())
	require.Equal(t, "openai rate_limited (429): rate_limit_exceeded: slow down", pe.Error())

	bad := NewProviderError("openai", http.StatusBadRequest, "", "", errors.New("boom"))
	require.NotErrorIs(t, bad, ErrRateLimited)
	require.False(t, bad.Retryable())
	require.Equal(t, "openai invalid_request (400): boom", bad.Error())
}
