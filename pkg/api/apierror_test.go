package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAPIErrorStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeAuthRequired, http.StatusUnauthorized},
		{CodePaymentRejected, http.StatusPaymentRequired},
		{CodeQuorumUnmet, http.StatusForbidden},
		{CodeNotFound, http.StatusNotFound},
		{CodePasskeyMismatch, http.StatusConflict},
		{CodeExecutionFailed, http.StatusUnprocessableEntity},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodePendingConfirmation, http.StatusAccepted},
		{CodeChainError, http.StatusBadGateway},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAPIError(rec, NewError(tc.code, "boom"))

			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tc.code), body["error"])
			assert.Equal(t, "boom", body["message"])
		})
	}
}

func TestWriteAPIErrorMasksUnknownErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIError(rec, errors.New("pq: connection refused to db at 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(CodeInternal), body["error"])
	assert.NotContains(t, body["message"], "10.0.0.5", "internal detail never leaks")
}

func TestWriteAPIErrorUnwrapsWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("dispatching: %w", NewError(CodeQuorumUnmet, "2 of 3 wallets in range"))

	rec := httptest.NewRecorder()
	WriteAPIError(rec, wrapped)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(CodeQuorumUnmet), body["error"])
}

func TestAPIErrorEnvelope(t *testing.T) {
	err := NewError(CodePasskeyMismatch, "registered passkey differs").
		WithDetail("expected", "a1b2c3...").
		WithDetail("canAutoRegister", true).
		WithSuggestion("re-register the passkey for this wallet")

	b, marshalErr := json.Marshal(err)
	require.NoError(t, marshalErr)

	var body map[string]any
	require.NoError(t, json.Unmarshal(b, &body))
	assert.Equal(t, "PasskeyMismatch", body["error"])
	details := body["details"].(map[string]any)
	assert.Equal(t, true, details["canAutoRegister"])
	suggestions := body["suggestions"].([]any)
	require.Len(t, suggestions, 1)

	assert.Equal(t, "PasskeyMismatch: registered passkey differs", err.Error())
}

func TestAPIErrorOmitsEmptyOptionalFields(t *testing.T) {
	b, err := json.Marshal(NewError(CodeNotFound, "no such rule"))
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(b, &body))
	assert.NotContains(t, body, "details")
	assert.NotContains(t, body, "suggestions")
}

func TestWriteTooManyRequestsSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteTooManyRequests(rec, 30)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}
