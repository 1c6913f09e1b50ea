package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertStatusCode verifies the HTTP response status code
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode, "unexpected status code")
}

// AssertJSONResponse decodes JSON response into v and verifies success
func AssertJSONResponse(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	err = json.Unmarshal(body, v)
	require.NoError(t, err, "failed to unmarshal response: %s", string(body))
}

// AssertErrorResponse verifies error response with expected status and message
func AssertErrorResponse(t *testing.T, resp *http.Response, expectedStatus int, expectedMessage string) {
	t.Helper()

	assert.Equal(t, expectedStatus, resp.StatusCode, "unexpected status code")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")

	// Error responses are plain text in this API
	assert.Contains(t, string(body), expectedMessage, "error message mismatch")
}

// AssertCookie verifies the security attributes of a cookie set by resp.
func AssertCookie(t *testing.T, resp *http.Response, name string, httpOnly bool, path string) *http.Cookie {
	t.Helper()

	c := FindCookie(resp, name)
	require.NotNil(t, c, "cookie %s not set", name)
	assert.Equal(t, httpOnly, c.HttpOnly, "cookie %s HttpOnly", name)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite, "cookie %s SameSite", name)
	assert.Equal(t, path, c.Path, "cookie %s path", name)
	return c
}
