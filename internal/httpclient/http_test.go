package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultTimeout = 5 * time.Second

func TestResolve(t *testing.T) {
	c, err := New(Option{BaseURL: "http://master.local/prefix", Timeout: defaultTimeout})
	require.NoError(t, err)

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"relative path", "/api/export", "http://master.local/prefix/api/export"},
		{"relative with query", "api/study?after=x", "http://master.local/prefix/api/study?after=x"},
		{"absolute", "https://other/api/x/1", "https://other/api/x/1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Resolve(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(Option{BaseURL: "not a url"})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, URLParseError, apiErr.Status)
}

func TestDo_JSONRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": body["email"]})
	}))
	defer server.Close()

	c, err := New(Option{BaseURL: server.URL, Timeout: defaultTimeout})
	require.NoError(t, err)

	var out map[string]string
	err = c.Post(context.Background(), "/api/login_password", "tok", map[string]string{"email": "a@b"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "a@b", out["echo"])
}

func TestDo_StatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		ok     bool
	}{
		{"ok", http.StatusOK, true},
		{"no content", http.StatusNoContent, true},
		{"unauthorized", http.StatusUnauthorized, false},
		{"not found", http.StatusNotFound, false},
		{"server error", http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			c, err := New(Option{BaseURL: server.URL, Timeout: defaultTimeout})
			require.NoError(t, err)

			err = c.Delete(context.Background(), "/api/x/1", "")
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusOf(err))
			assert.Equal(t, tt.status == http.StatusUnauthorized, IsUnauthorized(err))
		})
	}
}

func TestDo_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c, err := New(Option{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	err = c.Get(context.Background(), "/slow", "", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, Timeout, apiErr.Status)
	assert.True(t, apiErr.IsTransport())
}

func TestDo_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c, err := New(Option{BaseURL: url, Timeout: defaultTimeout})
	require.NoError(t, err)

	err = c.Get(context.Background(), "/api/export", "", nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ConnectionError, apiErr.Status)
}
