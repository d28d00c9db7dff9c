package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(srv *httptest.Server) *APIClient {
	return &APIClient{
		baseURL:    srv.URL,
		apiKey:     "el_testkey",
		httpClient: &http.Client{Timeout: time.Second},
		userAgent:  "echolocate-cli/test",
	}
}

func TestClientGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices", r.URL.Path)
		assert.Equal(t, "el_testkey", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"devices": []string{}})
	}))
	defer srv.Close()

	var out map[string]interface{}
	require.NoError(t, testClient(srv).Get("/devices", &out))
	assert.Contains(t, out, "devices")
}

func TestClientPostSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "quick", body["kind"])

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "j1", "kind": "quick"})
	}))
	defer srv.Close()

	var out map[string]string
	require.NoError(t, testClient(srv).Post("/scans", map[string]string{"kind": "quick"}, &out))
	assert.Equal(t, "j1", out["job_id"])
}

func TestClientDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "a scan is already in progress",
			"code":  "SCAN_IN_PROGRESS",
		})
	}))
	defer srv.Close()

	err := testClient(srv).Post("/scans", nil, nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "a scan is already in progress", apiErr.Message)
	assert.Equal(t, "SCAN_IN_PROGRESS", apiErr.Code)
}

func TestClientPlainTextError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := testClient(srv).Get("/status", nil)
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "HTTP 502")
}
