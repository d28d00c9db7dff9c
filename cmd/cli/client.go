package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// APIClient is an authenticated HTTP client for the daemon's REST API.
type APIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	userAgent  string
}

// APIError carries the status code and decoded error payload of a
// failed request.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error (status %d, code %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// NewAPIClient builds a client from the loaded configuration. The API
// key comes from the environment first, then the config file.
func NewAPIClient() (*APIClient, error) {
	cfg := loadConfig()

	scheme := "http"
	if cfg.API.TLS.Enabled {
		scheme = "https"
	}

	return &APIClient{
		baseURL: fmt.Sprintf("%s://%s:%d/api/v1", scheme, cfg.API.ListenAddr, cfg.API.Port),
		apiKey:  getAPIKey(cfg.API.APIKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent: "echolocate-cli/" + version,
	}, nil
}

// getAPIKey resolves the API key: environment variable, key file, then
// the config file value.
func getAPIKey(configKey string) string {
	if key := os.Getenv("ECHOLOCATE_API_KEY"); key != "" {
		return key
	}
	if keyFile := os.Getenv("ECHOLOCATE_API_KEY_FILE"); keyFile != "" && !strings.Contains(keyFile, "..") {
		if data, err := os.ReadFile(keyFile); err == nil { // #nosec G304
			return strings.TrimSpace(string(data))
		}
	}
	return configKey
}

// Get performs a GET request and decodes the response into out.
func (c *APIClient) Get(endpoint string, out interface{}) error {
	return c.request(http.MethodGet, endpoint, nil, out)
}

// Post performs a POST request with an optional JSON payload.
func (c *APIClient) Post(endpoint string, payload, out interface{}) error {
	return c.request(http.MethodPost, endpoint, payload, out)
}

// Put performs a PUT request with a JSON payload.
func (c *APIClient) Put(endpoint string, payload, out interface{}) error {
	return c.request(http.MethodPut, endpoint, payload, out)
}

// Delete performs a DELETE request.
func (c *APIClient) Delete(endpoint string, out interface{}) error {
	return c.request(http.MethodDelete, endpoint, nil, out)
}

func (c *APIClient) request(method, endpoint string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var decoded struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
			apiErr.Code = decoded.Code
		} else {
			apiErr.Message = fmt.Sprintf("HTTP %d error", resp.StatusCode)
		}
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// mustCreateAPIClient builds a client or exits with a helpful message.
func mustCreateAPIClient() *APIClient {
	client, err := NewAPIClient()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return client
}

// exitOnAPIError prints a friendly message for an API failure and
// exits.
func exitOnAPIError(err error, operation string) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized:
			fmt.Fprintf(os.Stderr, "Error: authentication failed for %s\n", operation)
			fmt.Fprintf(os.Stderr, "Set ECHOLOCATE_API_KEY or configure api.api_key.\n")
		case http.StatusNotFound:
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", operation, apiErr.Message)
		case http.StatusConflict:
			fmt.Fprintf(os.Stderr, "Error: %s: %s\n", operation, apiErr.Message)
		default:
			fmt.Fprintf(os.Stderr, "Error: %s failed: %s\n", operation, apiErr.Message)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s failed: %v\n", operation, err)
		fmt.Fprintf(os.Stderr, "Is the daemon running? Start it with 'echolocate daemon start'.\n")
	}
	os.Exit(1)
}
