package mealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adamavenir/mealsync/internal/types"
)

const (
	defaultTimeout       = 20 * time.Second
	defaultUploadTimeout = 60 * time.Second

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
	// maxErrorMessageBytes caps the server text kept on an APIError.
	maxErrorMessageBytes = 1 << 10
)

// ErrResponseTooLarge is returned when a successful response exceeds the read cap.
var ErrResponseTooLarge = errors.New("meal api response too large")

// APIError represents a non-2xx response from the meal API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("meal api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("meal api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("meal api error (%d)", e.Status)
}

// Reason returns the server-provided message, falling back to the status text.
func (e *APIError) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", e.Status)
}

type apiErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	Token         string
	Timeout       time.Duration
	UploadTimeout time.Duration
	// Transport replaces the default round tripper, mainly for tests.
	Transport http.RoundTripper
}

// Client talks to the meal analysis API.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	uploadClient *http.Client
}

// NewClient constructs a meal API client.
func NewClient(baseURL string, opts Options) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	uploadTimeout := opts.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = defaultUploadTimeout
	}
	return &Client{
		baseURL:      normalized,
		token:        opts.Token,
		httpClient:   &http.Client{Timeout: timeout, Transport: opts.Transport},
		uploadClient: &http.Client{Timeout: uploadTimeout, Transport: opts.Transport},
	}, nil
}

// NormalizeBaseURL normalizes an API base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// UploadRequest is the body of POST /meals.
type UploadRequest struct {
	MealID string `json:"meal_id"`
	B64Img string `json:"b64_img"`
}

// FeedbackRequest is the body of POST /meals/feedback.
type FeedbackRequest struct {
	MealID   string `json:"meal_id"`
	Feedback string `json:"feedback"`
}

// SyncResponse is returned by GET /meals/sync.
type SyncResponse struct {
	Analyses []types.Analysis `json:"analyses"`
}

// Upload submits a photo for analysis. Success means the analysis was
// accepted, the result arrives later.
func (c *Client) Upload(ctx context.Context, req UploadRequest) error {
	return c.doJSON(ctx, c.uploadClient, http.MethodPost, "/meals", nil, req, nil)
}

// Feedback asks the service to re-analyse a meal with user feedback.
func (c *Client) Feedback(ctx context.Context, req FeedbackRequest) error {
	return c.doJSON(ctx, c.httpClient, http.MethodPost, "/meals/feedback", nil, req, nil)
}

// Sync fetches analyses completed since the given time.
func (c *Client) Sync(ctx context.Context, since time.Time) (SyncResponse, error) {
	var resp SyncResponse
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))
	if err := c.doJSON(ctx, c.httpClient, http.MethodGet, "/meals/sync", query, nil, &resp); err != nil {
		return SyncResponse{}, err
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, client *http.Client, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return err
	}
	oversized := len(respData) > maxResponseBytes
	if oversized {
		respData = respData[:maxResponseBytes]
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(resp.StatusCode, respData)
	}
	if oversized {
		return fmt.Errorf("%s: %w", path, ErrResponseTooLarge)
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	if err := json.Unmarshal(respData, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func parseAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{Status: status}
	var payload apiErrorPayload
	if err := json.Unmarshal(data, &payload); err == nil && (payload.Error != "" || payload.Message != "") {
		switch {
		case payload.Message != "":
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		default:
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if len(data) > maxErrorMessageBytes {
		data = data[:maxErrorMessageBytes]
	}
	apiErr.Message = strings.TrimSpace(strings.ToValidUTF8(string(data), ""))
	return apiErr
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	endpoint := base.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
