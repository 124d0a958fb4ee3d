// Package remark is the HTTP client of the remark42 comment backend.
package remark

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

	"go.uber.org/zap"
)

const (
	apiPrefix        = "/api/v1"
	credentialHeader = "X-JWT"
	defaultTimeout   = 10 * time.Second
	maxErrorBody     = 64 << 10
)

var (
	errMissingBaseURL = errors.New("remark: base url required")
	errMissingSiteID  = errors.New("remark: site id required")
	// ErrInvalidClientConfig wraps configuration failures of NewClient.
	ErrInvalidClientConfig = errors.New("remark: invalid client config")
)

// APIError is a non-2xx response of the backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"error"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	message := e.Details
	if message == "" {
		message = e.Message
	}
	if message == "" {
		message = http.StatusText(e.Status)
	}
	return fmt.Sprintf("remark: status %d: %s", e.Status, message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// ClientConfig bundles the settings of a Client.
type ClientConfig struct {
	BaseURL    string
	SiteID     string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// Client issues requests against one remark42 site.
type Client struct {
	baseURL    *url.URL
	siteID     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	rawBase := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if rawBase == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	baseURL, err := url.Parse(rawBase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	siteID := strings.TrimSpace(cfg.SiteID)
	if siteID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingSiteID)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		siteID:     siteID,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SiteID returns the site every request is scoped to.
func (c *Client) SiteID() string {
	return c.siteID
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	token   string
	noAPI   bool
	decodes any
}

func (c *Client) do(ctx context.Context, req request) error {
	endpoint := *c.baseURL
	if req.noAPI {
		endpoint.Path += req.path
	} else {
		endpoint.Path += apiPrefix + req.path
	}
	query := req.query
	if query == nil {
		query = url.Values{}
	}
	query.Set("site", c.siteID)
	endpoint.RawQuery = query.Encode()

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("remark: encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, req.method, endpoint.String(), body)
	if err != nil {
		return err
	}
	httpRequest.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpRequest.Header.Set("Content-Type", "application/json")
	}
	if req.token != "" {
		httpRequest.Header.Set(credentialHeader, req.token)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		c.logger.Debug("remark request failed", zap.String("method", req.method), zap.String("path", req.path), zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: response.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, apiErr)
		}
		c.logger.Debug(
			"remark request rejected",
			zap.String("method", req.method),
			zap.String("path", req.path),
			zap.Int("status", response.StatusCode),
			zap.Int("code", apiErr.Code),
		)
		return apiErr
	}

	if req.decodes == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(req.decodes); err != nil {
		return fmt.Errorf("remark: decode %s: %w", req.path, err)
	}
	return nil
}
