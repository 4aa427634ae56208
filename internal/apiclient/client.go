// Package apiclient talks to the remote plant disease API over HTTP.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/media"
)

const (
	predictPath  = "/api/v1/predict"
	diseasesPath = "/api/v1/diseases"
	historyPath  = "/api/v1/predictions/history"
	tokenPath    = "/api/v1/auth/token"
	mePath       = "/api/v1/auth/me"
	registerPath = "/api/v1/auth/register"

	maxErrorBody = 64 << 10
)

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client implements classifier.Client and the rest of the remote contract.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

var _ classifier.Client = (*Client)(nil)

// New creates a client for the API rooted at baseURL.
func New(baseURL string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  logger.Named("api_client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Predict uploads asset as multipart field "file" and decodes the prediction.
func (c *Client) Predict(ctx context.Context, asset *media.Asset, token string) (*classifier.Result, error) {
	start := time.Now()

	body, contentType, err := multipartImage(asset)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, predictPath, body, token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var result classifier.Result
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "invalid prediction: " + err.Error(), Path: predictPath}
	}

	c.logger.Info("prediction received",
		zap.String("disease", result.DiseaseName),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("latency", time.Since(start)),
	)
	return &result, nil
}

// Diseases fetches the disease guide.
func (c *Client) Diseases(ctx context.Context, token string) ([]Disease, error) {
	req, err := c.newRequest(ctx, http.MethodGet, diseasesPath, nil, token)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Diseases []Disease `json:"diseases"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Diseases, nil
}

// History fetches the prediction history of the token's owner.
func (c *Client) History(ctx context.Context, token string) ([]Prediction, error) {
	req, err := c.newRequest(ctx, http.MethodGet, historyPath, nil, token)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Predictions []Prediction `json:"predictions"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Predictions, nil
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(ctx, http.MethodPost, tokenPath, strings.NewReader(form.Encode()), "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var token Token
	if err := c.do(req, &token); err != nil {
		return nil, err
	}
	if token.AccessToken == "" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "empty access token", Path: tokenPath}
	}
	return &token, nil
}

// Me returns the account behind token.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, mePath, nil, token)
	if err != nil {
		return nil, err
	}
	var user User
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, reg Registration) (*User, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, registerPath, bytes.NewReader(payload), "")
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var user User
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, token string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Transport failures are
// returned as-is; non-2xx responses become *APIError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp, req.URL.Path)
		c.logger.Warn("api error",
			zap.String("path", req.URL.Path),
			zap.Int("status", apiErr.StatusCode),
			zap.String("message", apiErr.Message),
		)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Path: req.URL.Path}
	}
	return nil
}

func parseError(resp *http.Response, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := parseDetail(body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message, Path: path}
}

func multipartImage(asset *media.Asset) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, asset.Name()))
	header.Set("Content-Type", asset.MIMEType())

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create form part: %w", err)
	}
	if _, err := part.Write(asset.Bytes()); err != nil {
		return nil, "", fmt.Errorf("write form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
