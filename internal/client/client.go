// Package client talks to the logistics API over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"logistics/api/internal/importer"
	"logistics/api/internal/search"
	"logistics/api/internal/store"
	"logistics/api/internal/syncer"
)

// APIError is the error envelope returned by the server.
type APIError struct {
	Status  int             `json:"-"`
	Code    string          `json:"code"`
	Message string          `json:"error"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// ImportResult is the server's answer to an accepted import.
type ImportResult struct {
	Imported  int             `json:"imported"`
	Companies []store.Company `json:"companies"`
	Form      importer.Form   `json:"form"`
}

// Client keeps one session id for every call. Reads are retried; writes are
// sent once so an import is never applied twice.
type Client struct {
	reads  *resty.Client
	writes *resty.Client
	log    *zap.Logger
}

func New(baseURL, sessionID string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	reads := newResty(baseURL, sessionID).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	return &Client{
		reads:  reads,
		writes: newResty(baseURL, sessionID),
		log:    log,
	}
}

func newResty(baseURL, sessionID string) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	if sessionID != "" {
		client.SetHeader("X-Session-ID", sessionID)
	}
	return client
}

// ImportFile uploads a JSON file the same way the import screen does.
func (c *Client) ImportFile(ctx context.Context, filename string, data []byte) (*ImportResult, error) {
	var result ImportResult
	resp, err := c.writes.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetResult(&result).
		Post("/api/import")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	c.log.Info("import accepted", zap.Int("imported", result.Imported))
	return &result, nil
}

// ImportText submits pasted JSON text.
func (c *Client) ImportText(ctx context.Context, text string) (*ImportResult, error) {
	var result ImportResult
	resp, err := c.writes.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"buffer": text}).
		SetResult(&result).
		Post("/api/import")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Status(ctx context.Context) (*syncer.Status, error) {
	var status syncer.Status
	resp, err := c.reads.R().SetContext(ctx).SetResult(&status).Get("/api/status")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Lookup(ctx context.Context, query string) (*search.Response, error) {
	var out search.Response
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParam("q", query).
		SetResult(&out).
		Get("/api/lookup")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Export downloads the SOP guide in the given format ("html" or "pdf").
func (c *Client) Export(ctx context.Context, format string) ([]byte, error) {
	resp, err := c.reads.R().SetContext(ctx).Get("/api/export/sop." + format)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Reset wipes the registry and restores the SOP template.
func (c *Client) Reset(ctx context.Context, confirmed bool) error {
	req := c.writes.R().SetContext(ctx)
	if confirmed {
		req.SetQueryParam("confirm", "true")
	}
	resp, err := req.Post("/api/admin/reset")
	return c.check(resp, err)
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if jsonErr := json.Unmarshal(resp.Body(), apiErr); jsonErr != nil || apiErr.Message == "" {
		apiErr.Code = "HTTP_ERROR"
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	c.log.Debug("api error",
		zap.String("url", resp.Request.URL),
		zap.Int("status", apiErr.Status),
		zap.String("code", apiErr.Code),
	)
	return apiErr
}
