// Package catalog is the HTTP client for the upstream imagery platform.
// It is an external collaborator of the token and budget core: the auth
// broker uses Whoami to validate credentials, the order broker uses
// QuoteArchive and OrderArchive around the two-phase confirmation.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"pkt.systems/pslog"

	"github.com/skygate-io/skygate/pkg/models"
)

var (
	// ErrUnauthorized means the upstream rejected the credential.
	ErrUnauthorized = errors.New("catalog: credential rejected")
	// ErrUpstream wraps any other upstream failure.
	ErrUpstream = errors.New("catalog: upstream failure")
)

// Transient failures get a small bounded number of retries; everything the
// upstream answered deliberately (4xx) is final.
const (
	maxAttempts  = 3
	retryBackoff = 250 * time.Millisecond
)

// Config describes the upstream platform endpoint.
type Config struct {
	URL             string
	Timeout         time.Duration
	ForceLowestCost bool
}

// Client talks to the platform API. The credential is passed per call so
// one client serves every session.
type Client struct {
	cfg    Config
	http   *http.Client
	logger pslog.Logger
}

// NewClient creates a Client with a bounded request timeout.
func NewClient(cfg Config, logger pslog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Whoami validates a credential against the upstream identity endpoint and
// returns the account it belongs to.
func (c *Client) Whoami(ctx context.Context, apiKey string) (models.UserInfo, error) {
	var user models.UserInfo
	if err := c.do(ctx, http.MethodGet, "/auth/whoami", apiKey, nil, &user); err != nil {
		return models.UserInfo{}, err
	}
	return user, nil
}

// SearchArchives queries the archive catalog. With ForceLowestCost set,
// results are pinned to low resolution and open data and sorted cheapest
// first.
func (c *Client) SearchArchives(ctx context.Context, apiKey string, req models.SearchRequest) ([]models.Archive, error) {
	if c.cfg.ForceLowestCost {
		req.Resolution = "LOW"
		req.OpenData = true
	}
	var resp struct {
		Results []models.Archive `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/archives", apiKey, req, &resp); err != nil {
		return nil, err
	}
	if c.cfg.ForceLowestCost {
		sort.Slice(resp.Results, func(i, j int) bool {
			return resp.Results[i].Price < resp.Results[j].Price
		})
	}
	return resp.Results, nil
}

// QuoteArchive prices an order spec.
func (c *Client) QuoteArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (models.Cents, string, error) {
	payload := map[string]any{
		"aoi":       spec.AOI,
		"archiveId": spec.ArchiveID,
	}
	var resp struct {
		Price    float64 `json:"price"`
		Currency string  `json:"currency"`
	}
	if err := c.do(ctx, http.MethodPost, "/pricing/archive", apiKey, payload, &resp); err != nil {
		return 0, "", err
	}
	currency := resp.Currency
	if currency == "" {
		currency = "USD"
	}
	return models.CentsFromDollars(resp.Price), currency, nil
}

// OrderArchive places an order and returns the upstream order reference.
// Delivery is pinned to the platform's own download URLs, so no cloud
// storage parameters are needed.
func (c *Client) OrderArchive(ctx context.Context, apiKey string, spec models.OrderSpec) (string, error) {
	payload := map[string]any{
		"aoi":            spec.AOI,
		"archiveId":      spec.ArchiveID,
		"deliveryDriver": "NONE",
		"deliveryParams": nil,
	}
	var resp struct {
		ID      string `json:"id"`
		OrderID string `json:"orderId"`
	}
	if err := c.do(ctx, http.MethodPost, "/order-archive", apiKey, payload, &resp); err != nil {
		return "", err
	}
	if resp.OrderID != "" {
		return resp.OrderID, nil
	}
	return resp.ID, nil
}

// do performs one API call with bounded retries for transport-level
// failures and 5xx responses. 4xx responses are final.
func (c *Client) do(ctx context.Context, method, path, apiKey string, body, out any) error {
	var reqBody []byte
	if body != nil {
		var err error
		if reqBody, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBackoff * time.Duration(attempt-1)):
			}
		}

		err, retryable := c.once(ctx, method, path, apiKey, reqBody, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
		c.logger.Warn("catalog.retry",
			"path", path,
			"attempt", attempt,
			"error", err,
		)
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path, apiKey string, body []byte, out any) (err error, retryable bool) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err), false
	}
	req.Header.Set("X-Skyfi-Api-Key", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err), true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized, false
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode), true
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg), false
	}

	if out == nil {
		return nil, false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err), false
	}
	return nil, false
}
