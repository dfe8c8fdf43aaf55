// Package orderapi implements the client for the external line-of-business
// order API. The API is rate-limited and occasionally flaky; every call waits
// on a shared token bucket and reports transient failures as *UpstreamError
// so the caller's retry policy can distinguish them from terminal ones.
package orderapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// AttachmentRef identifies one attachment within an order's manifest.
type AttachmentRef struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type"`
}

// Order is the metadata plus attachment manifest returned by the API.
type Order struct {
	ID          string          `json:"id"`
	Customer    string          `json:"customer"`
	CreatedAt   time.Time       `json:"created_at"`
	Attachments []AttachmentRef `json:"attachments"`
}

// Attachment carries one downloaded binary payload.
type Attachment struct {
	Ref         AttachmentRef
	ContentType string
	Data        []byte
}

const defaultHTTPTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL            string
	RequestsPerSecond  float64
	Burst              int
	MaxAttachmentBytes int64
	HTTPClient         *http.Client
}

// Client talks to the order-data API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		maxBytes:   opts.MaxAttachmentBytes,
	}
}

// GetOrder fetches order metadata and the attachment manifest.
// Idempotent; no side effects beyond the outbound call.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	const op = "get order"
	var order Order

	resp, err := c.get(ctx, op, c.baseURL+"/orders/"+orderID)
	if err != nil {
		return order, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return order, fmt.Errorf("%s %s: %w", op, orderID, ErrOrderNotFound)
	case resp.StatusCode >= 500:
		return order, &UpstreamError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return order, fmt.Errorf("%s %s: unexpected http %d", op, orderID, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return order, fmt.Errorf("%s %s: decode response: %w", op, orderID, err)
	}
	return order, nil
}

// GetAttachment downloads one attachment's bytes. Payloads over the
// configured cap fail with ErrAttachmentTooLarge instead of being truncated.
func (c *Client) GetAttachment(ctx context.Context, ref AttachmentRef) (Attachment, error) {
	const op = "get attachment"
	attachment := Attachment{Ref: ref}

	resp, err := c.get(ctx, op, c.baseURL+"/attachments/"+ref.ID)
	if err != nil {
		return attachment, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 500:
		return attachment, &UpstreamError{Op: op, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return attachment, fmt.Errorf("%s %s: http %d: %w", op, ref.ID, resp.StatusCode, ErrAttachmentUnavailable)
	}

	if c.maxBytes > 0 && resp.ContentLength > c.maxBytes {
		return attachment, fmt.Errorf("%s %s: declared %d bytes: %w", op, ref.ID, resp.ContentLength, ErrAttachmentTooLarge)
	}

	body := io.Reader(resp.Body)
	if c.maxBytes > 0 {
		// read one extra byte to detect an oversized undeclared payload
		body = io.LimitReader(resp.Body, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return attachment, &UpstreamError{Op: op, Err: err}
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return attachment, fmt.Errorf("%s %s: %w", op, ref.ID, ErrAttachmentTooLarge)
	}

	attachment.Data = data
	attachment.ContentType = resp.Header.Get("Content-Type")
	if attachment.ContentType == "" {
		attachment.ContentType = ref.ContentType
	}
	return attachment, nil
}

func (c *Client) get(ctx context.Context, op, url string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	return resp, nil
}
