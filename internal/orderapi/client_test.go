package orderapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler, maxBytes int64) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(Options{
		BaseURL:            srv.URL,
		RequestsPerSecond:  1000,
		Burst:              1000,
		MaxAttachmentBytes: maxBytes,
	})
	return client, srv
}

func TestGetOrderDecodesManifest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/orders/ORD123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "ORD123",
			"customer": "ACME GmbH",
			"attachments": [
				{"id": "att-1", "content_type": "image/jpeg"},
				{"id": "att-2", "content_type": "image/png"}
			]
		}`))
	}), 0)

	order, err := client.GetOrder(context.Background(), "ORD123")
	require.NoError(t, err)
	assert.Equal(t, "ORD123", order.ID)
	assert.Equal(t, "ACME GmbH", order.Customer)
	require.Len(t, order.Attachments, 2)
	assert.Equal(t, "att-1", order.Attachments[0].ID)
}

func TestGetOrderNotFoundIsTerminal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), 0)

	_, err := client.GetOrder(context.Background(), "ORD404")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.False(t, IsTransient(err))
}

func TestGetOrderServerErrorIsTransient(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flaky", http.StatusBadGateway)
	}), 0)

	_, err := client.GetOrder(context.Background(), "ORD500")
	require.Error(t, err)
	assert.True(t, IsTransient(err))

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusBadGateway, upstream.Status)
}

func TestGetAttachmentReturnsBytes(t *testing.T) {
	payload := strings.Repeat("x", 64)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attachments/att-1", r.URL.Path)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte(payload))
	}), 1024)

	att, err := client.GetAttachment(context.Background(), AttachmentRef{ID: "att-1"})
	require.NoError(t, err)
	assert.Equal(t, []byte(payload), att.Data)
	assert.Equal(t, "image/jpeg", att.ContentType)
}

func TestGetAttachmentOversizedFails(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}), 1024)

	_, err := client.GetAttachment(context.Background(), AttachmentRef{ID: "att-big"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)
	assert.False(t, IsTransient(err), "oversized payloads must not be retried")
}

func TestGetAttachmentMissingIsTerminal(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}), 0)

	_, err := client.GetAttachment(context.Background(), AttachmentRef{ID: "att-missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAttachmentUnavailable)
	assert.False(t, IsTransient(err))
}

func TestGetAttachmentNetworkErrorIsTransient(t *testing.T) {
	var calls atomic.Int64
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}), 0)
	srv.Close()

	_, err := client.GetAttachment(context.Background(), AttachmentRef{ID: "att-1"})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, int64(0), calls.Load())
}

func TestIsTransientContextErrors(t *testing.T) {
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&UpstreamError{Op: "x", Err: context.DeadlineExceeded}))
	assert.False(t, IsTransient(errors.New("misc")))
	assert.True(t, IsTransient(&UpstreamError{Op: "x", Status: 503}))
}
