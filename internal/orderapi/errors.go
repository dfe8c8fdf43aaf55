package orderapi

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrAttachmentUnavailable = errors.New("attachment unavailable")
	ErrAttachmentTooLarge    = errors.New("attachment exceeds byte cap")
)

// UpstreamError marks a transient failure of the order-data API: a 5xx
// response or a network-level error. Callers retry these.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: upstream http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: upstream: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying. Not-found, oversized
// payloads and context expiry are terminal; upstream 5xx/network errors are
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
