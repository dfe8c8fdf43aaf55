package batch

import (
	"fmt"
	"regexp"
	"strings"
)

// IDPattern builds the order identifier pattern for a site prefix:
// the prefix followed by at least one alphanumeric character.
func IDPattern(prefix string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(prefix) + "[A-Za-z0-9]+$")
}

// NormalizeRequest trims, deduplicates (first-seen order preserved) and
// validates the requested identifiers. Any violation rejects the whole
// request before work starts.
func NormalizeRequest(orderIDs []string, maxBatchSize int, pattern *regexp.Regexp) ([]string, error) {
	seen := make(map[string]struct{}, len(orderIDs))
	deduped := make([]string, 0, len(orderIDs))
	for _, rawID := range orderIDs {
		id := strings.TrimSpace(rawID)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		if pattern != nil && !pattern.MatchString(id) {
			return nil, NewErrInvalidOrderID(id)
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}
	if len(deduped) == 0 {
		return nil, ErrNoOrderIDs
	}
	if maxBatchSize > 0 && len(deduped) > maxBatchSize {
		return nil, fmt.Errorf("%w: %d orders, cap is %d", ErrBatchTooLarge, len(deduped), maxBatchSize)
	}
	return deduped, nil
}
