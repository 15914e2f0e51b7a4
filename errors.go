package limitforge

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable marks a counter-store failure (connection,
// timeout, or script execution). The engine never converts it into an
// allow or a block; callers map it to HTTP 503.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

func upstreamErr(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}
