package rate

import "errors"

// ErrRateLimited reports an attempt inside an active cool-down window.
// Store failures come back as ephemeral.ErrUnavailable, never as this.
var ErrRateLimited = errors.New("rate limited")
