package exchange

import "errors"

// ErrRejected marks a request the exchange answered with success=false.
// Retrying it does not help.
var ErrRejected = errors.New("exchange rejected request")
