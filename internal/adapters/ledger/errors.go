package ledger

import "errors"

// ErrClosed is returned after the ledger has been closed.
var ErrClosed = errors.New("ledger: closed")
