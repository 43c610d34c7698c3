package completion

import "errors"

// ErrTransactionNotFound is returned when a completion claim targets a
// transaction that does not exist. This is a hard error, not an
// already-processed outcome: gateway data arrived for money we have no
// record of.
var ErrTransactionNotFound = errors.New("completion: transaction not found")
