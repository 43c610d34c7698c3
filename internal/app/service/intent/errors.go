package intent

import "errors"

var (
	// ErrCartValidation covers every way the requested purchase set can be
	// unusable: unknown IDs, wrong buyer, or items already paid for.
	ErrCartValidation = errors.New("intent: cart validation failed")
	// ErrInconsistentLink means the requested purchases are linked to more
	// than one existing transaction. That state needs manual untangling.
	ErrInconsistentLink = errors.New("intent: purchases linked to different transactions")
	// ErrGatewayDispatch wraps a failure to obtain a hosted payment page.
	ErrGatewayDispatch = errors.New("intent: gateway dispatch failed")
	// ErrChargeUnresolved means a token charge was attempted but its outcome
	// could not be confirmed either way. No second charge path may be opened
	// until the gateway answers conclusively.
	ErrChargeUnresolved = errors.New("intent: token charge outcome unresolved")
)
