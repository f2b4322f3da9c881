package types

import (
	errorsmod "cosmossdk.io/errors"
)

// Codespace of the relay errors.
const Codespace = "relay"

// errors
var (
	ErrTransport           = errorsmod.Register(Codespace, 2, "ledger transport error")
	ErrRejectedByLedger    = errorsmod.Register(Codespace, 3, "rejected by ledger")
	ErrRegistrationFailure = errorsmod.Register(Codespace, 4, "oracle registration failed")
	ErrUnknownOracle       = errorsmod.Register(Codespace, 5, "unknown oracle")
	ErrMalformedEvent      = errorsmod.Register(Codespace, 6, "malformed event")
	ErrInvalidStatusCode   = errorsmod.Register(Codespace, 7, "invalid status code")
)
