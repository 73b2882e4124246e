package claims

import "errors"

// Sentinel errors for claim tracking.
var (
	ErrEntitlementUnavailable = errors.New("entitlement unavailable")
	ErrInvalidClaim           = errors.New("invalid claim entry")
)
