package types

import "errors"

// Error kinds returned by the polling core. They are wrapped with fmt.Errorf
// and checked with errors.Is.
var (
	// ErrAuthentication means the authentication actor failed or timed out.
	ErrAuthentication = errors.New("authentication failed")
	// ErrResolution means no addressable metering point could be found.
	ErrResolution = errors.New("resource resolution failed")
	// ErrFetch means a data request failed after the retry budget was spent.
	ErrFetch = errors.New("fetch failed")
	// ErrAggregation means a reduction step could not use its input.
	ErrAggregation = errors.New("aggregation failed")

	// ErrUnauthorized is the portal signalling that the session is no longer
	// accepted (401 or a redirect to a login page).
	ErrUnauthorized = errors.New("portal session unauthorized")
	// ErrMalformedResponse means the portal answered with something that is
	// not the JSON shape we expect.
	ErrMalformedResponse = errors.New("malformed portal response")
)
