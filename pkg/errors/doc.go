// Package errors provides coded errors for fastid.
//
// Every failure a handler can surface carries an ErrorCode, and the code alone
// decides the HTTP status the handler answers with. Handlers never render
// custom error pages; they reply with the status text of the mapped code.
//
// # Basic Usage
//
//	import "github.com/tendant/fastid/pkg/errors"
//
//	err := errors.New(errors.ErrCodeInvalidState, "state mismatch")
//	err := errors.ProviderUnavailable(netErr, "token exchange failed")
//
//	status := errors.HTTPStatus(err) // 400, 502, ...
//
// # Error Codes
//
// Generic:
//   - ErrCodeInternal (500)
//   - ErrCodeInvalidInput (400)
//   - ErrCodeUnauthorized (401)
//   - ErrCodeRateLimitExceeded (429)
//
// Configuration (fatal at startup):
//   - ErrCodeMissingRequired
//   - ErrCodeValidationFailed
//
// Login handshake:
//   - ErrCodeAuthFailed (401)
//   - ErrCodeInvalidState (400)
//   - ErrCodeProviderUnavailable (502)
//
// Errors that are not coded map to ErrCodeInternal.
package errors
