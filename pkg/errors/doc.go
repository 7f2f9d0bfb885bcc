// Package errors provides structured error handling with error codes for realm-idm.
//
// This package standardizes error handling across all services with typed error codes,
// structured error details, and automatic HTTP status code mapping.
//
// # Basic Usage
//
// Creating errors with codes:
//
//	import "github.com/tendant/realm-idm/pkg/errors"
//
//	// Create a simple error
//	err := errors.New(errors.ErrCodeInvalidCredentials, "invalid credentials")
//
//	// Wrap an existing error
//	err := errors.Wrap(dbErr, errors.ErrCodeInternal, "failed to query database")
//
// # Error Codes
//
// The codes cover the authorization core taxonomy: grant selection
// (ErrCodeInvalidGrant), credential verification (ErrCodeInvalidCredentials,
// ErrCodeInactive), token verification (ErrCodeTokenExpired,
// ErrCodeTokenInvalid), permission checks (ErrCodeForbidden), and identity
// federation (ErrCodeDuplicateName, ErrCodeBindFailed).
//
// # Checking Error Codes
//
//	if errors.IsCode(err, errors.ErrCodeDuplicateName) {
//		// retry with another name candidate
//	}
//
// # HTTP Status Mapping
//
//	status := errors.MapErrorCodeToHTTPStatus(errors.GetCode(err))
package errors
