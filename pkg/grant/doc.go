// Package grant implements the token grant engine.
//
// Four grant types are supported: password (local users with directory
// fallback), robot_credentials (machine principals), refresh_token
// (single-use exchange of a previously issued pair) and identity_provider
// (authorization code exchange against an external provider followed by
// identity federation).
package grant
