// Package common contains shared constants and sentinel errors used across
// the user service components.
package common

// AuthorizationHeaderName is the HTTP header (and gRPC metadata key, lower-cased)
// that carries the bearer access token.
const AuthorizationHeaderName = "Authorization"

// BearerScheme prefixes the access token inside the authorization header.
const BearerScheme = "Bearer "
