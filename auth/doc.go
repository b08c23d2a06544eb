// Package auth defines the authentication seam the HTTP transport
// plugs into. An [Authenticator] validates bearer credentials and
// yields a [UserInfo]; the challenge helpers build the RFC 6750
// WWW-Authenticate values the transport emits on failure.
package auth
