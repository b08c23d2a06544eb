package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Challenge describes the HTTP answer to a failed authentication
// attempt: a status code and a WWW-Authenticate header value.
type Challenge struct {
	Status          int
	WWWAuthenticate string
}

// RequiredChallenge signals that credentials are required. Per RFC 6750
// §3.1 a request with no credentials at all gets no error code, just a
// bare challenge pointing at the protected resource metadata.
func RequiredChallenge(realm, resourceMetadataURL string) *Challenge {
	return &Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge(realm, resourceMetadataURL, "", ""),
	}
}

// MalformedHeaderChallenge signals an Authorization header that does not
// parse as a Bearer credential.
func MalformedHeaderChallenge(realm, resourceMetadataURL, description string) *Challenge {
	return &Challenge{
		Status:          http.StatusBadRequest,
		WWWAuthenticate: bearerChallenge(realm, resourceMetadataURL, "invalid_request", description),
	}
}

// InvalidTokenChallenge signals that the presented token was rejected.
func InvalidTokenChallenge(realm, resourceMetadataURL, description string) *Challenge {
	return &Challenge{
		Status:          http.StatusUnauthorized,
		WWWAuthenticate: bearerChallenge(realm, resourceMetadataURL, "invalid_token", description),
	}
}

// InsufficientScopeChallenge signals that the token lacks a required
// scope.
func InsufficientScopeChallenge(realm, resourceMetadataURL, description string) *Challenge {
	return &Challenge{
		Status:          http.StatusForbidden,
		WWWAuthenticate: bearerChallenge(realm, resourceMetadataURL, "insufficient_scope", description),
	}
}

// bearerChallenge renders a Bearer challenge of the form: Bearer
// realm="...", resource_metadata="...", error="...",
// error_description="...". Empty params are omitted and the order is
// fixed so callers can match on the literal value.
func bearerChallenge(realm, resourceMetadataURL, errCode, description string) string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 4)
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadataURL != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadataURL)))
	}
	if errCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(errCode)))
	}
	if description != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(description)))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}
