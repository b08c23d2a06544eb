package auth

import (
	"net/http"
	"testing"
)

func TestChallenges(t *testing.T) {
	const prm = "https://api.example.com/.well-known/oauth-protected-resource/rpc"

	cases := []struct {
		name       string
		ch         *Challenge
		wantStatus int
		wantHeader string
	}{
		{
			name:       "required",
			ch:         RequiredChallenge("api", prm),
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Bearer realm="api", resource_metadata="` + prm + `"`,
		},
		{
			name:       "required without realm",
			ch:         RequiredChallenge("", prm),
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Bearer resource_metadata="` + prm + `"`,
		},
		{
			name:       "malformed header",
			ch:         MalformedHeaderChallenge("api", prm, "empty bearer token"),
			wantStatus: http.StatusBadRequest,
			wantHeader: `Bearer realm="api", resource_metadata="` + prm + `", error="invalid_request", error_description="empty bearer token"`,
		},
		{
			name:       "invalid token",
			ch:         InvalidTokenChallenge("api", prm, "token expired"),
			wantStatus: http.StatusUnauthorized,
			wantHeader: `Bearer realm="api", resource_metadata="` + prm + `", error="invalid_token", error_description="token expired"`,
		},
		{
			name:       "insufficient scope",
			ch:         InsufficientScopeChallenge("api", prm, "insufficient scope"),
			wantStatus: http.StatusForbidden,
			wantHeader: `Bearer realm="api", resource_metadata="` + prm + `", error="insufficient_scope", error_description="insufficient scope"`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.ch.Status != tc.wantStatus {
				t.Errorf("status = %d, want %d", tc.ch.Status, tc.wantStatus)
			}
			if tc.ch.WWWAuthenticate != tc.wantHeader {
				t.Errorf("header = %q, want %q", tc.ch.WWWAuthenticate, tc.wantHeader)
			}
		})
	}
}

func TestChallengeEscapesQuotes(t *testing.T) {
	ch := InvalidTokenChallenge(`the "api"`, "", `bad "token"`)
	want := `Bearer realm="the \"api\"", error="invalid_token", error_description="bad \"token\""`
	if ch.WWWAuthenticate != want {
		t.Errorf("header = %q, want %q", ch.WWWAuthenticate, want)
	}
}
