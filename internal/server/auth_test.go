package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		apiKey    string
		header    string
		wantCode  int
		challenge bool
	}{
		{name: "disabled without key", apiKey: "", header: "", wantCode: http.StatusOK},
		{name: "disabled ignores header", apiKey: "", header: "Bearer anything", wantCode: http.StatusOK},
		{name: "missing header", apiKey: "k3y", header: "", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "wrong token", apiKey: "k3y", header: "Bearer nope", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "token prefix only", apiKey: "k3y", header: "Bearer k3", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "basic scheme", apiKey: "k3y", header: "Basic bWFudWFsOnJhZw==", wantCode: http.StatusUnauthorized, challenge: true},
		{name: "valid token", apiKey: "k3y", header: "Bearer k3y", wantCode: http.StatusOK},
		{name: "lowercase scheme", apiKey: "k3y", header: "bearer k3y", wantCode: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/manuals/router-x1/query", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantCode)
			}
			if got := w.Header().Get("WWW-Authenticate") != ""; got != tc.challenge {
				t.Errorf("WWW-Authenticate present = %v, want %v", got, tc.challenge)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Bearer abc":      "abc",
		"BEARER abc":      "abc",
		"Bearer  abc ":    "abc",
		"Bearer":          "",
		"Token abc":       "",
		"":                "",
		"Bearer a b":      "a b",
		"Basic Zm9vOmJhcg": "",
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		if got := bearerToken(req); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
