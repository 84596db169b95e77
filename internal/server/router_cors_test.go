package server

import (
	"net/http"
	"strings"
	"testing"
)

func TestCORSPreflightAllowsMutationMethods(t *testing.T) {
	env := newTestEnv(t)

	request, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/studies", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Origin", "https://tracker.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("preflight request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, response.StatusCode)
	}

	allowMethods := response.Header.Get("Access-Control-Allow-Methods")
	for _, method := range []string{http.MethodPatch, http.MethodDelete} {
		if !strings.Contains(allowMethods, method) {
			t.Fatalf("expected Access-Control-Allow-Methods to include %s, got %q", method, allowMethods)
		}
	}

	allowHeaders := response.Header.Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}
}
