//go:build ignore

// mock-provider-server.go - Mock OAuth token endpoint for local testing
//
// Usage:
//   go run scripts/mock-provider-server.go
//
// Point providers.token_url at http://localhost:8088/token and the vault's
// refresh flow will mint short-lived fake access tokens instead of calling
// the real provider.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const port = 8088

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func main() {
	http.HandleFunc("/token", handleToken)
	http.HandleFunc("/health", handleHealth)

	addr := fmt.Sprintf(":%d", port)
	log.Printf("Mock provider token server starting on http://localhost%s", addr)
	log.Printf("POST /token  - refresh_token grant, returns a fake access token")
	log.Printf("GET  /health - Health check")
	log.Fatal(http.ListenAndServe(addr, nil))
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	grant := r.FormValue("grant_type")
	refresh := r.FormValue("refresh_token")
	log.Printf("Token request: grant_type=%s, refresh_token=%q", grant, refresh)

	if grant != "refresh_token" || refresh == "" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	resp := tokenResponse{
		AccessToken: fmt.Sprintf("mock-access-%d", time.Now().Unix()),
		TokenType:   "Bearer",
		ExpiresIn:   3600,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	log.Printf("Issued token %s", resp.AccessToken)
}
