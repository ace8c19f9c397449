//go:build ignore

// This script generates a session JWT for exercising the sync API locally.
// Run with: go run scripts/generate-jwt.go
//
// Environment:
//   JWT_SECRET - HMAC secret, must match the server's auth.jwt_secret
//   USER_ID    - subject of the token (default "local-user")

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET is required")
		os.Exit(1)
	}

	userID := os.Getenv("USER_ID")
	if userID == "" {
		userID = "local-user"
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": "insights-middleware",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(signed)
	fmt.Fprintf(os.Stderr, "\nsubject: %s, expires: %s\n", userID, now.Add(time.Hour).Format(time.RFC3339))
	fmt.Fprintf(os.Stderr, "usage: curl -H \"Authorization: Bearer $TOKEN\" http://localhost:8080/api/integrations/\n")
}
