// Package main mints bearer tokens for local development and smoke tests.
// Tokens are signed with AUD_JWT_SECRET exactly like the ones the academy
// application issues, so the server resolves them to the matching profile.
//
// Usage:
//
//	AUD_JWT_SECRET=... token <user-id> [ttl]
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/academy-hub/audit-trail/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <user-id> [ttl]", os.Args[0])
	}
	userID := os.Args[1]

	ttl := time.Hour
	if len(os.Args) > 2 {
		d, err := time.ParseDuration(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid ttl %q: %v", os.Args[2], err)
		}
		ttl = d
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		log.Fatalf("Security configuration error: %v", err)
	}

	token, err := auth.GenerateJWT(userID, "", ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
