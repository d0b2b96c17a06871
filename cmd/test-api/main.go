// Package main is a smoke-test utility that verifies a deployed audit trail is
// reachable and accepting records. It checks /health, writes one record through
// pkg/auditclient and prints the resulting id, which makes it useful for quick
// post-deployment checks without a full integration test suite.
//
// Usage:
//
//	AUDIT_URL=http://localhost:8080 AUDIT_TOKEN=$(token u-1) test-api
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/academy-hub/audit-trail/pkg/auditclient"
)

func main() {
	baseURL := os.Getenv("AUDIT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	fmt.Printf("Health: %d %s\n", resp.StatusCode, body)

	token := os.Getenv("AUDIT_TOKEN")
	if token == "" {
		fmt.Println("AUDIT_TOKEN not set, skipping write check")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := auditclient.New(baseURL)
	id, err := client.Record(ctx, token, auditclient.Origin{UserAgent: "audit-trail-smoke-test"}, auditclient.Payload{
		Action:        "confirm",
		EntityType:    "smoke_test",
		SummaryKey:    "smoke_test.confirmed",
		SummaryParams: map[string]interface{}{"at": time.Now().UTC().Format(time.RFC3339)},
	})
	if err != nil {
		fmt.Printf("Write failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Recorded: %s\n", id)
}
