// Package main is a development utility that mints a session JWT for a (user, tenant)
// pair, so the tenant-scoped API can be exercised locally without an identity provider
// login. It signs with ITM_JWT_SECRET, exactly like the server, and prints a
// ready-to-use Authorization header. The server still checks that the user is an
// active member of the tenant; the token only establishes who is calling.
//
//	ITM_JWT_SECRET=... go run ./scripts -user <uuid> -tenant <uuid> [-email a@b.c] [-ttl 1h]
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/chrismachala/IdentityTenantManagement-sub001/internal/auth"
)

func main() {
	userID := flag.String("user", "", "internal user id (UUID)")
	tenantID := flag.String("tenant", "", "tenant id (UUID)")
	email := flag.String("email", "", "optional email claim")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	if err := auth.ValidateIDs(*userID, *tenantID); err != nil {
		log.Fatalf("invalid ids: %v", err)
	}
	if err := auth.LoadSessionKey(true); err != nil {
		log.Fatal(err)
	}

	token, err := auth.IssueSessionToken(*userID, *tenantID, *email, *ttl)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	fmt.Println("==========================================================")
	fmt.Println("Session Token Generated")
	fmt.Println("==========================================================")
	fmt.Printf("\nUser:    %s\nTenant:  %s\nExpires: %s\n", *userID, *tenantID, time.Now().Add(*ttl).UTC().Format(time.RFC3339))
	fmt.Println("\n==========================================================")
	fmt.Printf("Authorization: Bearer %s\n", token)
	fmt.Println("==========================================================")
}
