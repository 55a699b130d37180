package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/mwork/social-realtime/internal/config"
	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/pkg/database"
	"github.com/mwork/social-realtime/internal/pkg/jwt"
)

// debug_login mints an access token for a local user so the websocket
// gateway and friend routes can be exercised without the account service.
func main() {
	userFlag := flag.String("user", "", "user id to issue the token for")
	nameFlag := flag.String("name", "", "display name claim (looked up when empty)")
	listFlag := flag.Bool("list", false, "list users known to the store and exit")
	flag.Parse()

	cfg := config.Load()

	if *listFlag {
		listUsers(cfg)
		return
	}

	userID, err := uuid.Parse(*userFlag)
	if err != nil {
		log.Fatalf("Invalid -user %q: %v", *userFlag, err)
	}

	name := *nameFlag
	if name == "" && !cfg.UsesMemoryStore() {
		name = lookupName(cfg, userID)
	}

	token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessToken(userID, name)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("User: %s | Name: %q | TTL: %s\n", userID, name, cfg.JWTAccessTTL)
	fmt.Println("--- Access token ---")
	fmt.Println(token)
	fmt.Println("--------------------")
	fmt.Printf("ws://localhost:%s/ws?token=%s\n", cfg.Port, token)
}

func lookupName(cfg *config.Config, userID uuid.UUID) string {
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Printf("Failed to connect to database, issuing token without name: %v", err)
		return ""
	}
	defer database.ClosePostgres(db)

	u, err := user.NewRepository(db).GetByID(context.Background(), userID)
	if errors.Is(err, user.ErrUserNotFound) {
		fmt.Println("WARNING: user not found, friend requests to and from it will fail")
		return ""
	}
	if err != nil {
		log.Printf("GetByID error for %s: %v", userID, err)
		return ""
	}
	return u.Summary().DisplayName()
}

func listUsers(cfg *config.Config) {
	if cfg.UsesMemoryStore() {
		fmt.Println("--- Seeded users (SEED_USERS) ---")
		for _, entry := range cfg.SeedUsers {
			fmt.Println(entry)
		}
		fmt.Println("---------------------------------")
		return
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.ClosePostgres(db)

	rows, err := db.Query(`SELECT id, COALESCE(name, '') FROM users ORDER BY created_at LIMIT 100`)
	if err != nil {
		log.Fatalf("Failed to query users: %v", err)
	}
	defer rows.Close()

	fmt.Println("--- Users ---")
	count := 0
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fmt.Printf("User: %s | %s\n", id, name)
		count++
	}
	fmt.Printf("Total users listed: %d\n", count)
	fmt.Println("-------------")
}
