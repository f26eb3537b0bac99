// Package main provides a CLI that registers a user in the configured store
// and prints a signed access token for it, for local testing of the gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/chatgate/internal/config"
	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	var userID, username, avatar string
	var ttl time.Duration

	flag.StringVar(&userID, "user", "", "user ID to issue a token for (required)")
	flag.StringVar(&username, "name", "", "display name; defaults to the user ID")
	flag.StringVar(&avatar, "avatar", "", "avatar URL")
	flag.DurationVar(&ttl, "ttl", identity.DefaultTokenTTL, "token lifetime")
	flag.Parse()

	if userID == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		flag.Usage()
		os.Exit(2)
	}
	if username == "" {
		username = userID
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, userID, username, avatar, ttl); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, userID, username, avatar string, ttl time.Duration) error {
	repo, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer repo.Close()

	existing, err := repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	user := &domain.User{UserID: userID, Username: username, Avatar: avatar, Status: domain.UserOffline}
	if existing != nil {
		user.Status = existing.Status
		user.LastSeenAt = existing.LastSeenAt
	}
	if err := repo.UpsertUser(ctx, user); err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	token, err := identity.NewJWTAuthenticator(cfg.JWTSecret, repo).Issue(userID, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
