// seed creates the initial admin account from SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD.
// Idempotent: does nothing if a user with that email already exists.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/password"
	"credential-lifecycle/backend/internal/security"
	"credential-lifecycle/backend/internal/user/domain"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SeedAdminPassword == "" {
		log.Fatal("SEED_ADMIN_PASSWORD is not set")
	}
	email := domain.NormalizeEmail(cfg.SeedAdminEmail)
	if err := domain.ValidateEmail(email); err != nil {
		log.Fatalf("SEED_ADMIN_EMAIL: %v", err)
	}
	if err := password.NewPolicy(cfg.CommonPasswordList()).ValidateStrength(cfg.SeedAdminPassword); err != nil {
		log.Fatalf("SEED_ADMIN_PASSWORD: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 2})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	users := userrepo.NewPostgresRepository(pool)

	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", email)
		return
	}

	hash, err := security.NewHasher(cfg.BcryptCost, 1).Hash(ctx, cfg.SeedAdminPassword)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	now := time.Now().UTC()
	admin := &domain.User{
		ID:            uuid.NewString(),
		Email:         email,
		PasswordHash:  hash,
		Role:          domain.RoleAdmin,
		IsActive:      true,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, userrepo.ErrEmailTaken) {
			log.Printf("Seed already applied (%s exists). Skipping.", email)
			return
		}
		log.Fatalf("create admin: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Admin login: %s (id %s)\n", email, admin.ID)
}
