package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/alexedwards/argon2id"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

// Development seeder: creates staff accounts and a sample webhook endpoint
// so a fresh database is immediately usable.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedStaff(db)
	seedWebhookEndpoints(db)

	log.Println("Seeding completed successfully!")
}

func seedStaff(db *sql.DB) {
	staff := []struct {
		Name     string
		Email    string
		Password string
		Roles    string
	}{
		{"Admin", "admin@example.com", "changeme-admin", "{staff,admin}"},
		{"Quote Desk", "quotes@example.com", "changeme-quotes", "{staff}"},
	}

	fmt.Println("Seeding staff users...")
	for _, s := range staff {
		hash, err := argon2id.CreateHash(s.Password, argon2id.DefaultParams)
		if err != nil {
			log.Printf("Failed to hash password for %s: %v", s.Email, err)
			continue
		}
		_, err = db.Exec(`
			INSERT INTO staff_users (id, name, email, password_hash, roles)
			VALUES (gen_random_uuid(), $1, $2, $3, $4)
			ON CONFLICT (email) DO NOTHING;
		`, s.Name, s.Email, hash, s.Roles)
		if err != nil {
			log.Printf("Failed to seed staff user %s: %v", s.Email, err)
		}
	}
}

func seedWebhookEndpoints(db *sql.DB) {
	target := os.Getenv("SEED_WEBHOOK_URL")
	if target == "" {
		log.Println("SEED_WEBHOOK_URL not set, skipping webhook endpoint seed")
		return
	}
	secret := os.Getenv("SEED_WEBHOOK_SECRET")
	if secret == "" {
		secret = "dev-webhook-secret"
	}

	fmt.Println("Seeding webhook endpoint...")
	_, err := db.Exec(`
		INSERT INTO webhook_endpoints (id, name, url, secret, active, topics)
		VALUES (gen_random_uuid(), 'order-management', $1, $2, true,
			'{quote.created,quote.finalized,quote.expired}')
		ON CONFLICT (name) DO UPDATE SET url = EXCLUDED.url, secret = EXCLUDED.secret;
	`, target, secret)
	if err != nil {
		log.Printf("Failed to seed webhook endpoint: %v", err)
	}
}
