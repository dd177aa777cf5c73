// Package main provides a CLI tool for creating the schema and seeding the
// database with an admin user and optional demo ranges.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"fiscalseq/internal/core/id"
	"fiscalseq/internal/domain/sequence"
	"fiscalseq/internal/infrastructure/storage/postgres"
	"fiscalseq/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id                 UUID PRIMARY KEY,
	email              TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL DEFAULT '',
	password_hash      TEXT NOT NULL,
	is_admin           BOOLEAN NOT NULL DEFAULT FALSE,
	api_key_hash       TEXT,
	api_key_created_at TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_api_key_hash
	ON users (api_key_hash) WHERE api_key_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS seq_ranges (
	id              UUID PRIMARY KEY,
	owner_id        UUID NOT NULL REFERENCES users(id),
	rnc             TEXT NOT NULL,
	business_name   TEXT NOT NULL DEFAULT '',
	document_type   TEXT NOT NULL,
	type_label      TEXT NOT NULL DEFAULT '',
	prefix          TEXT NOT NULL DEFAULT 'E',
	start_number    BIGINT NOT NULL,
	end_number      BIGINT NOT NULL,
	consumed_count  BIGINT NOT NULL DEFAULT 0,
	alert_threshold BIGINT NOT NULL DEFAULT 5,
	authorized_at   TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ,
	status          TEXT NOT NULL DEFAULT 'active',
	comment         TEXT NOT NULL DEFAULT '',
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT chk_bounds CHECK (start_number >= 1 AND end_number >= start_number),
	CONSTRAINT chk_consumed CHECK (consumed_count >= 0 AND consumed_count <= end_number - start_number + 1)
);

CREATE INDEX IF NOT EXISTS idx_seq_ranges_lookup
	ON seq_ranges (owner_id, rnc, document_type, authorized_at);

CREATE TABLE IF NOT EXISTS seq_audit (
	id                 UUID PRIMARY KEY,
	range_id           UUID NOT NULL,
	action             TEXT NOT NULL,
	user_id            TEXT NOT NULL DEFAULT '',
	auth_kind          TEXT NOT NULL DEFAULT '',
	changes            JSONB,
	changes_compressed BYTEA,
	compression_algo   TEXT NOT NULL DEFAULT 'none',
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_seq_audit_range
	ON seq_audit (range_id, created_at DESC);
`

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	poolCfg := postgres.DefaultPoolConfig(dbURL)
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	if _, err := pool.Exec(ctx, schema); err != nil {
		log.Fatalw("failed to create schema", "error", err)
	}
	log.Info("schema ensured")

	adminID, err := seedAdminUser(ctx, pool, log)
	if err != nil {
		log.Fatalw("failed to seed admin user", "error", err)
	}

	if os.Getenv("SEED_DEMO_DATA") == "true" {
		if err := seedDemoRanges(ctx, pool, log, adminID); err != nil {
			log.Fatalw("failed to seed demo ranges", "error", err)
		}
	}

	log.Info("seeding completed successfully")
}

func seedAdminUser(ctx context.Context, pool *postgres.Pool, log *logger.Logger) (id.ID, error) {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		adminEmail = "admin@fiscalseq.local"
	}

	adminPassword := os.Getenv("ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "Admin123!"
	}

	var existingID id.ID
	err := pool.QueryRow(ctx,
		`SELECT id FROM users WHERE email = $1`,
		adminEmail,
	).Scan(&existingID)
	if err == nil {
		log.Infow("admin user already exists", "email", adminEmail, "user_id", existingID)
		return existingID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return id.Nil(), fmt.Errorf("check admin exists: %w", err)
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return id.Nil(), fmt.Errorf("hash password: %w", err)
	}

	userID := id.New()
	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, email, name, password_hash, is_admin)
		VALUES ($1, $2, 'System Admin', $3, true)
	`, userID, adminEmail, string(passwordHash))
	if err != nil {
		return id.Nil(), fmt.Errorf("insert admin user: %w", err)
	}

	log.Infow("admin user created", "email", adminEmail, "user_id", userID)
	return userID, nil
}

func seedDemoRanges(ctx context.Context, pool *postgres.Pool, log *logger.Logger, ownerID id.ID) error {
	expiry := time.Now().UTC().AddDate(2, 0, 0)

	demo := []struct {
		rnc       string
		docType   sequence.DocumentType
		label     string
		start     int64
		end       int64
		expiresAt *time.Time
	}{
		{"131246789", sequence.TypeCreditoFiscal, "Factura de Crédito Fiscal", 1, 5000, &expiry},
		{"131246789", sequence.TypeConsumo, "Factura de Consumo", 1, 10000, nil},
		{"131246789", sequence.TypeNotaCredito, "Nota de Crédito", 1, 500, nil},
	}

	for _, d := range demo {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM seq_ranges
				WHERE owner_id = $1 AND rnc = $2 AND document_type = $3
			)
		`, ownerID, d.rnc, string(d.docType)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check demo range: %w", err)
		}
		if exists {
			continue
		}

		rng := sequence.NewSequenceRange(ownerID, d.rnc, d.docType, d.start, d.end)
		rng.TypeLabel = d.label
		rng.ExpiresAt = d.expiresAt

		_, err = pool.Exec(ctx, `
			INSERT INTO seq_ranges (
				id, owner_id, rnc, business_name, document_type, type_label,
				prefix, start_number, end_number, consumed_count, alert_threshold,
				authorized_at, expires_at, status, comment, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`,
			rng.ID, rng.OwnerID, rng.RNC, rng.BusinessName, string(rng.DocumentType),
			rng.TypeLabel, rng.Prefix, rng.StartNumber, rng.EndNumber,
			rng.ConsumedCount, rng.AlertThreshold, rng.AuthorizedAt, rng.ExpiresAt,
			string(rng.Status), rng.Comment, rng.Version,
		)
		if err != nil {
			return fmt.Errorf("insert demo range: %w", err)
		}

		log.Infow("demo range created",
			"rnc", d.rnc,
			"document_type", string(d.docType),
			"start", d.start,
			"end", d.end,
		)
	}

	return nil
}
