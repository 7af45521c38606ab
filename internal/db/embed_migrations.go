package db

import "embed"

// MigrationFS embeds the credential store schema (users, refresh_tokens, audit_logs).
// cmd/migrate applies it through internal/db/migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
