package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_schema.sql
var createSchemaSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createSchemaSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS wallet_transactions;
				DROP TABLE IF EXISTS wallets;
				DROP TABLE IF EXISTS quiz_sessions;
				DROP TABLE IF EXISTS tournament_entries;
				DROP TABLE IF EXISTS questions;
				DROP TABLE IF EXISTS tournaments;
			`)
			return err
		},
	)
}
