package migrations

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/sitelens/insights-middleware/pkg/pgutil/migrations"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating user_integrations table...")
		if err := mghelper.CreateSchema(ctx, db, &syncstore.IntegrationDao{}); err != nil {
			return err
		}

		// One row per remote account per provider per user.
		_, err := db.ExecContext(ctx,
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_user_integrations_identity "+
				"ON user_integrations (user_id, provider, remote_account_id)")
		if err != nil {
			return err
		}

		// Sweep queries filter on activation and backfill state.
		return mghelper.CreateIndexes(ctx, db, "user_integrations", "user_id", "is_active")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping user_integrations table...")
		return mghelper.DropTables(ctx, db, &syncstore.IntegrationDao{})
	})
}
