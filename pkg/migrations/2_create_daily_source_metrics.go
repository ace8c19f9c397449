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
		log.Println("creating daily_source_metrics table...")
		if err := mghelper.CreateSchema(ctx, db, &syncstore.DailyMetricDao{}); err != nil {
			return err
		}

		// The natural key the upsert path conflicts on.
		_, err := db.ExecContext(ctx,
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_daily_source_metrics_identity "+
				"ON daily_source_metrics (integration_id, remote_account_id, metric_date, source_dimension)")
		if err != nil {
			return err
		}

		// The ranked sources view scans per user and date range.
		_, err = db.ExecContext(ctx,
			"CREATE INDEX IF NOT EXISTS idx_daily_source_metrics_user_date "+
				"ON daily_source_metrics (user_id, metric_date)")
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping daily_source_metrics table...")
		return mghelper.DropTables(ctx, db, &syncstore.DailyMetricDao{})
	})
}
