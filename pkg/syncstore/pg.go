package syncstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

type pgStore struct {
	db *bun.DB
}

// NewStore creates a new postgres implementation of the sync store
func NewStore(db *bun.DB) *pgStore {
	return &pgStore{db: db}
}

func (s *pgStore) CreateIntegration(ctx context.Context, integ *integration.Integration) error {
	dao := toIntegrationDao(integ)

	_, err := s.db.NewInsert().
		Model(dao).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}

	return nil
}

func applyFilters(query *bun.SelectQuery, opts []QueryOption) *bun.SelectQuery {
	options := &QueryOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.ID != nil {
		query = query.Where("id = ?", *options.ID)
	}
	if options.UserID != nil {
		query = query.Where("user_id = ?", *options.UserID)
	}
	if options.Provider != nil {
		query = query.Where("provider = ?", string(*options.Provider))
	}
	if options.RemoteAccountID != nil {
		query = query.Where("remote_account_id = ?", *options.RemoteAccountID)
	}
	if options.IsActive != nil {
		query = query.Where("is_active = ?", *options.IsActive)
	}
	if options.BackfillCompleted != nil {
		query = query.Where("backfill_completed = ?", *options.BackfillCompleted)
	}

	return query
}

func (s *pgStore) GetIntegration(ctx context.Context, opts ...QueryOption) (*integration.Integration, error) {
	dao := new(IntegrationDao)
	query := applyFilters(s.db.NewSelect().Model(dao), opts)

	err := query.Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntegrationNotFound
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}

	return toIntegration(dao), nil
}

func (s *pgStore) ListIntegrations(ctx context.Context, opts ...QueryOption) ([]*integration.Integration, error) {
	var daos []IntegrationDao
	query := applyFilters(s.db.NewSelect().Model(&daos), opts)

	err := query.Order("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}

	integrations := make([]*integration.Integration, len(daos))
	for i := range daos {
		integrations[i] = toIntegration(&daos[i])
	}
	return integrations, nil
}

func (s *pgStore) UpdateIntegration(ctx context.Context, integ *integration.Integration) error {
	dao := toIntegrationDao(integ)
	dao.UpdatedAt = time.Now().UTC()

	res, err := s.db.NewUpdate().
		Model(dao).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update integration: %w", err)
	}

	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

func (s *pgStore) DeleteIntegration(ctx context.Context, id string) error {
	_, err := s.db.NewDelete().
		Model((*IntegrationDao)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	return nil
}

// UpsertMetrics writes the rows in one transaction. A conflict on the
// natural key overwrites the existing record, so replays converge.
func (s *pgStore) UpsertMetrics(ctx context.Context, rows []*integration.DailyMetric) error {
	if len(rows) == 0 {
		return nil
	}

	now := time.Now().UTC()
	daos := make([]*DailyMetricDao, len(rows))
	for i, row := range rows {
		daos[i] = toDailyMetricDao(row, now)
	}

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&daos).
			On("CONFLICT (integration_id, remote_account_id, metric_date, source_dimension) DO UPDATE").
			Set("sessions = EXCLUDED.sessions").
			Set("users = EXCLUDED.users").
			Set("bounce_rate = EXCLUDED.bounce_rate").
			Set("avg_session_duration = EXCLUDED.avg_session_duration").
			Set("pages_per_session = EXCLUDED.pages_per_session").
			Set("conversions = EXCLUDED.conversions").
			Set("quality_score = EXCLUDED.quality_score").
			Set("channel_group = EXCLUDED.channel_group").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert metrics: %w", err)
	}
	return nil
}

func (s *pgStore) RankedSources(ctx context.Context, userID string, from, to time.Time) ([]*SourceAggregate, error) {
	var aggregates []*SourceAggregate

	err := s.db.NewSelect().
		Model((*DailyMetricDao)(nil)).
		ColumnExpr("source_dimension AS source_dimension").
		ColumnExpr("MIN(channel_group) AS channel_group").
		ColumnExpr("SUM(sessions) AS sessions").
		ColumnExpr("SUM(users) AS users").
		ColumnExpr("AVG(bounce_rate) AS bounce_rate").
		ColumnExpr("AVG(avg_session_duration) AS avg_session_duration").
		ColumnExpr("AVG(pages_per_session) AS pages_per_session").
		ColumnExpr("SUM(conversions) AS conversions").
		Where("user_id = ?", userID).
		Where("metric_date >= ?", from).
		Where("metric_date <= ?", to).
		GroupExpr("source_dimension").
		Scan(ctx, &aggregates)
	if err != nil {
		return nil, fmt.Errorf("failed to rank sources: %w", err)
	}

	return aggregates, nil
}
