package syncstore

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/sitelens/insights-middleware/pkg/integration"
)

// IntegrationDao is a data access object that maps directly to the
// 'user_integrations' table in PostgreSQL.
type IntegrationDao struct {
	bun.BaseModel          `bun:"table:user_integrations,alias:ui"`
	ID                     string     `bun:"id,pk,type:uuid"`
	UserID                 string     `bun:"user_id,notnull,type:varchar(64)"`
	Provider               string     `bun:"provider,notnull,type:varchar(32)"`
	RemoteAccountID        string     `bun:"remote_account_id,notnull,type:varchar(255)"`
	DisplayName            *string    `bun:"display_name,type:varchar(255)"`
	ParentName             *string    `bun:"parent_name,type:varchar(255)"`
	EncryptedAccessSecret  string     `bun:"encrypted_access_secret,notnull,type:text"`
	EncryptedRefreshSecret *string    `bun:"encrypted_refresh_secret,type:text"`
	SecretExpiresAt        *time.Time `bun:"secret_expires_at"`
	Scopes                 *string    `bun:"scopes,type:text"`
	IsActive               bool       `bun:"is_active,notnull,default:false"`
	BackfillCompleted      bool       `bun:"backfill_completed,notnull,default:false"`
	LastSyncedAt           *time.Time `bun:"last_synced_at"`
	LastError              *string    `bun:"last_error,type:text"`
	CreatedAt              time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt              time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}

// DailyMetricDao is a data access object that maps directly to the
// 'daily_source_metrics' table in PostgreSQL.
type DailyMetricDao struct {
	bun.BaseModel      `bun:"table:daily_source_metrics,alias:dm"`
	ID                 int64     `bun:"id,pk,autoincrement"`
	IntegrationID      string    `bun:"integration_id,notnull,type:uuid"`
	UserID             string    `bun:"user_id,notnull,type:varchar(64)"`
	RemoteAccountID    string    `bun:"remote_account_id,notnull,type:varchar(255)"`
	MetricDate         time.Time `bun:"metric_date,notnull,type:date"`
	ChannelGroup       string    `bun:"channel_group,notnull,type:varchar(128)"`
	SourceDimension    string    `bun:"source_dimension,notnull,type:varchar(255)"`
	Sessions           int64     `bun:"sessions,notnull,default:0"`
	Users              int64     `bun:"users,notnull,default:0"`
	BounceRate         float64   `bun:"bounce_rate,notnull,default:0"`
	AvgSessionDuration float64   `bun:"avg_session_duration,notnull,default:0"`
	PagesPerSession    float64   `bun:"pages_per_session,notnull,default:0"`
	Conversions        int64     `bun:"conversions,notnull,default:0"`
	QualityScore       int       `bun:"quality_score,notnull,default:0"`
	CreatedAt          time.Time `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt          time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// toIntegrationDao converts an integration.Integration to IntegrationDao.
func toIntegrationDao(integ *integration.Integration) *IntegrationDao {
	dao := &IntegrationDao{
		ID:                    integ.ID,
		UserID:                integ.UserID,
		Provider:              string(integ.Provider),
		RemoteAccountID:       integ.RemoteAccountID,
		EncryptedAccessSecret: integ.EncryptedAccessSecret,
		SecretExpiresAt:       integ.SecretExpiresAt,
		IsActive:              integ.IsActive,
		BackfillCompleted:     integ.BackfillCompleted,
		LastSyncedAt:          integ.LastSyncedAt,
		LastError:             integ.LastError,
		CreatedAt:             integ.CreatedAt,
		UpdatedAt:             integ.UpdatedAt,
	}

	if integ.DisplayName != "" {
		dao.DisplayName = &integ.DisplayName
	}
	if integ.ParentName != "" {
		dao.ParentName = &integ.ParentName
	}
	if integ.EncryptedRefreshSecret != "" {
		dao.EncryptedRefreshSecret = &integ.EncryptedRefreshSecret
	}
	if integ.Scopes != "" {
		dao.Scopes = &integ.Scopes
	}

	return dao
}

// toIntegration converts an IntegrationDao to integration.Integration.
func toIntegration(dao *IntegrationDao) *integration.Integration {
	integ := &integration.Integration{
		ID:                    dao.ID,
		UserID:                dao.UserID,
		Provider:              integration.Provider(dao.Provider),
		RemoteAccountID:       dao.RemoteAccountID,
		EncryptedAccessSecret: dao.EncryptedAccessSecret,
		SecretExpiresAt:       dao.SecretExpiresAt,
		IsActive:              dao.IsActive,
		BackfillCompleted:     dao.BackfillCompleted,
		LastSyncedAt:          dao.LastSyncedAt,
		LastError:             dao.LastError,
		CreatedAt:             dao.CreatedAt,
		UpdatedAt:             dao.UpdatedAt,
	}

	if dao.DisplayName != nil {
		integ.DisplayName = *dao.DisplayName
	}
	if dao.ParentName != nil {
		integ.ParentName = *dao.ParentName
	}
	if dao.EncryptedRefreshSecret != nil {
		integ.EncryptedRefreshSecret = *dao.EncryptedRefreshSecret
	}
	if dao.Scopes != nil {
		integ.Scopes = *dao.Scopes
	}

	return integ
}

// toDailyMetricDao converts an integration.DailyMetric to DailyMetricDao.
func toDailyMetricDao(m *integration.DailyMetric, now time.Time) *DailyMetricDao {
	return &DailyMetricDao{
		IntegrationID:      m.IntegrationID,
		UserID:             m.UserID,
		RemoteAccountID:    m.RemoteAccountID,
		MetricDate:         m.Date,
		ChannelGroup:       m.ChannelGroup,
		SourceDimension:    m.SourceDimension,
		Sessions:           m.Sessions,
		Users:              m.Users,
		BounceRate:         m.BounceRate,
		AvgSessionDuration: m.AvgSessionDuration,
		PagesPerSession:    m.PagesPerSession,
		Conversions:        m.Conversions,
		QualityScore:       m.QualityScore,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
