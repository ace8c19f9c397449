package google

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/provider"
)

// GA4 property ids are 9 to 12 digit numerics.
var propertyIDPattern = regexp.MustCompile(`^\d{9,12}$`)

// AnalyticsAdapter serves GA4 properties: account listing through the Admin
// API and daily metrics through the Data API runReport endpoint.
type AnalyticsAdapter struct {
	client
}

// NewAnalyticsAdapter creates an adapter with the given configuration.
func NewAnalyticsAdapter(cfg Config, logger *zap.Logger) *AnalyticsAdapter {
	return &AnalyticsAdapter{client: newClient(cfg, logger)}
}

func (a *AnalyticsAdapter) Name() integration.Provider {
	return integration.ProviderAnalytics
}

func (a *AnalyticsAdapter) ValidAccountID(id string) bool {
	return propertyIDPattern.MatchString(id)
}

type accountSummariesResponse struct {
	AccountSummaries []struct {
		DisplayName       string `json:"displayName"`
		PropertySummaries []struct {
			Property    string `json:"property"`
			DisplayName string `json:"displayName"`
		} `json:"propertySummaries"`
	} `json:"accountSummaries"`
	NextPageToken string `json:"nextPageToken"`
}

// ListRemoteAccounts returns every GA4 property reachable by the credential.
// Property resource names arrive as "properties/<id>"; the bare id is kept.
func (a *AnalyticsAdapter) ListRemoteAccounts(ctx context.Context, accessSecret string) ([]provider.RemoteAccount, error) {
	var accounts []provider.RemoteAccount
	pageToken := ""
	for {
		url := fmt.Sprintf("%s/v1beta/accountSummaries?pageSize=200", a.cfg.AdminBaseURL)
		if pageToken != "" {
			url += "&pageToken=" + pageToken
		}

		var resp accountSummariesResponse
		if err := a.getJSON(ctx, accessSecret, url, &resp); err != nil {
			return nil, fmt.Errorf("failed to list account summaries: %w", err)
		}

		for _, summary := range resp.AccountSummaries {
			for _, prop := range summary.PropertySummaries {
				id := strings.TrimPrefix(prop.Property, "properties/")
				if !a.ValidAccountID(id) {
					continue
				}
				accounts = append(accounts, provider.RemoteAccount{
					ID:          id,
					DisplayName: prop.DisplayName,
					ParentName:  summary.DisplayName,
				})
			}
		}

		if resp.NextPageToken == "" {
			return accounts, nil
		}
		pageToken = resp.NextPageToken
	}
}

type runReportRequest struct {
	DateRanges []reportDateRange `json:"dateRanges"`
	Dimensions []reportName      `json:"dimensions"`
	Metrics    []reportName      `json:"metrics"`
	Limit      string            `json:"limit"`
}

type reportDateRange struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type reportName struct {
	Name string `json:"name"`
}

type runReportResponse struct {
	Rows []struct {
		DimensionValues []struct {
			Value string `json:"value"`
		} `json:"dimensionValues"`
		MetricValues []struct {
			Value string `json:"value"`
		} `json:"metricValues"`
	} `json:"rows"`
}

// FetchMetrics runs a Data API report over the range. The dimension order
// matches the canonical layout directly; GA4 reports the date dimension in
// compact YYYYMMDD form and bounce rate as a 0..1 fraction.
func (a *AnalyticsAdapter) FetchMetrics(ctx context.Context, accessSecret, remoteAccountID string, rng provider.DateRange) ([]provider.Row, error) {
	if !a.ValidAccountID(remoteAccountID) {
		return nil, fmt.Errorf("invalid property id %q", remoteAccountID)
	}

	reqBody := runReportRequest{
		DateRanges: []reportDateRange{{
			StartDate: rng.Start.Format("2006-01-02"),
			EndDate:   rng.End.Format("2006-01-02"),
		}},
		Dimensions: []reportName{
			{Name: "date"},
			{Name: "sessionDefaultChannelGroup"},
			{Name: "sessionSourceMedium"},
		},
		Metrics: []reportName{
			{Name: "sessions"},
			{Name: "totalUsers"},
			{Name: "bounceRate"},
			{Name: "averageSessionDuration"},
			{Name: "screenPageViewsPerSession"},
			{Name: "conversions"},
		},
		Limit: "100000",
	}

	url := fmt.Sprintf("%s/v1beta/properties/%s:runReport", a.cfg.DataBaseURL, remoteAccountID)

	var resp runReportResponse
	if err := a.postJSON(ctx, accessSecret, url, &reqBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to run report: %w", err)
	}

	rows := make([]provider.Row, 0, len(resp.Rows))
	for _, raw := range resp.Rows {
		if len(raw.DimensionValues) < provider.DimCount || len(raw.MetricValues) < provider.MetCount {
			continue
		}
		row := provider.Row{
			Dimensions: make([]string, provider.DimCount),
			Metrics:    make([]float64, provider.MetCount),
		}
		for i := 0; i < provider.DimCount; i++ {
			row.Dimensions[i] = raw.DimensionValues[i].Value
		}
		for i := 0; i < provider.MetCount; i++ {
			row.Metrics[i] = parseMetric(raw.MetricValues[i].Value)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
