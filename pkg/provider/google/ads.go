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

// Ads customer ids are 10 digit numerics.
var customerIDPattern = regexp.MustCompile(`^\d{10}$`)

// AdsAdapter serves Ads customer accounts through the reporting API's
// searchStream endpoint.
type AdsAdapter struct {
	client
}

// NewAdsAdapter creates an adapter with the given configuration.
func NewAdsAdapter(cfg Config, logger *zap.Logger) *AdsAdapter {
	return &AdsAdapter{client: newClient(cfg, logger)}
}

func (a *AdsAdapter) Name() integration.Provider {
	return integration.ProviderAds
}

func (a *AdsAdapter) ValidAccountID(id string) bool {
	return customerIDPattern.MatchString(id)
}

type accessibleCustomersResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

// ListRemoteAccounts returns the customer accounts the credential can reach.
// The listing endpoint only reports resource names, so the id doubles as the
// display name.
func (a *AdsAdapter) ListRemoteAccounts(ctx context.Context, accessSecret string) ([]provider.RemoteAccount, error) {
	var resp accessibleCustomersResponse
	endpoint := a.cfg.AdsBaseURL + "/v17/customers:listAccessibleCustomers"
	if err := a.doJSON(ctx, "GET", accessSecret, endpoint, nil, &resp, a.adsHeaders()); err != nil {
		return nil, fmt.Errorf("failed to list accessible customers: %w", err)
	}

	var accounts []provider.RemoteAccount
	for _, name := range resp.ResourceNames {
		id := strings.TrimPrefix(name, "customers/")
		if !a.ValidAccountID(id) {
			continue
		}
		accounts = append(accounts, provider.RemoteAccount{
			ID:          id,
			DisplayName: id,
			ParentName:  "Ads",
		})
	}
	return accounts, nil
}

type searchStreamRequest struct {
	Query string `json:"query"`
}

type searchStreamResponse []struct {
	Results []struct {
		Segments struct {
			Date string `json:"date"`
		} `json:"segments"`
		Metrics struct {
			Clicks      string `json:"clicks"`
			Impressions string `json:"impressions"`
			Conversions string `json:"conversions"`
			CostMicros  string `json:"costMicros"`
		} `json:"metrics"`
	} `json:"results"`
}

// FetchMetrics streams per-day customer stats over the range. Paid traffic
// maps onto a fixed channel grouping; spend is tracked in logs only since the
// stored model carries engagement counters.
func (a *AdsAdapter) FetchMetrics(ctx context.Context, accessSecret, remoteAccountID string, rng provider.DateRange) ([]provider.Row, error) {
	if !a.ValidAccountID(remoteAccountID) {
		return nil, fmt.Errorf("invalid customer id %q", remoteAccountID)
	}

	query := fmt.Sprintf(
		"SELECT segments.date, metrics.clicks, metrics.impressions, metrics.conversions, metrics.cost_micros "+
			"FROM customer WHERE segments.date BETWEEN '%s' AND '%s'",
		rng.Start.Format("2006-01-02"), rng.End.Format("2006-01-02"))

	endpoint := fmt.Sprintf("%s/v17/customers/%s/googleAds:searchStream", a.cfg.AdsBaseURL, remoteAccountID)

	var resp searchStreamResponse
	if err := a.doJSON(ctx, "POST", accessSecret, endpoint, searchStreamRequest{Query: query}, &resp, a.adsHeaders()); err != nil {
		return nil, fmt.Errorf("failed to stream customer stats: %w", err)
	}

	var rows []provider.Row
	var totalSpend float64
	for _, batch := range resp {
		for _, raw := range batch.Results {
			row := provider.Row{
				Dimensions: make([]string, provider.DimCount),
				Metrics:    make([]float64, provider.MetCount),
			}
			row.Dimensions[provider.DimDate] = strings.ReplaceAll(raw.Segments.Date, "-", "")
			row.Dimensions[provider.DimChannelGroup] = "Paid Search"
			row.Dimensions[provider.DimSourceMedium] = "google / cpc"
			row.Metrics[provider.MetSessions] = parseMetric(raw.Metrics.Clicks)
			row.Metrics[provider.MetUsers] = parseMetric(raw.Metrics.Impressions)
			row.Metrics[provider.MetConversions] = parseMetric(raw.Metrics.Conversions)
			totalSpend += microsToUnits(raw.Metrics.CostMicros)
			rows = append(rows, row)
		}
	}

	a.logger.Debug("fetched customer stats",
		zap.String("customer_id", remoteAccountID),
		zap.Int("rows", len(rows)),
		zap.Float64("spend", totalSpend))

	return rows, nil
}

func (a *AdsAdapter) adsHeaders() map[string]string {
	if a.cfg.DeveloperToken == "" {
		return nil
	}
	return map[string]string{"developer-token": a.cfg.DeveloperToken}
}
