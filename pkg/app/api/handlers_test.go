package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/pkg/auth"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
)

const (
	testJWTSecret  = "test-jwt-secret"
	testCronSecret = "test-cron-secret"
	testIssuer     = "insights-middleware"
)

type testAPI struct {
	router  chi.Router
	store   *memStore
	rec     *stubReconciler
	sweeper *stubSweeper
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := newMemStore()
	rec := &stubReconciler{store: store}
	sweeper := &stubSweeper{}

	providers := []integration.Provider{
		integration.ProviderAnalytics,
		integration.ProviderSearchConsole,
		integration.ProviderAds,
	}

	r := chi.NewRouter()
	RegisterRoutes(r, store, stubCipher{}, rec, sweeper, providers,
		auth.NewJWTValidator(testJWTSecret, testIssuer),
		auth.NewCronVerifier(testCronSecret),
		zap.NewNop())

	return &testAPI{router: r, store: store, rec: rec, sweeper: sweeper}
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (a *testAPI) request(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func boundRow(userID, accountID string, active bool) *integration.Integration {
	integ := integration.New(userID, integration.ProviderAnalytics, "enc-access", "enc-refresh", nil, "scope")
	integ.RemoteAccountID = accountID
	integ.DisplayName = "Account " + accountID
	integ.IsActive = active
	return integ
}

func TestUserEndpointsRequireToken(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodGet, "/api/integrations/", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = api.request(t, http.MethodGet, "/api/integrations/", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestCronEndpointsRequireSecret(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodPost, "/api/cron/backfill", "", "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)
	assert.Zero(t, api.sweeper.backfills)

	// A user session token is not a scheduler secret.
	res = api.request(t, http.MethodPost, "/api/cron/backfill", sessionToken(t, "user-1"), "")
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = api.request(t, http.MethodPost, "/api/cron/backfill", testCronSecret, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, 1, api.sweeper.backfills)

	res = api.request(t, http.MethodPost, "/api/cron/daily", testCronSecret, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, 1, api.sweeper.dailies)

	var result struct {
		Processed int `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Processed)
}

func TestCronSweepsOutliveRequest(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodPost, "/api/cron/backfill", testCronSecret, "")
	assert.Equal(t, http.StatusOK, res.Code)
	// A cancelled or timed-out request must not cancel the sweep.
	assert.True(t, api.sweeper.lastDetached)

	res = api.request(t, http.MethodPost, "/api/cron/daily", testCronSecret, "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.True(t, api.sweeper.lastDetached)
}

func TestConnectCreatesPlaceholderAndDiscovers(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodPost, "/api/integrations/connect", sessionToken(t, "user-1"),
		`{"provider":"analytics","access_secret":"tok","refresh_secret":"ref","scopes":"readonly"}`)
	require.Equal(t, http.StatusCreated, res.Code)
	assert.Equal(t, 1, api.rec.calls)

	rows, err := api.store.ListIntegrations(t.Context(), syncstore.WithUserID("user-1"))
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, integration.AccountPendingSelection, row.RemoteAccountID)
	assert.Equal(t, "enc:tok", row.EncryptedAccessSecret)
	assert.Equal(t, "enc:ref", row.EncryptedRefreshSecret)

	// The response never carries credential material.
	assert.NotContains(t, res.Body.String(), "tok")
	assert.NotContains(t, res.Body.String(), "secret")
}

func TestConnectRejectsUnknownProvider(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodPost, "/api/integrations/connect", sessionToken(t, "user-1"),
		`{"provider":"linkedin","access_secret":"tok"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = api.request(t, http.MethodPost, "/api/integrations/connect", sessionToken(t, "user-1"),
		`{"provider":"analytics"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestListIntegrationsScopedToUser(t *testing.T) {
	api := newTestAPI(t)
	api.store.seedRow(boundRow("user-1", "111", true))
	api.store.seedRow(boundRow("user-2", "222", true))

	res := api.request(t, http.MethodGet, "/api/integrations/", sessionToken(t, "user-1"), "")
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Integrations []integrationResponse `json:"integrations"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Integrations, 1)
	assert.Equal(t, "111", body.Integrations[0].RemoteAccountID)
}

func TestActivateSwitchesSiblings(t *testing.T) {
	api := newTestAPI(t)

	current := boundRow("user-1", "111", true)
	next := boundRow("user-1", "222", false)
	placeholder := integration.New("user-1", integration.ProviderAnalytics, "enc", "", nil, "scope")
	api.store.seedRow(current)
	api.store.seedRow(next)
	api.store.seedRow(placeholder)

	res := api.request(t, http.MethodPost, "/api/integrations/activate",
		sessionToken(t, "user-1"), `{"id":"`+next.ID+`"}`)
	require.Equal(t, http.StatusOK, res.Code)

	activated, err := api.store.GetIntegration(t.Context(), syncstore.WithID(next.ID))
	require.NoError(t, err)
	assert.True(t, activated.IsActive)

	deactivated, err := api.store.GetIntegration(t.Context(), syncstore.WithID(current.ID))
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	// The pending-selection placeholder is gone once a real account is chosen.
	_, err = api.store.GetIntegration(t.Context(), syncstore.WithID(placeholder.ID))
	assert.ErrorIs(t, err, syncstore.ErrIntegrationNotFound)
}

func TestActivateRejectsPlaceholder(t *testing.T) {
	api := newTestAPI(t)
	placeholder := integration.New("user-1", integration.ProviderAnalytics, "enc", "", nil, "scope")
	api.store.seedRow(placeholder)

	res := api.request(t, http.MethodPost, "/api/integrations/activate",
		sessionToken(t, "user-1"), `{"id":"`+placeholder.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestActivateOtherUsersIntegration(t *testing.T) {
	api := newTestAPI(t)
	other := boundRow("user-2", "222", false)
	api.store.seedRow(other)

	res := api.request(t, http.MethodPost, "/api/integrations/activate",
		sessionToken(t, "user-1"), `{"id":"`+other.ID+`"}`)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestDeleteIntegration(t *testing.T) {
	api := newTestAPI(t)
	row := boundRow("user-1", "111", true)
	api.store.seedRow(row)

	res := api.request(t, http.MethodDelete, "/api/integrations/"+row.ID,
		sessionToken(t, "user-1"), "")
	assert.Equal(t, http.StatusNoContent, res.Code)

	_, err := api.store.GetIntegration(t.Context(), syncstore.WithID(row.ID))
	assert.ErrorIs(t, err, syncstore.ErrIntegrationNotFound)

	res = api.request(t, http.MethodDelete, "/api/integrations/"+row.ID,
		sessionToken(t, "user-1"), "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestStatus(t *testing.T) {
	api := newTestAPI(t)

	active := boundRow("user-1", "111", true)
	active.BackfillCompleted = true
	syncedAt := time.Date(2026, 8, 27, 6, 0, 0, 0, time.UTC)
	active.LastSyncedAt = &syncedAt
	api.store.seedRow(active)

	scPlaceholder := integration.New("user-1", integration.ProviderSearchConsole, "enc", "", nil, "scope")
	api.store.seedRow(scPlaceholder)

	res := api.request(t, http.MethodGet, "/api/integrations/status", sessionToken(t, "user-1"), "")
	require.Equal(t, http.StatusOK, res.Code)

	var statuses map[string]providerStatus
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &statuses))
	require.Len(t, statuses, 3)

	analytics := statuses["analytics"]
	assert.True(t, analytics.Connected)
	assert.True(t, analytics.BackfillCompleted)
	require.NotNil(t, analytics.ActiveAccount)
	assert.Equal(t, "111", analytics.ActiveAccount.RemoteAccountID)

	sc := statuses["search-console"]
	assert.True(t, sc.Connected)
	assert.True(t, sc.SelectionRequired)
	assert.Nil(t, sc.ActiveAccount)

	assert.False(t, statuses["ads"].Connected)
}

func TestRankedSourcesOrdersByScore(t *testing.T) {
	api := newTestAPI(t)
	api.store.aggregates = []*syncstore.SourceAggregate{
		{SourceDimension: "bing / organic", Sessions: 500, BounceRate: 90, AvgSessionDuration: 10},
		{SourceDimension: "google / organic", Sessions: 100, Users: 80,
			BounceRate: 30, AvgSessionDuration: 300, PagesPerSession: 4, Conversions: 9},
	}

	res := api.request(t, http.MethodGet, "/api/sources/ranked", sessionToken(t, "user-1"), "")
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Sources []rankedSource `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Sources, 2)

	// The engaged source outranks the high-traffic, high-bounce one.
	assert.Equal(t, "google / organic", body.Sources[0].SourceDimension)
	assert.Greater(t, body.Sources[0].QualityScore, body.Sources[1].QualityScore)
}

func TestRankedSourcesRejectsBadRange(t *testing.T) {
	api := newTestAPI(t)

	res := api.request(t, http.MethodGet,
		"/api/sources/ranked?from=2026-08-20&to=2026-08-10", sessionToken(t, "user-1"), "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = api.request(t, http.MethodGet,
		"/api/sources/ranked?from=yesterday", sessionToken(t, "user-1"), "")
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
