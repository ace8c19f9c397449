package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sitelens/insights-middleware/internal/metrics"
	apperrors "github.com/sitelens/insights-middleware/pkg/app/errors"
	apphttp "github.com/sitelens/insights-middleware/pkg/app/http"
	"github.com/sitelens/insights-middleware/pkg/auth"
	"github.com/sitelens/insights-middleware/pkg/ingest"
	"github.com/sitelens/insights-middleware/pkg/integration"
	"github.com/sitelens/insights-middleware/pkg/quality"
	"github.com/sitelens/insights-middleware/pkg/reconciler"
	"github.com/sitelens/insights-middleware/pkg/syncstore"
)

const defaultRequestTimeout = 60 * time.Second

// Encryptor seals credential secrets before they reach the store.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
}

// AccountReconciler runs account discovery for one (user, provider) pair.
type AccountReconciler interface {
	Reconcile(ctx context.Context, userID string, p integration.Provider) (*reconciler.Result, error)
}

// Sweeper triggers ingestion sweeps; backed by the ingest engine.
type Sweeper interface {
	RunBackfillSweep(ctx context.Context) ingest.SweepResult
	RunDailySweep(ctx context.Context) ingest.SweepResult
}

// HTTP wraps the sync services to provide the REST endpoints.
type HTTP struct {
	store      syncstore.Store
	cipher     Encryptor
	reconciler AccountReconciler
	sweeper    Sweeper
	providers  []integration.Provider
	jwt        *auth.JWTValidator
	cron       *auth.CronVerifier
	logger     *zap.Logger
}

// RegisterRoutes registers the sync API endpoints on the given chi router.
func RegisterRoutes(
	r chi.Router,
	store syncstore.Store,
	cipher Encryptor,
	accountReconciler AccountReconciler,
	sweeper Sweeper,
	providers []integration.Provider,
	jwt *auth.JWTValidator,
	cron *auth.CronVerifier,
	logger *zap.Logger,
) {
	h := &HTTP{
		store:      store,
		cipher:     cipher,
		reconciler: accountReconciler,
		sweeper:    sweeper,
		providers:  providers,
		jwt:        jwt,
		cron:       cron,
		logger:     logger,
	}

	r.Route("/api", func(r chi.Router) {
		// No request timeout here: a sweep is sized in minutes, not seconds.
		r.Route("/cron", func(r chi.Router) {
			r.Use(h.requireCronSecret)
			r.Post("/backfill", apphttp.HandleError(h.triggerBackfill))
			r.Post("/daily", apphttp.HandleError(h.triggerDaily))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultRequestTimeout))
			r.Use(h.requireUser)

			r.Route("/integrations", func(r chi.Router) {
				r.Get("/", apphttp.HandleError(h.listIntegrations))
				r.Post("/connect", apphttp.HandleError(h.connect))
				r.Post("/discover", apphttp.HandleError(h.discover))
				r.Post("/activate", apphttp.HandleError(h.activate))
				r.Get("/status", apphttp.HandleError(h.status))
				r.Delete("/{id}", apphttp.HandleError(h.deleteIntegration))
			})

			r.Get("/sources/ranked", apphttp.HandleError(h.rankedSources))
		})
	})
}

// requireCronSecret guards the scheduler endpoints with the shared secret.
func (h *HTTP) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.cron.VerifyHeader(r.Header.Get("Authorization")) {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "invalid scheduler secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireUser validates the session token and stores the user id in the
// request context.
func (h *HTTP) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
			return
		}

		userID, err := h.jwt.ValidateToken(token)
		if err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid session token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

// integrationResponse is the public view of an integration row. Encrypted
// credentials never leave the service.
type integrationResponse struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	RemoteAccountID   string     `json:"remote_account_id"`
	DisplayName       string     `json:"display_name,omitempty"`
	ParentName        string     `json:"parent_name,omitempty"`
	IsActive          bool       `json:"is_active"`
	SelectionRequired bool       `json:"selection_required"`
	BackfillCompleted bool       `json:"backfill_completed"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	LastError         *string    `json:"last_error,omitempty"`
}

func toIntegrationResponse(integ *integration.Integration) *integrationResponse {
	return &integrationResponse{
		ID:                integ.ID,
		Provider:          string(integ.Provider),
		RemoteAccountID:   integ.RemoteAccountID,
		DisplayName:       integ.DisplayName,
		ParentName:        integ.ParentName,
		IsActive:          integ.IsActive,
		SelectionRequired: integ.RemoteAccountID == integration.AccountPendingSelection,
		BackfillCompleted: integ.BackfillCompleted,
		LastSyncedAt:      integ.LastSyncedAt,
		LastError:         integ.LastError,
	}
}

func toIntegrationResponses(integs []*integration.Integration) []*integrationResponse {
	out := make([]*integrationResponse, 0, len(integs))
	for _, integ := range integs {
		out = append(out, toIntegrationResponse(integ))
	}
	return out
}

type connectRequest struct {
	Provider      string     `json:"provider"`
	AccessSecret  string     `json:"access_secret"`
	RefreshSecret string     `json:"refresh_secret"`
	ExpiresAt     *time.Time `json:"expires_at"`
	Scopes        string     `json:"scopes"`
}

// connect stores a freshly authorized credential as a placeholder row and
// immediately runs account discovery with it.
func (h *HTTP) connect(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	p := integration.Provider(req.Provider)
	if !p.Valid() {
		return apperrors.BadRequestError(nil, "unknown provider")
	}
	if req.AccessSecret == "" {
		return apperrors.BadRequestError(nil, "access_secret is required")
	}

	encAccess, err := h.cipher.Encrypt(req.AccessSecret)
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to seal credential: %w", err))
	}
	var encRefresh string
	if req.RefreshSecret != "" {
		encRefresh, err = h.cipher.Encrypt(req.RefreshSecret)
		if err != nil {
			return apperrors.GeneralError(fmt.Errorf("failed to seal credential: %w", err))
		}
	}

	integ := integration.New(userID, p, encAccess, encRefresh, req.ExpiresAt, req.Scopes)
	if err := h.store.CreateIntegration(r.Context(), integ); err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to store integration: %w", err))
	}

	// Best effort: discovery failures leave the placeholder in place for a
	// later explicit discover call.
	if _, err := h.reconciler.Reconcile(r.Context(), userID, p); err != nil {
		h.logger.Warn("post-connect discovery failed",
			zap.String("user_id", userID),
			zap.String("provider", string(p)),
			zap.Error(err))
	}

	integs, err := h.store.ListIntegrations(r.Context(),
		syncstore.WithUserID(userID), syncstore.WithProvider(p))
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to load integrations: %w", err))
	}

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"integrations": toIntegrationResponses(integs),
	})
	return nil
}

type discoverRequest struct {
	Provider string `json:"provider"`
}

// discover re-runs account discovery for one provider.
func (h *HTTP) discover(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	var req discoverRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	p := integration.Provider(req.Provider)
	if !p.Valid() {
		return apperrors.BadRequestError(nil, "unknown provider")
	}

	result, err := h.reconciler.Reconcile(r.Context(), userID, p)
	if err != nil {
		if errors.Is(err, reconciler.ErrNoSeed) {
			return apperrors.PreconditionFailedError(err, "no credential for provider, connect first")
		}
		return apperrors.DependencyFailureError(err, "account discovery failed")
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"added":        result.Added,
		"removed":      result.Removed,
		"updated":      result.Updated,
		"integrations": toIntegrationResponses(result.FinalSet),
	})
	return nil
}

func (h *HTTP) listIntegrations(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	integs, err := h.store.ListIntegrations(r.Context(), syncstore.WithUserID(userID))
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to load integrations: %w", err))
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"integrations": toIntegrationResponses(integs),
	})
	return nil
}

type activateRequest struct {
	ID string `json:"id"`
}

// activate makes one integration the metrics target for its provider and
// deactivates its siblings. Leftover selection placeholders are removed since
// the selection is now resolved.
func (h *HTTP) activate(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return apperrors.BadRequestError(nil, "id is required")
	}

	target, err := h.store.GetIntegration(r.Context(),
		syncstore.WithID(req.ID), syncstore.WithUserID(userID))
	if err != nil {
		if errors.Is(err, syncstore.ErrIntegrationNotFound) {
			return apperrors.ResourceNotFoundError(err, "integration not found")
		}
		return apperrors.GeneralError(fmt.Errorf("failed to load integration: %w", err))
	}
	if target.IsPlaceholder() {
		return apperrors.BadRequestError(nil, "cannot activate an unresolved integration")
	}

	siblings, err := h.store.ListIntegrations(r.Context(),
		syncstore.WithUserID(userID), syncstore.WithProvider(target.Provider))
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to load integrations: %w", err))
	}

	for _, sibling := range siblings {
		switch {
		case sibling.ID == target.ID:
			if sibling.IsActive {
				continue
			}
			sibling.IsActive = true
			if err := h.store.UpdateIntegration(r.Context(), sibling); err != nil {
				return apperrors.GeneralError(fmt.Errorf("failed to activate integration: %w", err))
			}
		case sibling.RemoteAccountID == integration.AccountPendingSelection:
			if err := h.store.DeleteIntegration(r.Context(), sibling.ID); err != nil {
				return apperrors.GeneralError(fmt.Errorf("failed to remove placeholder: %w", err))
			}
		case sibling.IsActive:
			sibling.IsActive = false
			if err := h.store.UpdateIntegration(r.Context(), sibling); err != nil {
				return apperrors.GeneralError(fmt.Errorf("failed to deactivate integration: %w", err))
			}
		}
	}

	h.updateActiveGauge(r.Context(), target.Provider)

	target.IsActive = true
	h.writeJSON(w, http.StatusOK, toIntegrationResponse(target))
	return nil
}

func (h *HTTP) deleteIntegration(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}
	id := chi.URLParam(r, "id")

	target, err := h.store.GetIntegration(r.Context(),
		syncstore.WithID(id), syncstore.WithUserID(userID))
	if err != nil {
		if errors.Is(err, syncstore.ErrIntegrationNotFound) {
			return apperrors.ResourceNotFoundError(err, "integration not found")
		}
		return apperrors.GeneralError(fmt.Errorf("failed to load integration: %w", err))
	}

	if err := h.store.DeleteIntegration(r.Context(), target.ID); err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to delete integration: %w", err))
	}

	h.updateActiveGauge(r.Context(), target.Provider)

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// providerStatus summarizes the sync state of one provider for the user.
type providerStatus struct {
	Connected         bool                 `json:"connected"`
	SelectionRequired bool                 `json:"selection_required"`
	NoAccountsFound   bool                 `json:"no_accounts_found"`
	ActiveAccount     *integrationResponse `json:"active_account,omitempty"`
	BackfillCompleted bool                 `json:"backfill_completed"`
	LastSyncedAt      *time.Time           `json:"last_synced_at,omitempty"`
	LastError         *string              `json:"last_error,omitempty"`
}

func (h *HTTP) status(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	integs, err := h.store.ListIntegrations(r.Context(), syncstore.WithUserID(userID))
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to load integrations: %w", err))
	}

	statuses := make(map[string]*providerStatus, len(h.providers))
	for _, p := range h.providers {
		statuses[string(p)] = &providerStatus{}
	}

	for _, integ := range integs {
		st, ok := statuses[string(integ.Provider)]
		if !ok {
			continue
		}
		st.Connected = true
		switch integ.RemoteAccountID {
		case integration.AccountPendingSelection:
			st.SelectionRequired = true
		case integration.AccountNoneFound:
			st.NoAccountsFound = true
		}
		if integ.IsActive && !integ.IsPlaceholder() {
			st.ActiveAccount = toIntegrationResponse(integ)
			st.BackfillCompleted = integ.BackfillCompleted
			st.LastSyncedAt = integ.LastSyncedAt
			st.LastError = integ.LastError
		}
	}

	h.writeJSON(w, http.StatusOK, statuses)
	return nil
}

// rankedSource is one row of the ranked sources view.
type rankedSource struct {
	SourceDimension    string  `json:"source"`
	ChannelGroup       string  `json:"channel_group"`
	Sessions           int64   `json:"sessions"`
	Users              int64   `json:"users"`
	BounceRate         float64 `json:"bounce_rate"`
	AvgSessionDuration float64 `json:"avg_session_duration"`
	PagesPerSession    float64 `json:"pages_per_session"`
	Conversions        int64   `json:"conversions"`
	QualityScore       int     `json:"quality_score"`
}

// rankedSources aggregates stored metrics per traffic source and ranks them
// by the engagement score. The window defaults to the 30 days ending
// yesterday.
func (h *HTTP) rankedSources(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	to, err := parseDateParam(r, "to", time.Now().UTC().AddDate(0, 0, -1))
	if err != nil {
		return err
	}
	from, err := parseDateParam(r, "from", to.AddDate(0, 0, -29))
	if err != nil {
		return err
	}
	if from.After(to) {
		return apperrors.BadRequestError(nil, "from must not be after to")
	}

	aggregates, err := h.store.RankedSources(r.Context(), userID, from, to)
	if err != nil {
		return apperrors.GeneralError(fmt.Errorf("failed to aggregate sources: %w", err))
	}

	sources := make([]*rankedSource, 0, len(aggregates))
	for _, agg := range aggregates {
		sources = append(sources, &rankedSource{
			SourceDimension:    agg.SourceDimension,
			ChannelGroup:       agg.ChannelGroup,
			Sessions:           agg.Sessions,
			Users:              agg.Users,
			BounceRate:         agg.BounceRate,
			AvgSessionDuration: agg.AvgSessionDuration,
			PagesPerSession:    agg.PagesPerSession,
			Conversions:        agg.Conversions,
			QualityScore: quality.Score(
				agg.AvgSessionDuration,
				agg.BounceRate,
				agg.PagesPerSession,
				agg.Conversions,
				agg.Sessions,
			),
		})
	}

	sort.SliceStable(sources, func(i, j int) bool {
		if sources[i].QualityScore != sources[j].QualityScore {
			return sources[i].QualityScore > sources[j].QualityScore
		}
		return sources[i].Sessions > sources[j].Sessions
	})

	h.writeJSON(w, http.StatusOK, map[string]any{
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
		"sources": sources,
	})
	return nil
}

func (h *HTTP) triggerBackfill(w http.ResponseWriter, r *http.Request) error {
	// A scheduler that disconnects must not abort the sweep mid-run.
	result := h.sweeper.RunBackfillSweep(context.WithoutCancel(r.Context()))
	h.writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *HTTP) triggerDaily(w http.ResponseWriter, r *http.Request) error {
	result := h.sweeper.RunDailySweep(context.WithoutCancel(r.Context()))
	h.writeJSON(w, http.StatusOK, result)
	return nil
}

// updateActiveGauge refreshes the active integrations gauge for a provider.
func (h *HTTP) updateActiveGauge(ctx context.Context, p integration.Provider) {
	active, err := h.store.ListIntegrations(ctx,
		syncstore.WithProvider(p), syncstore.WithActive(true))
	if err != nil {
		return
	}
	metrics.ActiveIntegrations.WithLabelValues(string(p)).Set(float64(len(active)))
}

func requireUserID(r *http.Request) (string, error) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		return "", apperrors.UnAuthorizedError(nil, "missing user identity")
	}
	return userID, nil
}

func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		return apperrors.BadRequestError(err, "failed to read request")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.BadRequestError(err, "invalid JSON")
	}
	return nil
}

func parseDateParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback.Truncate(24 * time.Hour), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, apperrors.BadRequestError(err, "invalid "+name+" date")
	}
	return t, nil
}

func (h *HTTP) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
