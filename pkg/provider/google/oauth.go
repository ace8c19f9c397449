package google

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// RefreshCredential exchanges a refresh secret for a new access secret using
// the standard OAuth refresh-token grant. Shared by all three adapters.
func (c *client) RefreshCredential(ctx context.Context, refreshSecret string) (string, *time.Time, error) {
	conf := &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: c.cfg.TokenURL,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.cfg.HTTPClient)
	source := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshSecret})

	token, err := source.Token()
	if err != nil {
		return "", nil, fmt.Errorf("failed to refresh credential: %w", err)
	}

	var expiry *time.Time
	if !token.Expiry.IsZero() {
		e := token.Expiry
		expiry = &e
	}
	return token.AccessToken, expiry, nil
}
