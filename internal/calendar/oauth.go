package calendar

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested during consent: event creation plus read access.
var oauthScopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
	"https://www.googleapis.com/auth/calendar.readonly",
}

// OAuth drives the authorization-code flow that yields the access token
// the calendar calls need.
type OAuth struct {
	cfg *oauth2.Config
}

// NewOAuth builds the flow from the registered application credentials.
func NewOAuth(clientID, clientSecret, redirectURL string) *OAuth {
	return &OAuth{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       oauthScopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// Configured reports whether application credentials are present.
func (o *OAuth) Configured() bool {
	return o.cfg.ClientID != "" && o.cfg.ClientSecret != "" && o.cfg.RedirectURL != ""
}

// AuthURL returns the consent URL. Offline access with forced consent
// makes Google return a refresh token on every authorization.
func (o *OAuth) AuthURL(state string) string {
	return o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for tokens.
func (o *OAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := o.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}
