package botauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrProviderUnavailable means the identity provider could not be
// reached in time. Distinct from a credential rejection so callers never
// treat an outage as "invalid credentials".
var ErrProviderUnavailable = errors.New("identity provider unavailable")

// BotInfo is best-effort display metadata fetched from the provider.
type BotInfo struct {
	Name string
	Icon string
}

// Provider verifies bot credentials against an external identity
// provider. VerifyCredentials returns (valid, rejection reason, error);
// the error path is reserved for provider unavailability.
type Provider interface {
	VerifyCredentials(ctx context.Context, clientID, clientSecret string) (bool, string, error)
	FetchBotInfo(ctx context.Context, clientID, clientSecret string) (*BotInfo, error)
}

const (
	defaultDiscordAPI = "https://discord.com/api/v10"
	providerTimeout   = 8 * time.Second
)

// DiscordProvider validates credentials with Discord's client_credentials
// grant. The exchange itself rejects invalid pairs, so no secret ever
// needs to be compared locally on this path.
type DiscordProvider struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewDiscordProvider creates a provider against the given API base URL
// (empty for the real Discord API).
func NewDiscordProvider(baseURL string, log zerolog.Logger) *DiscordProvider {
	if baseURL == "" {
		baseURL = defaultDiscordAPI
	}
	return &DiscordProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: providerTimeout},
		log:     log,
	}
}

func (p *DiscordProvider) config(clientID, clientSecret string, scopes ...string) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     p.baseURL + "/oauth2/token",
		Scopes:       scopes,
	}
}

// httpContext pins the token exchange to our timeout-bound client.
func (p *DiscordProvider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// VerifyCredentials exchanges the credential pair for a token. A token
// endpoint rejection reads as invalid credentials; anything else is a
// provider outage.
func (p *DiscordProvider) VerifyCredentials(ctx context.Context, clientID, clientSecret string) (bool, string, error) {
	_, err := p.config(clientID, clientSecret, "identify").Token(p.httpContext(ctx))
	if err == nil {
		return true, "", nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		reason := retrieveErr.ErrorDescription
		if reason == "" {
			reason = "Invalid credentials"
		}
		return false, reason, nil
	}

	p.log.Warn().Err(err).Str("client_id", clientID).Msg("discord credential exchange failed")
	return false, "", ErrProviderUnavailable
}

// FetchBotInfo fetches application display metadata over a token-bearing
// client. Best effort; the caller treats failure as non-fatal.
func (p *DiscordProvider) FetchBotInfo(ctx context.Context, clientID, clientSecret string) (*BotInfo, error) {
	client := p.config(clientID, clientSecret, "identify", "applications.commands.update").
		Client(p.httpContext(ctx))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/oauth2/@me", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, errors.New("failed to authenticate with discord")
		}
		p.log.Warn().Err(err).Str("client_id", clientID).Msg("discord application fetch failed")
		return nil, ErrProviderUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("failed to fetch application info")
	}

	var app struct {
		Application struct {
			Name string `json:"name"`
			Icon string `json:"icon"`
		} `json:"application"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&app); err != nil {
		return nil, err
	}

	return &BotInfo{Name: app.Application.Name, Icon: app.Application.Icon}, nil
}
