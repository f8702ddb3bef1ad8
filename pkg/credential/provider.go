package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// Config identifies the identity provider. These are the only handshake
// options.
type Config struct {
	ProviderURL string `yaml:"url"`
	Realm       string `yaml:"realm"`
	ClientID    string `yaml:"client_id"`
}

func (cfg Config) Validate() error {
	if cfg.ProviderURL == "" {
		return fmt.Errorf("%w: missing provider url", ErrInitialization)
	}
	if _, err := url.ParseRequestURI(cfg.ProviderURL); err != nil {
		return fmt.Errorf("%w: invalid provider url: %v", ErrInitialization, err)
	}
	if cfg.Realm == "" {
		return fmt.Errorf("%w: missing realm", ErrInitialization)
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("%w: missing client id", ErrInitialization)
	}
	return nil
}

// RealmURL is the base of every realm-scoped provider path.
func (cfg Config) RealmURL() (string, error) {
	return url.JoinPath(cfg.ProviderURL, "realms", cfg.Realm)
}

func (cfg Config) discoveryURL() (string, error) {
	return url.JoinPath(cfg.ProviderURL, "realms", cfg.Realm, ".well-known", "openid-configuration")
}

// providerMetadata is the subset of the OpenID discovery document the
// client needs.
type providerMetadata struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

func discover(
	ctx context.Context,
	httpClient *http.Client,
	cfg Config,
) (
	*providerMetadata,
	error,
) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	discoveryURL, err := cfg.discoveryURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitialization, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInitialization, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: provider unreachable: %v", ErrInitialization, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: discovery returned %s", ErrInitialization, res.Status)
	}

	meta := new(providerMetadata)
	if err := json.NewDecoder(res.Body).Decode(meta); err != nil {
		return nil, fmt.Errorf("%w: bad discovery document: %v", ErrInitialization, err)
	}
	if meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: discovery document missing endpoints", ErrInitialization)
	}
	return meta, nil
}

func (meta *providerMetadata) oauthConfig(
	clientID string,
	callbackURL string,
	scopes []string,
) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   meta.AuthorizationEndpoint,
			TokenURL:  meta.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: callbackURL,
		Scopes:      scopes,
	}
}

// endSessionURL builds the provider logout redirect. Returns "" when the
// provider does not advertise one.
func (meta *providerMetadata) endSessionURL(
	clientID string,
	idToken string,
	postLogoutURL string,
) string {
	if meta == nil || meta.EndSessionEndpoint == "" {
		return ""
	}
	u, err := url.Parse(meta.EndSessionEndpoint)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("client_id", clientID)
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if strings.HasPrefix(postLogoutURL, "http://") || strings.HasPrefix(postLogoutURL, "https://") {
		q.Set("post_logout_redirect_uri", postLogoutURL)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
