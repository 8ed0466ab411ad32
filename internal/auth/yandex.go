package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/yandex"
)

// YandexConfig configures the Yandex ID provider.
type YandexConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint // defaults to yandex.Endpoint
	InfoURL      string          // defaults to https://login.yandex.ru/info
}

// yandexInfo is the subset of login.yandex.ru/info we read.
type yandexInfo struct {
	ID           string `json:"id"`
	DefaultEmail string `json:"default_email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

// YandexProvider signs users in with Yandex ID.
type YandexProvider struct {
	config  *oauth2.Config
	infoURL string
	client  *http.Client
}

var _ Provider = (*YandexProvider)(nil)

func NewYandexProvider(cfg YandexConfig, client *http.Client) *YandexProvider {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = yandex.Endpoint
		// Yandex expects client credentials in the form body.
		cfg.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	if cfg.InfoURL == "" {
		cfg.InfoURL = "https://login.yandex.ru/info"
	}
	return &YandexProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		infoURL: cfg.InfoURL,
		client:  client,
	}
}

func (p *YandexProvider) Name() string { return "yandex" }

func (p *YandexProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *YandexProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(withClient(ctx, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("yandex: exchanging code: %w", err)
	}
	return token, nil
}

// FetchProfile calls the info endpoint. Yandex uses the "OAuth" auth scheme,
// not "Bearer".
func (p *YandexProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.infoURL+"?format=json", nil)
	if err != nil {
		return nil, fmt.Errorf("yandex: building request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+token.AccessToken)

	var raw json.RawMessage
	if err := doJSON(p.client, req, &raw); err != nil {
		return nil, fmt.Errorf("yandex: fetching info: %w", err)
	}
	var info yandexInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("yandex: decoding info: %w", err)
	}

	return &Profile{
		ProviderUserID: info.ID,
		Email:          strings.TrimSpace(info.DefaultEmail),
		FirstName:      info.FirstName,
		LastName:       info.LastName,
		Raw:            raw,
	}, nil
}
