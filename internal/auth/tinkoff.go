package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// TinkoffConfig configures the Tinkoff ID provider. All four endpoint URLs
// have production defaults.
type TinkoffConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Scopes        []string
	AuthURL       string
	TokenURL      string
	IntrospectURL string
	UserInfoURL   string
}

const (
	tinkoffAuthURL       = "https://id.tinkoff.ru/auth/authorize"
	tinkoffTokenURL      = "https://id.tinkoff.ru/auth/token"
	tinkoffIntrospectURL = "https://id.tinkoff.ru/auth/introspect"
	tinkoffUserInfoURL   = "https://id.tinkoff.ru/userinfo/userinfo"
)

// TinkoffProvider signs users in with Tinkoff ID. Unlike the others it must
// introspect the token and confirm every required scope was granted.
type TinkoffProvider struct {
	config        *oauth2.Config
	scopes        []string
	introspectURL string
	userInfoURL   string
	client        *http.Client
}

var (
	_ Provider          = (*TinkoffProvider)(nil)
	_ ScopeIntrospector = (*TinkoffProvider)(nil)
)

func NewTinkoffProvider(cfg TinkoffConfig, client *http.Client) *TinkoffProvider {
	def := func(v, fallback string) string {
		if v == "" {
			return fallback
		}
		return v
	}
	return &TinkoffProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   def(cfg.AuthURL, tinkoffAuthURL),
				TokenURL:  def(cfg.TokenURL, tinkoffTokenURL),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		scopes:        cfg.Scopes,
		introspectURL: def(cfg.IntrospectURL, tinkoffIntrospectURL),
		userInfoURL:   def(cfg.UserInfoURL, tinkoffUserInfoURL),
		client:        client,
	}
}

func (p *TinkoffProvider) Name() string { return "tinkoff" }

// AuthURL joins scopes with commas, which is what Tinkoff ID expects.
func (p *TinkoffProvider) AuthURL(state string) string {
	opts := []oauth2.AuthCodeOption{}
	if len(p.scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(p.scopes, ",")))
	}
	return p.config.AuthCodeURL(state, opts...)
}

func (p *TinkoffProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(withClient(ctx, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("tinkoff: exchanging code: %w", err)
	}
	return token, nil
}

// scopeList accepts both `["a","b"]` and `"a b"`.
type scopeList []string

func (s *scopeList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*s = list
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("scope is neither a list nor a string: %w", err)
	}
	*s = strings.Fields(str)
	return nil
}

type tinkoffIntrospection struct {
	Active *bool     `json:"active"`
	Scope  scopeList `json:"scope"`
}

// IntrospectScope checks that the token is active and was granted every
// configured scope. A failed call is KindIntrospectionFailed; a missing
// scope is KindInsufficientScope.
func (p *TinkoffProvider) IntrospectScope(ctx context.Context, token *oauth2.Token) error {
	form := url.Values{"token": {token.AccessToken}}
	req, err := p.newFormRequest(ctx, p.introspectURL, form)
	if err != nil {
		return NewError(KindIntrospectionFailed, err)
	}
	req.SetBasicAuth(p.config.ClientID, p.config.ClientSecret)

	var in tinkoffIntrospection
	if err := doJSON(p.client, req, &in); err != nil {
		return NewError(KindIntrospectionFailed, fmt.Errorf("tinkoff: introspecting: %w", err))
	}
	if in.Active != nil && !*in.Active {
		return NewError(KindIntrospectionFailed, errors.New("tinkoff: token is not active"))
	}

	if missing := missingScopes(p.scopes, in.Scope); len(missing) > 0 {
		return NewError(KindInsufficientScope,
			fmt.Errorf("tinkoff: scopes not granted: %s", strings.Join(missing, ",")))
	}
	return nil
}

// missingScopes returns the entries of required absent from granted.
func missingScopes(required, granted []string) []string {
	have := make(map[string]struct{}, len(granted))
	for _, s := range granted {
		have[s] = struct{}{}
	}
	var missing []string
	for _, s := range required {
		if _, ok := have[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

type tinkoffUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

// FetchProfile POSTs to the userinfo endpoint with the bearer token and the
// client credentials in the form body.
func (p *TinkoffProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
	}
	req, err := p.newFormRequest(ctx, p.userInfoURL, form)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var raw json.RawMessage
	if err := doJSON(p.client, req, &raw); err != nil {
		return nil, fmt.Errorf("tinkoff: fetching userinfo: %w", err)
	}
	var info tinkoffUserInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("tinkoff: decoding userinfo: %w", err)
	}

	return &Profile{
		ProviderUserID: info.Sub,
		Email:          strings.TrimSpace(info.Email),
		FirstName:      info.GivenName,
		LastName:       info.FamilyName,
		Raw:            raw,
	}, nil
}

func (p *TinkoffProvider) newFormRequest(ctx context.Context, endpoint string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tinkoff: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}
