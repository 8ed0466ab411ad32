package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// GitHubConfig configures the GitHub provider. Endpoint and APIBaseURL are
// overridable so tests can point them at an httptest server.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint // defaults to github.Endpoint
	APIBaseURL   string          // defaults to https://api.github.com
}

// githubUser is the portion of the GitHub /user API response we care about.
// GitHub API docs: https://docs.github.com/en/rest/users/users#get-the-authenticated-user
type githubUser struct {
	ID    int64  `json:"id"`    // stable, never changes
	Login string `json:"login"` // username, can be renamed
	Name  string `json:"name"`
	Email string `json:"email"` // empty if hidden in GitHub settings
}

// githubEmail is one entry of GET /user/emails.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider wraps golang.org/x/oauth2 for the GitHub Authorization Code flow.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW:
//  1. The user is redirected to GitHub's authorization endpoint with our
//     ClientID, the requested scopes and a state value.
//  2. GitHub redirects back to RedirectURL with a short-lived "code".
//  3. We exchange the code for an access token (server-to-server, using the
//     ClientSecret; the token never reaches the browser).
//  4. We call the GitHub API with the token for the user's profile.
type GitHubProvider struct {
	config  *oauth2.Config
	apiBase string
	client  *http.Client
}

var (
	_ Provider     = (*GitHubProvider)(nil)
	_ EmailFetcher = (*GitHubProvider)(nil)
)

// NewGitHubProvider creates a GitHubProvider.
//
// Default scopes:
//   - "read:user": public profile (id, login, name)
//   - "user:email": the email list, needed when the profile email is hidden
func NewGitHubProvider(cfg GitHubConfig, client *http.Client) *GitHubProvider {
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"read:user", "user:email"}
	}
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = github.Endpoint
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		apiBase: strings.TrimRight(cfg.APIBaseURL, "/"),
		client:  client,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

// AuthURL returns the URL to redirect the user to for authorization.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// ExchangeCode trades the authorization code for an access token. A non-2xx
// reply or a reply without access_token is an error.
func (p *GitHubProvider) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(withClient(ctx, p.client), code)
	if err != nil {
		return nil, fmt.Errorf("github: exchanging code: %w", err)
	}
	return token, nil
}

// FetchProfile calls GET /user. A missing display name falls back to the
// login as first name.
func (p *GitHubProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	req, err := p.newRequest(ctx, token, "/user")
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := doJSON(p.client, req, &raw); err != nil {
		return nil, fmt.Errorf("github: fetching user: %w", err)
	}
	var u githubUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("github: decoding user: %w", err)
	}

	profile := &Profile{
		Email: strings.TrimSpace(u.Email),
		Raw:   raw,
	}
	if u.ID != 0 {
		profile.ProviderUserID = strconv.FormatInt(u.ID, 10)
	}
	if strings.TrimSpace(u.Name) != "" {
		profile.FirstName, profile.LastName = splitName(u.Name)
	} else {
		profile.FirstName = u.Login
	}
	return profile, nil
}

// FetchPrimaryEmail calls GET /user/emails and picks the primary verified
// address, else any verified one, else "".
func (p *GitHubProvider) FetchPrimaryEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	req, err := p.newRequest(ctx, token, "/user/emails")
	if err != nil {
		return "", err
	}

	var emails []githubEmail
	if err := doJSON(p.client, req, &emails); err != nil {
		return "", fmt.Errorf("github: fetching emails: %w", err)
	}
	return pickGitHubEmail(emails), nil
}

func pickGitHubEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified && e.Email != "" {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified && e.Email != "" {
			return e.Email
		}
	}
	return ""
}

func (p *GitHubProvider) newRequest(ctx context.Context, token *oauth2.Token, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return nil, fmt.Errorf("github: building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return req, nil
}
