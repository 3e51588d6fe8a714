package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// SpotifyOAuthConfig builds the OAuth2 config for reading play history.
func SpotifyOAuthConfig(cfg shared.SpotifyConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       []string{"user-read-recently-played"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}
}

// LoadToken reads a JSON-serialised token written by the authorization flow.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no token at %s", shared.ErrNotAuthenticated, path)
		}
		return nil, fmt.Errorf("failed to read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token at %s is empty", shared.ErrNotAuthenticated, path)
	}

	return &token, nil
}

// SaveToken writes token to path, readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}

	return nil
}

// refreshableTokenSource calls onTokenRefresh whenever the wrapped source hands out a new access token.
type refreshableTokenSource struct {
	base           oauth2.TokenSource
	mu             sync.Mutex
	current        string
	onTokenRefresh func(*oauth2.Token) error
	logger         *log.Logger
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.base.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if token.AccessToken != r.current {
		r.current = token.AccessToken
		if r.onTokenRefresh != nil {
			if err := r.onTokenRefresh(token); err != nil {
				r.logger.Warn("failed to persist refreshed token", "error", err)
			}
		}
	}

	return token, nil
}

// NewTokenSource returns a token source for the stored Spotify token that refreshes it when expired
// and writes every refreshed token back to cfg.TokenPath.
func NewTokenSource(ctx context.Context, cfg shared.SpotifyConfig, logger *log.Logger) (oauth2.TokenSource, error) {
	token, err := LoadToken(cfg.TokenPath)
	if err != nil {
		return nil, err
	}

	if !token.Valid() && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: stored token expired", shared.ErrNoRefreshToken)
	}

	logger = shared.WithLogger(logger, "component", "auth")
	return &refreshableTokenSource{
		base:    SpotifyOAuthConfig(cfg).TokenSource(ctx, token),
		current: token.AccessToken,
		onTokenRefresh: func(t *oauth2.Token) error {
			logger.Debug("spotify token refreshed", "expiry", t.Expiry)
			return SaveToken(cfg.TokenPath, t)
		},
		logger: logger,
	}, nil
}
