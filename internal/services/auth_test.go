package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/tunelog/internal/shared"
	"golang.org/x/oauth2"
)

type sequenceTokenSource struct {
	tokens []*oauth2.Token
	calls  int
}

func (s *sequenceTokenSource) Token() (*oauth2.Token, error) {
	if s.calls >= len(s.tokens) {
		return nil, errors.New("no more tokens")
	}
	t := s.tokens[s.calls]
	s.calls++
	return t, nil
}

func TestTokens(t *testing.T) {
	t.Run("Save And Load", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		want := &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour).UTC()}

		if err := SaveToken(path, want); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}

		got, err := LoadToken(path)
		if err != nil {
			t.Fatalf("LoadToken() error = %v", err)
		}

		if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
			t.Errorf("expected %+v, got %+v", want, got)
		}
		if !got.Expiry.Equal(want.Expiry) {
			t.Errorf("expected expiry %v, got %v", want.Expiry, got.Expiry)
		}
	})

	t.Run("Load Missing", func(t *testing.T) {
		_, err := LoadToken(filepath.Join(t.TempDir(), "nope.json"))
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("Expired Without Refresh Token", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		expired := &oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Hour)}
		if err := SaveToken(path, expired); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}

		_, err := NewTokenSource(context.Background(), shared.SpotifyConfig{TokenPath: path}, nil)
		if !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
	})

	t.Run("Valid Token Source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token.json")
		valid := &oauth2.Token{AccessToken: "fresh", Expiry: time.Now().Add(time.Hour)}
		if err := SaveToken(path, valid); err != nil {
			t.Fatalf("SaveToken() error = %v", err)
		}

		ts, err := NewTokenSource(context.Background(), shared.SpotifyConfig{TokenPath: path}, nil)
		if err != nil {
			t.Fatalf("NewTokenSource() error = %v", err)
		}

		token, err := ts.Token()
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token.AccessToken != "fresh" {
			t.Errorf("expected stored token, got %s", token.AccessToken)
		}
	})

	t.Run("Refresh Callback", func(t *testing.T) {
		var refreshed []string
		ts := &refreshableTokenSource{
			base: &sequenceTokenSource{tokens: []*oauth2.Token{
				{AccessToken: "a"}, {AccessToken: "a"}, {AccessToken: "b"},
			}},
			current: "a",
			onTokenRefresh: func(t *oauth2.Token) error {
				refreshed = append(refreshed, t.AccessToken)
				return nil
			},
			logger: shared.NopLogger(),
		}

		for range 3 {
			if _, err := ts.Token(); err != nil {
				t.Fatalf("Token() error = %v", err)
			}
		}

		if strings.Join(refreshed, ",") != "b" {
			t.Errorf("expected one refresh to b, got %v", refreshed)
		}
	})

	t.Run("OAuth Config", func(t *testing.T) {
		conf := SpotifyOAuthConfig(shared.SpotifyConfig{ClientID: "id", ClientSecret: "secret", RedirectURI: "http://127.0.0.1:3000/callback"})
		url := conf.AuthCodeURL("state")
		if !strings.Contains(url, "accounts.spotify.com") || !strings.Contains(url, "user-read-recently-played") {
			t.Errorf("unexpected auth url %s", url)
		}
	})
}
