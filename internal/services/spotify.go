// Spotify Web API client for the recently played and artists endpoints
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	// maxArtistIDs is the batch size limit of the several-artists endpoint.
	maxArtistIDs = 50
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	Explicit     bool            `json:"explicit"`
	ExternalIDs  externalIDs     `json:"external_ids"`
	ExternalURLs externalURLs    `json:"external_urls"`
	Popularity   int             `json:"popularity"`
	URI          string          `json:"uri"`
}

// SpotifyArtist represents a Spotify artist. Genres are only populated by the artists endpoint.
type SpotifyArtist struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Genres []string       `json:"genres"`
	Images []SpotifyImage `json:"images"`
	URI    string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
}

// PlayHistoryItem is one entry of the recently played endpoint.
// Track is nil when Spotify returned a play without a track object.
type PlayHistoryItem struct {
	PlayedAt string        `json:"played_at"`
	Track    *SpotifyTrack `json:"track"`
}

type cursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

// SpotifyRecentlyPlayed is a cursor-paginated page of play history.
type SpotifyRecentlyPlayed struct {
	Items   []PlayHistoryItem `json:"items"`
	Next    *string           `json:"next"`
	Cursors *cursors          `json:"cursors"`
	Limit   int               `json:"limit"`
	Href    string            `json:"href"`
}

// SpotifyService reads play history and artist details from the Spotify Web API.
// All requests go through a [Fetcher] and carry a bearer token from an [oauth2.TokenSource].
type SpotifyService struct {
	fetcher  *Fetcher
	tokens   oauth2.TokenSource
	baseURL  string
	maxPages int
	logger   *log.Logger
}

// SpotifyOptions configures a [SpotifyService]. Zero values select the defaults.
type SpotifyOptions struct {
	BaseURL  string
	MaxPages int
	Logger   *log.Logger
}

// NewSpotifyService creates a Spotify client.
func NewSpotifyService(fetcher *Fetcher, tokens oauth2.TokenSource, opts SpotifyOptions) *SpotifyService {
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 10
	}

	return &SpotifyService{
		fetcher:  fetcher,
		tokens:   tokens,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		maxPages: opts.MaxPages,
		logger:   shared.WithLogger(opts.Logger, "service", SpotifyAPI),
	}
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated GET against the Spotify API. rawURL may be an endpoint or an absolute next-page URL.
func (s *SpotifyService) doRequest(ctx context.Context, rawURL string, result any) error {
	if s.tokens == nil {
		return shared.ErrNotAuthenticated
	}

	token, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNotAuthenticated, err)
	}

	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = s.baseURL + rawURL
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token.AccessToken)
	header.Set("Accept", "application/json")

	resp := s.fetcher.Do(ctx, Request{Method: http.MethodGet, URL: rawURL, Header: header})
	if resp.Outcome != OutcomeSuccess {
		return fmt.Errorf("spotify %s: %w", resp.Outcome, resp.Err)
	}

	return decodeJSON(resp, result)
}

// RecentlyPlayed returns plays after the given time, following next cursors up to the page limit.
//
// limit is the page size and is clamped to 1..50.
func (s *SpotifyService) RecentlyPlayed(ctx context.Context, after time.Time, limit int) ([]PlayHistoryItem, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	endpoint := fmt.Sprintf("/me/player/recently-played?limit=%d&after=%d", limit, after.UnixMilli())

	var items []PlayHistoryItem
	for page := 0; page < s.maxPages && endpoint != ""; page++ {
		var response SpotifyRecentlyPlayed
		if err := s.doRequest(ctx, endpoint, &response); err != nil {
			return nil, fmt.Errorf("failed to fetch recently played page %d: %w", page+1, err)
		}

		items = append(items, response.Items...)
		s.logger.Debug("fetched recently played page", "page", page+1, "items", len(response.Items))

		endpoint = ""
		if response.Next != nil {
			endpoint = *response.Next
		}
	}

	return items, nil
}

// SeveralArtists retrieves artists by ID in batches of up to 50. Unknown IDs are omitted from the result.
func (s *SpotifyService) SeveralArtists(ctx context.Context, artistIDs []string) ([]SpotifyArtist, error) {
	var artists []SpotifyArtist

	for start := 0; start < len(artistIDs); start += maxArtistIDs {
		end := min(start+maxArtistIDs, len(artistIDs))
		ids := strings.Join(artistIDs[start:end], ",")
		endpoint := fmt.Sprintf("/artists?ids=%s", url.QueryEscape(ids))

		var response struct {
			Artists []*SpotifyArtist `json:"artists"`
		}
		if err := s.doRequest(ctx, endpoint, &response); err != nil {
			return nil, err
		}

		for _, a := range response.Artists {
			if a != nil && a.ID != "" {
				artists = append(artists, *a)
			}
		}
	}

	return artists, nil
}
