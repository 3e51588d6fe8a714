// package services defines the HTTP clients for the external APIs the pipeline reads from
//
// Spotify, MusicBrainz, AcousticBrainz
package services

import (
	"fmt"

	"github.com/goccy/go-json"
)

// API labels used by fetchers, logs and metrics.
const (
	SpotifyAPI        = "spotify"
	MusicBrainzAPI    = "musicbrainz"
	AcousticBrainzAPI = "acousticbrainz"
)

// decodeJSON unmarshals a successful response body into result.
func decodeJSON(resp Response, result any) error {
	if err := json.Unmarshal(resp.Body, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
