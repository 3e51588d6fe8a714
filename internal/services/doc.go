// Package services implements the clients for the three external APIs the pipeline reads from.
//
// # Fetching
//
// Every client sends its requests through a [Fetcher], one per API. The fetcher throttles requests to a fixed rate,
// retries 429 responses with bounded exponential backoff, and classifies the final response as an [Outcome]:
//   - [OutcomeSuccess] : status 200, payload returned
//   - [OutcomeNotFound] : status 404, the key should be negative-cached
//   - [OutcomeUnknown] : anything else, the key is skipped for this run only
//   - [OutcomeRateLimited] : retries exhausted or circuit breaker open, the run should stop
//
// # Spotify
//
// [SpotifyService] reads the recently played endpoint and batches artist lookups.
// Requests carry a bearer token from an [oauth2.TokenSource]; see [NewTokenSource].
//
// # MusicBrainz
//
// [MusicBrainzService] resolves an ISRC to candidate recording MBIDs.
// MusicBrainz requires a descriptive User-Agent, built from the [musicbrainz] config section.
//
// # AcousticBrainz
//
// [AcousticBrainzService] fetches the high-level feature payload for an MBID.
package services
