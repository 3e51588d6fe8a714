package services

import (
	"context"
	"net/http"
	"testing"

	"github.com/desertthunder/tunelog/internal/shared"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMusicBrainz(t *testing.T) *MusicBrainzService {
	t.Helper()
	f, _ := newTestFetcher(FetcherOptions{Name: MusicBrainzAPI})
	cfg := shared.MusicBrainzConfig{BaseURL: "https://mb.test", AppName: "tunelog", Email: "me@example.com"}
	return NewMusicBrainzService(f, cfg, nil)
}

func newTestAcousticBrainz(t *testing.T) *AcousticBrainzService {
	t.Helper()
	f, _ := newTestFetcher(FetcherOptions{Name: AcousticBrainzAPI})
	return NewAcousticBrainzService(f, shared.AcousticBrainzConfig{BaseURL: "https://ab.test"}, nil)
}

func TestMusicBrainzService(t *testing.T) {
	const searchURL = "https://mb.test/ws/2/recording/"

	t.Run("First Match Order Preserved", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, searchURL, func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("User-Agent") != "tunelog (me@example.com)" {
				return httpmock.NewStringResponse(http.StatusForbidden, ""), nil
			}
			if req.URL.Query().Get("query") != "isrc:USRC17607839" || req.URL.Query().Get("fmt") != "json" {
				return httpmock.NewStringResponse(http.StatusBadRequest, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"count":2,"recordings":[{"id":"mbid-1","score":100},{"id":"mbid-2","score":100}]}`), nil
		})

		result := newTestMusicBrainz(t).LookupISRC(context.Background(), "USRC17607839")
		require.NoError(t, result.Err)
		assert.Equal(t, OutcomeSuccess, result.Outcome)
		assert.Equal(t, "USRC17607839", result.ISRC)
		assert.Equal(t, []string{"mbid-1", "mbid-2"}, result.MBIDs)
	})

	t.Run("No Matches", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, searchURL,
			httpmock.NewStringResponder(http.StatusOK, `{"count":0,"recordings":[]}`))

		result := newTestMusicBrainz(t).LookupISRC(context.Background(), "XX0000000000")
		assert.Equal(t, OutcomeSuccess, result.Outcome)
		assert.Empty(t, result.MBIDs)
	})

	t.Run("Malformed Body", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, searchURL, httpmock.NewStringResponder(http.StatusOK, `{"recordings":`))

		result := newTestMusicBrainz(t).LookupISRC(context.Background(), "XX0000000000")
		assert.Equal(t, OutcomeUnknown, result.Outcome)
		assert.Error(t, result.Err)
	})

	t.Run("Server Error", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, searchURL, httpmock.NewStringResponder(http.StatusServiceUnavailable, ""))

		result := newTestMusicBrainz(t).LookupISRC(context.Background(), "XX0000000000")
		assert.Equal(t, OutcomeUnknown, result.Outcome)
		assert.ErrorIs(t, result.Err, shared.ErrAPIRequest)
	})
}

func TestAcousticBrainzService(t *testing.T) {
	t.Run("HighLevel", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, "https://ab.test/api/v1/mbid-1/high-level",
			httpmock.NewStringResponder(http.StatusOK, `{
				"highlevel": {
					"danceability": {"value": "danceable", "probability": 0.91},
					"gender": {"value": "female", "probability": 0.66},
					"tonal_atonal": {"value": "tonal"}
				},
				"metadata": {"version": {"essentia": "2.1"}}
			}`))

		result := newTestAcousticBrainz(t).HighLevel(context.Background(), "mbid-1")
		require.NoError(t, result.Err)
		require.Equal(t, OutcomeSuccess, result.Outcome)
		require.NotNil(t, result.Payload)

		dance := result.Payload.Feature("danceability")
		require.NotNil(t, dance)
		assert.Equal(t, "danceable", dance.Value)
		require.NotNil(t, dance.Probability)
		assert.InDelta(t, 0.91, *dance.Probability, 0.0001)

		assert.Nil(t, result.Payload.Feature("tonal_atonal").Probability)
		assert.Nil(t, result.Payload.Feature("timbre"))
	})

	t.Run("Not Found", func(t *testing.T) {
		setupHTTPMock(t)
		httpmock.RegisterResponder(http.MethodGet, "https://ab.test/api/v1/mbid-404/high-level",
			httpmock.NewStringResponder(http.StatusNotFound, `{"message":"Not found"}`))

		result := newTestAcousticBrainz(t).HighLevel(context.Background(), "mbid-404")
		assert.Equal(t, OutcomeNotFound, result.Outcome)
		assert.Nil(t, result.Payload)
	})

	t.Run("Nil Payload Feature", func(t *testing.T) {
		var h *HighLevel
		assert.Nil(t, h.Feature("gender"))
	})
}
