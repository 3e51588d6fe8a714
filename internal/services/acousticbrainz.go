package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tunelog/internal/shared"
)

const acousticBrainzBaseURL = "https://acousticbrainz.org"

// HighLevelFeature is one classifier output of the high-level payload.
type HighLevelFeature struct {
	Value       string   `json:"value"`
	Probability *float64 `json:"probability"`
}

// HighLevel is the high-level feature payload for one recording, keyed by classifier name
// (danceability, voice_instrumental, gender, timbre, tonal_atonal, ...).
type HighLevel struct {
	Features map[string]*HighLevelFeature `json:"highlevel"`
}

// Feature returns the named classifier output, or nil when the payload lacks it.
func (h *HighLevel) Feature(name string) *HighLevelFeature {
	if h == nil {
		return nil
	}
	return h.Features[name]
}

// FeatureResult is the classified answer to one feature fetch. Payload is only set for [OutcomeSuccess].
type FeatureResult struct {
	MBID    string
	Outcome Outcome
	Payload *HighLevel
	Err     error
}

// AcousticBrainzService fetches high-level audio features by MBID.
type AcousticBrainzService struct {
	fetcher *Fetcher
	baseURL string
	logger  *log.Logger
}

// NewAcousticBrainzService creates an AcousticBrainz client.
func NewAcousticBrainzService(fetcher *Fetcher, cfg shared.AcousticBrainzConfig, logger *log.Logger) *AcousticBrainzService {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = acousticBrainzBaseURL
	}

	return &AcousticBrainzService{
		fetcher: fetcher,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  shared.WithLogger(logger, "service", AcousticBrainzAPI),
	}
}

func (a *AcousticBrainzService) Name() string {
	return "AcousticBrainz"
}

// HighLevel fetches the high-level payload for mbid.
func (a *AcousticBrainzService) HighLevel(ctx context.Context, mbid string) FeatureResult {
	endpoint := fmt.Sprintf("%s/api/v1/%s/high-level", a.baseURL, url.PathEscape(mbid))

	header := http.Header{}
	header.Set("Accept", "application/json")

	resp := a.fetcher.Do(ctx, Request{Method: http.MethodGet, URL: endpoint, Header: header})
	result := FeatureResult{MBID: mbid, Outcome: resp.Outcome, Err: resp.Err}
	if resp.Outcome != OutcomeSuccess {
		return result
	}

	var payload HighLevel
	if err := decodeJSON(resp, &payload); err != nil {
		result.Outcome = OutcomeUnknown
		result.Err = err
		return result
	}

	result.Payload = &payload
	a.logger.Debug("fetched features", "mbid", mbid, "classifiers", len(payload.Features))
	return result
}
