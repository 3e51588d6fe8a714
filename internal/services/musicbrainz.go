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

const musicBrainzBaseURL = "https://musicbrainz.org"

// MusicBrainzRecording is the part of a recording search hit the resolver needs.
type MusicBrainzRecording struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Score int    `json:"score"`
}

// MusicBrainzRecordingSearch is the recording search response.
type MusicBrainzRecordingSearch struct {
	Count      int                    `json:"count"`
	Recordings []MusicBrainzRecording `json:"recordings"`
}

// LookupResult is the classified answer to one ISRC lookup.
//
// MBIDs keeps the order the API returned them in and is only set for [OutcomeSuccess].
type LookupResult struct {
	ISRC    string
	Outcome Outcome
	MBIDs   []string
	Err     error
}

// MusicBrainzService resolves ISRCs to recording MBIDs.
type MusicBrainzService struct {
	fetcher   *Fetcher
	baseURL   string
	userAgent string
	logger    *log.Logger
}

// NewMusicBrainzService creates a MusicBrainz client identified by the configured User-Agent.
func NewMusicBrainzService(fetcher *Fetcher, cfg shared.MusicBrainzConfig, logger *log.Logger) *MusicBrainzService {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = musicBrainzBaseURL
	}

	return &MusicBrainzService{
		fetcher:   fetcher,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: cfg.UserAgent(),
		logger:    shared.WithLogger(logger, "service", MusicBrainzAPI),
	}
}

func (m *MusicBrainzService) Name() string {
	return "MusicBrainz"
}

// LookupISRC searches recordings by ISRC.
func (m *MusicBrainzService) LookupISRC(ctx context.Context, isrc string) LookupResult {
	endpoint := fmt.Sprintf("%s/ws/2/recording/?query=isrc:%s&fmt=json", m.baseURL, url.QueryEscape(isrc))

	header := http.Header{}
	header.Set("User-Agent", m.userAgent)
	header.Set("Accept", "application/json")

	resp := m.fetcher.Do(ctx, Request{Method: http.MethodGet, URL: endpoint, Header: header})
	result := LookupResult{ISRC: isrc, Outcome: resp.Outcome, Err: resp.Err}
	if resp.Outcome != OutcomeSuccess {
		return result
	}

	var search MusicBrainzRecordingSearch
	if err := decodeJSON(resp, &search); err != nil {
		result.Outcome = OutcomeUnknown
		result.Err = err
		return result
	}

	for _, rec := range search.Recordings {
		if rec.ID != "" {
			result.MBIDs = append(result.MBIDs, rec.ID)
		}
	}

	m.logger.Debug("looked up isrc", "isrc", isrc, "matches", len(result.MBIDs))
	return result
}
