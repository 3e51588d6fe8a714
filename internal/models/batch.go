package models

// PlayBatch is the transformed output of one sync extraction, ready for loading.
type PlayBatch struct {
	Plays   []PlayEvent
	Tracks  []Track
	Artists []Artist
	Genres  []Genre
}

// Empty reports whether the batch carries no rows at all.
func (b PlayBatch) Empty() bool {
	return len(b.Plays) == 0 && len(b.Tracks) == 0 && len(b.Artists) == 0 && len(b.Genres) == 0
}

// EnrichmentBatch is the transformed output of one enrichment pass.
//
// Failed and invalid keys are bare identifiers; the loader stamps them when written.
// MBIDToISRC links each invalid MBID back to the ISRC it was resolved from.
type EnrichmentBatch struct {
	Features     []EnrichmentRecord
	FailedISRCs  []string
	InvalidMBIDs []string
	MBIDToISRC   map[string]string
}

// Empty reports whether the batch carries no rows at all.
func (b EnrichmentBatch) Empty() bool {
	return len(b.Features) == 0 && len(b.FailedISRCs) == 0 && len(b.InvalidMBIDs) == 0
}
