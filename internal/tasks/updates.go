package tasks

import (
	"fmt"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data
}

// Operation phase enumeration
type Phase int

const (
	ExtractPlays Phase = iota
	FetchArtists
	TransformPlaysPhase
	LoadPlays
	FindPending
	ResolveISRCs
	FetchFeatures
	TransformFeaturesPhase
	LoadEnrichment
)

func (p Phase) String() string {
	switch p {
	case ExtractPlays:
		return "extract_plays"
	case FetchArtists:
		return "fetch_artists"
	case TransformPlaysPhase:
		return "transform_plays"
	case LoadPlays:
		return "load_plays"
	case FindPending:
		return "find_pending"
	case ResolveISRCs:
		return "resolve_isrcs"
	case FetchFeatures:
		return "fetch_features"
	case TransformFeaturesPhase:
		return "transform_features"
	case LoadEnrichment:
		return "load_enrichment"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func extractUpdate(after string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ExtractPlays,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching plays after %s...", after),
	}
}

func fetchArtistsUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchArtists,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Fetching genres for %d artists...", count),
	}
}

func transformPlaysUpdate(items, skipped int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   TransformPlaysPhase,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Transformed %d play items (%d skipped)", items, skipped),
	}
}

func loadUpdate(phase Phase, inserted int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   phase,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Loaded %d rows", inserted),
	}
}

func pendingUpdate(count int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FindPending,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Found %d unclassified ISRCs", count),
	}
}

func itemUpdate(phase Phase, step, total int, item ItemOutcome) ProgressUpdate {
	mark := "✓"
	switch item.Status {
	case StatusNegative:
		mark = "✗"
	case StatusSkipped:
		mark = "?"
	}
	return ProgressUpdate{
		Phase:   phase,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, mark, item.Key),
		Data:    item,
	}
}

func transformFeaturesUpdate(records, dropped int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   TransformFeaturesPhase,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Built %d feature records (%d dropped)", records, dropped),
	}
}
