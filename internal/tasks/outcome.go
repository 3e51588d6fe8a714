package tasks

// Stage names the pipeline step an [ItemOutcome] came from.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageResolve  Stage = "resolve"
	StageFeatures Stage = "features"
)

// ItemStatus is the per-item result of a pipeline stage.
type ItemStatus int

const (
	// StatusResolved means the item produced a usable result.
	StatusResolved ItemStatus = iota
	// StatusNegative means the item was classified into a negative cache and will not be retried.
	StatusNegative
	// StatusSkipped means the item failed for an unknown reason and is retried on the next run.
	StatusSkipped
)

func (s ItemStatus) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusNegative:
		return "negative"
	case StatusSkipped:
		return "skipped"
	default:
		return "invalid"
	}
}

// ItemOutcome reports what happened to one ISRC, MBID or play item.
type ItemOutcome struct {
	Stage  Stage
	Key    string
	Status ItemStatus
	Err    error
}

// Diagnostic explains why an input record was dropped by a transform.
type Diagnostic struct {
	Key    string
	Reason string
}

// CountStatus returns how many outcomes have the given status.
func CountStatus(items []ItemOutcome, status ItemStatus) int {
	n := 0
	for _, item := range items {
		if item.Status == status {
			n++
		}
	}
	return n
}

// Observer receives per-item outcomes, inserted row counts and finished runs.
type Observer interface {
	ObserveItem(stage, status string)
	ObserveRows(table string, n int)
	ObserveRun(kind, status string)
}

func observeItem(o Observer, item ItemOutcome) {
	if o != nil {
		o.ObserveItem(string(item.Stage), item.Status.String())
	}
}
