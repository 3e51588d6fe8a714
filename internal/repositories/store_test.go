package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/tunelog/internal/models"
	tu "github.com/desertthunder/tunelog/internal/testing"
)

func TestStoreRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Watermark Empty Store", func(t *testing.T) {
		repo := NewStoreRepository(tu.NewTestDB(t))

		watermark, err := repo.Watermark(ctx)
		if err != nil {
			t.Fatalf("Watermark() error = %v", err)
		}
		if watermark != nil {
			t.Errorf("expected nil watermark, got %v", watermark)
		}
	})

	t.Run("Watermark After Load", func(t *testing.T) {
		db := tu.NewTestDB(t)
		if _, err := NewLoader(db, nil).LoadPlays(ctx, scenarioBatch()); err != nil {
			t.Fatalf("LoadPlays() error = %v", err)
		}

		watermark, err := NewStoreRepository(db).Watermark(ctx)
		if err != nil {
			t.Fatalf("Watermark() error = %v", err)
		}
		if watermark == nil || !watermark.Equal(baseTime.Add(4*time.Minute)) {
			t.Errorf("unexpected watermark %v", watermark)
		}
	})

	t.Run("PendingISRCs", func(t *testing.T) {
		db := tu.NewTestDB(t)
		loader := NewLoader(db, nil)

		batch := models.PlayBatch{Artists: []models.Artist{{ID: "a1", Name: "A"}}}
		for i, isrc := range []string{"ISRC_A", "ISRC_B", "ISRC_C", "ISRC_D", "", "ISRC_A"} {
			batch.Tracks = append(batch.Tracks, models.Track{ID: fmt.Sprintf("t%d", i), ArtistID: "a1", ISRC: isrc})
		}
		if _, err := loader.LoadPlays(ctx, batch); err != nil {
			t.Fatalf("LoadPlays() error = %v", err)
		}

		_, err := loader.LoadEnrichment(ctx, models.EnrichmentBatch{
			Features:     []models.EnrichmentRecord{{ISRC: "ISRC_A", MBID: "mbid-a"}},
			FailedISRCs:  []string{"ISRC_B"},
			InvalidMBIDs: []string{"mbid-c"},
			MBIDToISRC:   map[string]string{"mbid-c": "ISRC_C"},
		})
		if err != nil {
			t.Fatalf("LoadEnrichment() error = %v", err)
		}

		pending, err := NewStoreRepository(db).PendingISRCs(ctx)
		if err != nil {
			t.Fatalf("PendingISRCs() error = %v", err)
		}
		if len(pending) != 1 || pending[0] != "ISRC_D" {
			t.Errorf("expected only ISRC_D pending, got %v", pending)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		db := tu.NewTestDB(t)
		if _, err := NewLoader(db, nil).LoadPlays(ctx, scenarioBatch()); err != nil {
			t.Fatalf("LoadPlays() error = %v", err)
		}

		stats, err := NewStoreRepository(db).Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}

		if stats.Plays != 5 || stats.Tracks != 3 || stats.Artists != 2 || stats.Genres != 3 {
			t.Errorf("unexpected stats: %+v", stats)
		}
		if stats.Pending != 2 {
			t.Errorf("expected 2 pending isrcs, got %d", stats.Pending)
		}
		if stats.Watermark == nil {
			t.Error("expected a watermark")
		}
	})
}
