package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/tunelog/internal/models"
	tu "github.com/desertthunder/tunelog/internal/testing"
)

func TestSyncRunRepository(t *testing.T) {
	ctx := context.Background()

	newRepo := func(t *testing.T) *SyncRunRepository {
		repo := NewSyncRunRepository(tu.NewTestDB(t))
		clock := baseTime
		repo.now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}
		return repo
	}

	t.Run("Start And Finish", func(t *testing.T) {
		repo := newRepo(t)

		run, err := repo.Start(ctx, models.RunKindSync)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if run.ID == "" || run.Status != models.RunStatusRunning {
			t.Errorf("unexpected started run: %+v", run)
		}

		run.Counts = models.RunCounts{Plays: 5, Tracks: 3, Skipped: 1}
		if err := repo.Finish(ctx, run, nil); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.Get(ctx, run.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}

		if got.Status != models.RunStatusSucceeded {
			t.Errorf("expected succeeded, got %s", got.Status)
		}
		if got.Counts != run.Counts {
			t.Errorf("expected counts %+v, got %+v", run.Counts, got.Counts)
		}
		if got.FinishedAt == nil || got.Duration() != time.Second {
			t.Errorf("expected a one second run, got %v", got.Duration())
		}
	})

	t.Run("Finish With Error", func(t *testing.T) {
		repo := newRepo(t)

		run, err := repo.Start(ctx, models.RunKindEnrich)
		if err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := repo.Finish(ctx, run, errors.New("rate limit exceeded")); err != nil {
			t.Fatalf("Finish() error = %v", err)
		}

		got, err := repo.Get(ctx, run.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != models.RunStatusFailed || got.Error != "rate limit exceeded" {
			t.Errorf("unexpected failed run: %+v", got)
		}
	})

	t.Run("Finish Unknown Run", func(t *testing.T) {
		repo := newRepo(t)
		if err := repo.Finish(ctx, &models.SyncRun{ID: "missing"}, nil); err == nil {
			t.Error("expected error finishing unknown run")
		}
	})

	t.Run("Get Not Found", func(t *testing.T) {
		repo := newRepo(t)
		if _, err := repo.Get(ctx, "missing"); err == nil {
			t.Error("expected error for missing run")
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := newRepo(t)

		var ids []string
		for _, kind := range []models.RunKind{models.RunKindSync, models.RunKindEnrich, models.RunKindSync} {
			run, err := repo.Start(ctx, kind)
			if err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			ids = append(ids, run.ID)
		}

		all, err := repo.List(ctx, "", 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 || all[0].ID != ids[2] {
			t.Errorf("expected newest run first, got %d runs", len(all))
		}

		syncs, err := repo.List(ctx, models.RunKindSync, 1)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(syncs) != 1 || syncs[0].ID != ids[2] {
			t.Errorf("expected latest sync run only, got %+v", syncs)
		}
	})
}
