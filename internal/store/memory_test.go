package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
)

func newTestExperiment() *api.Experiment {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &api.Experiment{
		ID:                 "exp-1",
		Name:               "homepage-cta",
		Status:             api.StatusActive,
		OptimizationTarget: "ctr",
		Variants: []api.Variant{
			{ID: "v-control", Name: "control", IsControl: true, CreatedAt: now},
			{ID: "v-blue", Name: "blue_button", CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemoryExperimentLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	exp := newTestExperiment()

	if err := m.Create(ctx, exp); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := m.Create(ctx, newTestExperiment()); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("duplicate name: got %v, want ErrDuplicateName", err)
	}

	got, err := m.GetByID(ctx, "exp-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Name != "homepage-cta" || len(got.Variants) != 2 {
		t.Fatalf("GetByID returned %+v", got)
	}

	byName, err := m.GetByName(ctx, "homepage-cta")
	if err != nil || byName.ID != "exp-1" {
		t.Fatalf("GetByName: got %+v, %v", byName, err)
	}

	if _, err := m.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing experiment: got %v, want ErrNotFound", err)
	}

	if err := m.UpdateStatus(ctx, "exp-1", api.StatusPaused); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ = m.GetByID(ctx, "exp-1")
	if got.Status != api.StatusPaused {
		t.Fatalf("status = %q, want paused", got.Status)
	}
	if err := m.UpdateStatus(ctx, "missing", api.StatusPaused); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateStatus missing: got %v, want ErrNotFound", err)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.Create(ctx, newTestExperiment()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, _ := m.GetByID(ctx, "exp-1")
	got.Variants[0].Name = "mutated"

	again, _ := m.GetByID(ctx, "exp-1")
	if again.Variants[0].Name != "control" {
		t.Fatal("stored experiment was mutated through the returned copy")
	}
}

func TestMemoryAggregateWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	today := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return today.Add(9 * time.Hour) }

	if err := m.Create(ctx, newTestExperiment()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	day := func(daysAgo int) time.Time { return today.AddDate(0, 0, -daysAgo) }
	rows := []DailyMetric{
		// Inside a 14-day window.
		{VariantID: "v-control", Date: day(1), Impressions: 100, Clicks: 10, Revenue: decimal.NewFromFloat(1.50)},
		{VariantID: "v-control", Date: day(14), Impressions: 200, Clicks: 20, Revenue: decimal.NewFromFloat(2.50)},
		// Outside: 15 days ago and today (day not closed yet).
		{VariantID: "v-control", Date: day(15), Impressions: 1000, Clicks: 500},
		{VariantID: "v-control", Date: day(0), Impressions: 1000, Clicks: 500},
		// Second variant only has data beyond the short window.
		{VariantID: "v-blue", Date: day(20), Impressions: 300, Clicks: 30},
	}
	if err := m.Record(ctx, rows); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := m.AggregateMetrics(ctx, "exp-1", 14)
	if err != nil {
		t.Fatalf("AggregateMetrics failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}
	if !got[0].IsControl {
		t.Fatal("control should sort first")
	}
	if got[0].Impressions != 300 || got[0].Clicks != 30 {
		t.Fatalf("control aggregate = %d/%d, want 300/30", got[0].Impressions, got[0].Clicks)
	}
	if !got[0].Revenue.Equal(decimal.NewFromFloat(4.00)) {
		t.Fatalf("control revenue = %s, want 4", got[0].Revenue)
	}
	if got[1].Impressions != 0 {
		t.Fatalf("blue_button should be zero-filled in 14d window, got %d impressions", got[1].Impressions)
	}

	// Widening the window picks up the older rows.
	got, err = m.AggregateMetrics(ctx, "exp-1", 30)
	if err != nil {
		t.Fatalf("AggregateMetrics(30) failed: %v", err)
	}
	if got[0].Impressions != 1300 {
		t.Fatalf("control 30d aggregate = %d, want 1300", got[0].Impressions)
	}
	if got[1].Impressions != 300 {
		t.Fatalf("blue_button 30d aggregate = %d, want 300", got[1].Impressions)
	}
}

func TestMemoryRecordUpsertsDaily(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	today := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return today }

	if err := m.Create(ctx, newTestExperiment()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	d := today.AddDate(0, 0, -2)
	first := []DailyMetric{{VariantID: "v-control", Date: d, Impressions: 100, Clicks: 5}}
	second := []DailyMetric{{VariantID: "v-control", Date: d, Impressions: 120, Clicks: 7}}
	if err := m.Record(ctx, first); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := m.Record(ctx, second); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := m.AggregateMetrics(ctx, "exp-1", 14)
	if err != nil {
		t.Fatalf("AggregateMetrics failed: %v", err)
	}
	if got[0].Impressions != 120 || got[0].Clicks != 7 {
		t.Fatalf("resubmission should replace the day, got %d/%d", got[0].Impressions, got[0].Clicks)
	}
}

func TestMemoryHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	today := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return today }

	if err := m.Create(ctx, newTestExperiment()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rows := []DailyMetric{
		{VariantID: "v-control", Date: today.AddDate(0, 0, -3), Impressions: 100, Clicks: 10},
		{VariantID: "v-blue", Date: today.AddDate(0, 0, -1), Impressions: 50, Clicks: 5},
		{VariantID: "v-control", Date: today.AddDate(0, 0, -1), Impressions: 80, Clicks: 4},
	}
	if err := m.Record(ctx, rows); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := m.History(ctx, "exp-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	if !got[0].Date.After(got[2].Date) {
		t.Fatal("history should be newest first")
	}
	if !got[0].IsControl || got[0].VariantName != "control" {
		t.Fatalf("same-day rows should sort control first, got %+v", got[0])
	}
	if got[0].CTR != 0.05 {
		t.Fatalf("CTR = %v, want 0.05", got[0].CTR)
	}
}

func TestMemoryAllocationHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	for i, id := range []string{"a-1", "a-2", "a-3"} {
		rec := &AllocationRecord{
			ID:           id,
			ExperimentID: "exp-1",
			Audit: bandit.Audit{
				ComputedAt: time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC),
				Seed:       uint64(i),
			},
		}
		if err := m.Append(ctx, rec); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	list, err := m.List(ctx, "exp-1", 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "a-3" || list[1].ID != "a-2" {
		t.Fatalf("List returned %+v, want newest two", list)
	}

	rec, err := m.Get(ctx, "a-1")
	if err != nil || rec.Audit.Seed != 0 {
		t.Fatalf("Get: got %+v, %v", rec, err)
	}
	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
}
