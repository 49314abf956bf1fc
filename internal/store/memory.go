package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
)

// Memory implements all three stores in process. Used in tests and for
// single-node deployments without Postgres.
type Memory struct {
	mu sync.RWMutex

	experiments map[string]*api.Experiment
	byName      map[string]string

	// daily is keyed by variantID, then by date (YYYY-MM-DD).
	daily map[string]map[string]DailyMetric
	raw   []DailyMetric

	allocations map[string]*AllocationRecord
	byExp       map[string][]string

	// Now is the clock used for window arithmetic. Overridable in tests.
	Now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		experiments: make(map[string]*api.Experiment),
		byName:      make(map[string]string),
		daily:       make(map[string]map[string]DailyMetric),
		allocations: make(map[string]*AllocationRecord),
		byExp:       make(map[string][]string),
		Now:         time.Now,
	}
}

func (m *Memory) Create(_ context.Context, exp *api.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byName[exp.Name]; taken {
		return ErrDuplicateName
	}
	cp := *exp
	cp.Variants = append([]api.Variant(nil), exp.Variants...)
	m.experiments[exp.ID] = &cp
	m.byName[exp.Name] = exp.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*api.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot(id)
}

func (m *Memory) GetByName(_ context.Context, name string) (*api.Experiment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return m.snapshot(id)
}

// snapshot copies the stored experiment so callers cannot mutate it.
// Caller holds at least a read lock.
func (m *Memory) snapshot(id string) (*api.Experiment, error) {
	exp, ok := m.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *exp
	cp.Variants = append([]api.Variant(nil), exp.Variants...)
	return &cp, nil
}

func (m *Memory) UpdateStatus(_ context.Context, id string, status api.ExperimentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.experiments[id]
	if !ok {
		return ErrNotFound
	}
	exp.Status = status
	exp.UpdatedAt = m.Now()
	return nil
}

func (m *Memory) Record(_ context.Context, rows []DailyMetric) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.raw = append(m.raw, r)
		key := r.Date.Format("2006-01-02")
		byDate, ok := m.daily[r.VariantID]
		if !ok {
			byDate = make(map[string]DailyMetric)
			m.daily[r.VariantID] = byDate
		}
		byDate[key] = r
	}
	return nil
}

func (m *Memory) AggregateMetrics(_ context.Context, experimentID string, windowDays int) ([]bandit.VariantMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return nil, ErrNotFound
	}

	// Window covers closed days only: [today-windowDays, today).
	today := m.Now().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -windowDays)

	out := make([]bandit.VariantMetrics, 0, len(exp.Variants))
	for _, v := range exp.Variants {
		vm := bandit.VariantMetrics{
			VariantID:   v.ID,
			VariantName: v.Name,
			IsControl:   v.IsControl,
			Revenue:     decimal.Zero,
		}
		for _, row := range m.daily[v.ID] {
			d := row.Date.Truncate(24 * time.Hour)
			if d.Before(from) || !d.Before(today) {
				continue
			}
			vm.Impressions += uint64(row.Impressions)
			vm.Clicks += uint64(row.Clicks)
			vm.Sessions += uint64(row.Sessions)
			vm.Revenue = vm.Revenue.Add(row.Revenue)
		}
		out = append(out, vm)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsControl != out[j].IsControl {
			return out[i].IsControl
		}
		return out[i].VariantName < out[j].VariantName
	})
	return out, nil
}

func (m *Memory) History(_ context.Context, experimentID string) ([]HistoryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	exp, ok := m.experiments[experimentID]
	if !ok {
		return nil, ErrNotFound
	}

	var out []HistoryRow
	for _, v := range exp.Variants {
		for _, row := range m.daily[v.ID] {
			r := HistoryRow{
				Date:        row.Date,
				VariantID:   v.ID,
				VariantName: v.Name,
				IsControl:   v.IsControl,
				Impressions: row.Impressions,
				Clicks:      row.Clicks,
				Sessions:    row.Sessions,
				Revenue:     row.Revenue,
			}
			if r.Impressions > 0 {
				r.CTR = float64(r.Clicks) / float64(r.Impressions)
			}
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		if out[i].IsControl != out[j].IsControl {
			return out[i].IsControl
		}
		return out[i].VariantName < out[j].VariantName
	})
	return out, nil
}

func (m *Memory) Append(_ context.Context, rec *AllocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.allocations[rec.ID] = &cp
	m.byExp[rec.ExperimentID] = append(m.byExp[rec.ExperimentID], rec.ID)
	return nil
}

func (m *Memory) List(_ context.Context, experimentID string, limit int) ([]AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	ids := m.byExp[experimentID]
	out := make([]AllocationRecord, 0, limit)
	// Appends are chronological, so walk backwards for newest first.
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.allocations[ids[i]])
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (*AllocationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.allocations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}
