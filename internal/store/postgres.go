package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/activeview/mab/internal/api"
	"github.com/activeview/mab/internal/bandit"
)

// Postgres implements all three stores on a single pgx pool.
//
// Schema:
//
//	CREATE TABLE experiments (
//	  id UUID PRIMARY KEY,
//	  name TEXT NOT NULL UNIQUE,
//	  description TEXT,
//	  status TEXT NOT NULL,
//	  optimization_target TEXT NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE variants (
//	  id UUID PRIMARY KEY,
//	  experiment_id UUID NOT NULL REFERENCES experiments(id),
//	  name TEXT NOT NULL,
//	  is_control BOOLEAN NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	  UNIQUE (experiment_id, name)
//	);
//	CREATE TABLE raw_metrics (
//	  id UUID PRIMARY KEY,
//	  variant_id UUID NOT NULL REFERENCES variants(id),
//	  metric_date DATE NOT NULL,
//	  impressions BIGINT NOT NULL,
//	  clicks BIGINT NOT NULL,
//	  sessions BIGINT NOT NULL,
//	  revenue NUMERIC(18,4) NOT NULL,
//	  source TEXT,
//	  batch_id TEXT,
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE TABLE daily_metrics (
//	  variant_id UUID NOT NULL REFERENCES variants(id),
//	  metric_date DATE NOT NULL,
//	  impressions BIGINT NOT NULL,
//	  clicks BIGINT NOT NULL,
//	  sessions BIGINT NOT NULL,
//	  revenue NUMERIC(18,4) NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	  PRIMARY KEY (variant_id, metric_date)
//	);
//	CREATE TABLE allocation_history (
//	  id UUID PRIMARY KEY,
//	  experiment_id UUID NOT NULL REFERENCES experiments(id),
//	  computed_at TIMESTAMPTZ NOT NULL,
//	  window_days INT NOT NULL,
//	  algorithm TEXT NOT NULL,
//	  algorithm_version TEXT NOT NULL,
//	  seed BIGINT NOT NULL,
//	  used_fallback BOOLEAN NOT NULL,
//	  total_impressions BIGINT NOT NULL,
//	  total_clicks BIGINT NOT NULL,
//	  audit JSONB NOT NULL,
//	  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//	CREATE INDEX idx_allocation_history_experiment
//	  ON allocation_history(experiment_id, computed_at DESC);
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects a pool and verifies the connection.
func NewPostgres(ctx context.Context, connStr string) (*Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (p *Postgres) Create(ctx context.Context, exp *api.Experiment) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO experiments (id, name, description, status, optimization_target, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, exp.ID, exp.Name, exp.Description, exp.Status, exp.OptimizationTarget, exp.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert experiment failed: %w", err)
	}

	for _, v := range exp.Variants {
		_, err = tx.Exec(ctx, `
			INSERT INTO variants (id, experiment_id, name, is_control, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, v.ID, exp.ID, v.Name, v.IsControl, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert variant %s failed: %w", v.Name, err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*api.Experiment, error) {
	return p.getExperiment(ctx, `WHERE id = $1`, id)
}

func (p *Postgres) GetByName(ctx context.Context, name string) (*api.Experiment, error) {
	return p.getExperiment(ctx, `WHERE name = $1`, name)
}

func (p *Postgres) getExperiment(ctx context.Context, where string, arg any) (*api.Experiment, error) {
	var exp api.Experiment
	var status string
	err := p.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(description, ''), status, optimization_target, created_at, updated_at
		FROM experiments `+where,
		arg,
	).Scan(&exp.ID, &exp.Name, &exp.Description, &status, &exp.OptimizationTarget, &exp.CreatedAt, &exp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select experiment failed: %w", err)
	}
	exp.Status = api.ExperimentStatus(status)

	rows, err := p.pool.Query(ctx, `
		SELECT id, name, is_control, created_at
		FROM variants
		WHERE experiment_id = $1
		ORDER BY is_control DESC, name
	`, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("select variants failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v api.Variant
		if err := rows.Scan(&v.ID, &v.Name, &v.IsControl, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan variant failed: %w", err)
		}
		exp.Variants = append(exp.Variants, v)
	}
	return &exp, rows.Err()
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, status api.ExperimentStatus) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE experiments SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("update status failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, metrics []DailyMetric) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, m := range metrics {
		// Raw table is append-only: every submission is kept for audit.
		_, err = tx.Exec(ctx, `
			INSERT INTO raw_metrics (id, variant_id, metric_date, impressions, clicks, sessions, revenue, source, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.NewString(), m.VariantID, m.Date, m.Impressions, m.Clicks, m.Sessions, m.Revenue, m.Source, m.BatchID)
		if err != nil {
			return fmt.Errorf("insert raw metric failed: %w", err)
		}

		// Daily table keeps the latest clean value per variant-day.
		_, err = tx.Exec(ctx, `
			INSERT INTO daily_metrics (variant_id, metric_date, impressions, clicks, sessions, revenue)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (variant_id, metric_date) DO UPDATE SET
				impressions = EXCLUDED.impressions,
				clicks = EXCLUDED.clicks,
				sessions = EXCLUDED.sessions,
				revenue = EXCLUDED.revenue,
				updated_at = NOW()
		`, m.VariantID, m.Date, m.Impressions, m.Clicks, m.Sessions, m.Revenue)
		if err != nil {
			return fmt.Errorf("upsert daily metric failed: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) AggregateMetrics(ctx context.Context, experimentID string, windowDays int) ([]bandit.VariantMetrics, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT v.id, v.name, v.is_control,
		       COALESCE(SUM(m.impressions), 0),
		       COALESCE(SUM(m.clicks), 0),
		       COALESCE(SUM(m.sessions), 0),
		       COALESCE(SUM(m.revenue), 0)::text
		FROM variants v
		LEFT JOIN daily_metrics m
		  ON m.variant_id = v.id
		 AND m.metric_date >= CURRENT_DATE - $2::int
		 AND m.metric_date < CURRENT_DATE
		WHERE v.experiment_id = $1
		GROUP BY v.id, v.name, v.is_control
		ORDER BY v.is_control DESC, v.name
	`, experimentID, windowDays)
	if err != nil {
		return nil, fmt.Errorf("aggregate query failed: %w", err)
	}
	defer rows.Close()

	var out []bandit.VariantMetrics
	for rows.Next() {
		var m bandit.VariantMetrics
		var impressions, clicks, sessions int64
		var revenue string
		if err := rows.Scan(&m.VariantID, &m.VariantName, &m.IsControl, &impressions, &clicks, &sessions, &revenue); err != nil {
			return nil, fmt.Errorf("scan aggregate failed: %w", err)
		}
		m.Impressions = uint64(impressions)
		m.Clicks = uint64(clicks)
		m.Sessions = uint64(sessions)
		m.Revenue, err = decimal.NewFromString(revenue)
		if err != nil {
			return nil, fmt.Errorf("parse revenue %q: %w", revenue, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) History(ctx context.Context, experimentID string) ([]HistoryRow, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT m.metric_date, v.id, v.name, v.is_control,
		       m.impressions, m.clicks, m.sessions, m.revenue::text
		FROM daily_metrics m
		JOIN variants v ON v.id = m.variant_id
		WHERE v.experiment_id = $1
		ORDER BY m.metric_date DESC, v.is_control DESC, v.name
	`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var revenue string
		if err := rows.Scan(&r.Date, &r.VariantID, &r.VariantName, &r.IsControl, &r.Impressions, &r.Clicks, &r.Sessions, &revenue); err != nil {
			return nil, fmt.Errorf("scan history failed: %w", err)
		}
		r.Revenue, err = decimal.NewFromString(revenue)
		if err != nil {
			return nil, fmt.Errorf("parse revenue %q: %w", revenue, err)
		}
		if r.Impressions > 0 {
			r.CTR = float64(r.Clicks) / float64(r.Impressions)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) Append(ctx context.Context, rec *AllocationRecord) error {
	auditJSON, err := json.Marshal(rec.Audit)
	if err != nil {
		return fmt.Errorf("marshal audit failed: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO allocation_history
			(id, experiment_id, computed_at, window_days, algorithm, algorithm_version,
			 seed, used_fallback, total_impressions, total_clicks, audit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.ExperimentID, rec.Audit.ComputedAt, rec.Audit.WindowDays,
		rec.Audit.Algorithm, rec.Audit.AlgorithmVersion, int64(rec.Audit.Seed),
		rec.Audit.UsedFallback, int64(rec.TotalImpressions), int64(rec.TotalClicks), auditJSON)
	if err != nil {
		return fmt.Errorf("insert allocation history failed: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, experimentID string, limit int) ([]AllocationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, experiment_id, total_impressions, total_clicks, audit
		FROM allocation_history
		WHERE experiment_id = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`, experimentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list allocation history failed: %w", err)
	}
	defer rows.Close()

	var out []AllocationRecord
	for rows.Next() {
		rec, err := scanAllocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, id string) (*AllocationRecord, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, experiment_id, total_impressions, total_clicks, audit
		FROM allocation_history
		WHERE id = $1
	`, id)
	rec, err := scanAllocation(row.Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func scanAllocation(scan func(...any) error) (*AllocationRecord, error) {
	var rec AllocationRecord
	var totalImpressions, totalClicks int64
	var auditJSON []byte
	if err := scan(&rec.ID, &rec.ExperimentID, &totalImpressions, &totalClicks, &auditJSON); err != nil {
		return nil, err
	}
	rec.TotalImpressions = uint64(totalImpressions)
	rec.TotalClicks = uint64(totalClicks)
	if err := json.Unmarshal(auditJSON, &rec.Audit); err != nil {
		return nil, fmt.Errorf("unmarshal audit failed: %w", err)
	}
	return &rec, nil
}
