package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
)

// MetricsWriter is the write side the metric commands need.
type MetricsWriter interface {
	SaveTenantMetric(ctx context.Context, tenantID string, data metrics.Data) (domain.TenantMetric, error)
	SavePlatformMetric(ctx context.Context, snap metrics.PlatformSnapshot) (domain.PlatformMetric, error)
}

var _ MetricsWriter = (*Store)(nil)

// SaveTenantMetric replaces the (tenant, metric type, period) row with a
// freshly encoded one. Delete and insert share one transaction; nothing else
// does, so a failure leaves every other row untouched.
func (s *Store) SaveTenantMetric(ctx context.Context, tenantID string, data metrics.Data) (domain.TenantMetric, error) {
	raw, err := metrics.Encode(data)
	if err != nil {
		return domain.TenantMetric{}, err
	}
	row := domain.TenantMetric{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		MetricType:   string(data.Type()),
		Period:       periodOf(data),
		MetricData:   raw,
		CalculatedAt: s.now().UTC(),
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM tenant_metrics
			WHERE tenant_id = $1 AND metric_type = $2 AND period = $3`,
			row.TenantID, row.MetricType, string(row.Period)); err != nil {
			return fmt.Errorf("delete previous: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tenant_metrics (id, tenant_id, metric_type, period, metric_data, calculated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			row.ID, row.TenantID, row.MetricType, string(row.Period), string(row.MetricData), row.CalculatedAt); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.TenantMetric{}, fmt.Errorf("store: save %s metric for %s: %w", row.MetricType, tenantID, err)
	}
	return row, nil
}

// SavePlatformMetric replaces today's row for the snapshot's period.
func (s *Store) SavePlatformMetric(ctx context.Context, snap metrics.PlatformSnapshot) (domain.PlatformMetric, error) {
	if err := snap.Validate(); err != nil {
		return domain.PlatformMetric{}, fmt.Errorf("platform %s: %w", snap.Period, err)
	}
	blobs := make([][]byte, 0, 3)
	for _, part := range []any{snap.Comprehensive, snap.Participation, snap.Ranking} {
		raw, err := json.Marshal(part)
		if err != nil {
			return domain.PlatformMetric{}, fmt.Errorf("platform %s: marshal: %w", snap.Period, err)
		}
		blobs = append(blobs, raw)
	}
	row := domain.PlatformMetric{
		ID:                   uuid.NewString(),
		CalculationDate:      dateOnly(s.now()),
		Period:               snap.Period,
		ComprehensiveMetrics: blobs[0],
		ParticipationMetrics: blobs[1],
		RankingMetrics:       blobs[2],
		TenantsProcessed:     snap.TenantsProcessed,
		TotalTenants:         snap.TotalTenants,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM platform_metrics WHERE calculation_date = $1 AND period = $2`,
			row.CalculationDate, string(row.Period)); err != nil {
			return fmt.Errorf("delete previous: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO platform_metrics (
				id, calculation_date, period, comprehensive_metrics, participation_metrics,
				ranking_metrics, tenants_processed, total_tenants
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			row.ID, row.CalculationDate, string(row.Period),
			string(row.ComprehensiveMetrics), string(row.ParticipationMetrics), string(row.RankingMetrics),
			row.TenantsProcessed, row.TotalTenants); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.PlatformMetric{}, fmt.Errorf("store: save platform metric %s: %w", snap.Period, err)
	}
	return row, nil
}

// MetricFilter narrows LoadTenantMetrics; empty fields match everything.
type MetricFilter struct {
	TenantID   string
	MetricType metrics.MetricType
	Period     domain.Period
}

func (s *Store) LoadTenantMetrics(ctx context.Context, filter MetricFilter) ([]domain.TenantMetric, error) {
	var w where
	if filter.TenantID != "" {
		w.add("tenant_id = %s", filter.TenantID)
	}
	if filter.MetricType != "" {
		w.add("metric_type = %s", string(filter.MetricType))
	}
	if filter.Period != "" {
		w.add("period = %s", string(filter.Period))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, metric_type, period, metric_data, calculated_at
		FROM tenant_metrics`+w.String()+`
		ORDER BY tenant_id, metric_type, period, calculated_at DESC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: load tenant metrics: %w", err)
	}
	defer rows.Close()

	var out []domain.TenantMetric
	for rows.Next() {
		var m domain.TenantMetric
		var period string
		var data []byte
		if err := rows.Scan(&m.ID, &m.TenantID, &m.MetricType, &period, &data, &m.CalculatedAt); err != nil {
			return nil, fmt.Errorf("store: scan tenant metric: %w", err)
		}
		m.Period = domain.Period(period)
		m.MetricData = data
		m.CalculatedAt = m.CalculatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load tenant metrics: %w", err)
	}
	return out, nil
}

// WithClock pins the timestamps written by the store.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func periodOf(data metrics.Data) domain.Period {
	switch v := data.(type) {
	case metrics.Comprehensive:
		return v.Period
	case metrics.ConversationBilling:
		return v.Period
	case metrics.RiskAssessment:
		return v.Period
	default:
		return ""
	}
}
