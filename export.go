package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"booking-metrics-audit/internal/domain"
	"booking-metrics-audit/internal/metrics"
	"booking-metrics-audit/internal/report"
	"booking-metrics-audit/internal/store"
)

const exportPrefix = "TENANT-METRICS"

var exportLeading = []string{"tenant_id", "tenant_name", "metric_type", "period", "calculated_at"}

func newExportCommand(wrap appWrapper) *cobra.Command {
	var metricType string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored tenant metrics to a timestamped CSV",
		Args:  cobra.NoArgs,
		RunE: wrap(func(ctx context.Context, a *app, _ []string) error {
			path, err := runExport(ctx, a, metricType)
			if err != nil {
				return err
			}
			a.printf("CSV export saved to %s\n", path)
			return nil
		}),
	}
	cmd.Flags().StringVar(&metricType, "type", string(metrics.TypeComprehensive), "metric type to export (comprehensive, conversation_billing, risk_assessment)")
	return cmd
}

// runExport writes one CSV line per stored metric row and returns the file path.
func runExport(ctx context.Context, a *app, metricType string) (string, error) {
	mt, err := metrics.ParseMetricType(metricType)
	if err != nil {
		return "", err
	}
	periods, err := a.periods()
	if err != nil {
		return "", err
	}
	tenants, err := a.store.ListTenants(ctx, store.TenantFilter{ID: a.opts.tenant, IncludeSuspended: true})
	if err != nil {
		return "", err
	}
	names := make(map[string]string, len(tenants))
	for _, t := range tenants {
		names[t.ID] = t.DisplayName()
	}

	var rows []map[string]any
	for _, period := range periods {
		stored, err := a.store.LoadTenantMetrics(ctx, store.MetricFilter{TenantID: a.opts.tenant, MetricType: mt, Period: period})
		if err != nil {
			return "", err
		}
		for _, m := range stored {
			row, err := exportRow(m, names[m.TenantID])
			if err != nil {
				a.logger.Warn("skipping unreadable metric row", "id", m.ID, "tenant_id", m.TenantID, "error", err)
				continue
			}
			rows = append(rows, row)
		}
	}

	path := report.TimestampedPath(a.opts.outDir, exportPrefix, "csv", a.now())
	if err := report.WriteCSV(path, rows, exportLeading); err != nil {
		return "", err
	}
	a.logger.Info("tenant metrics exported", "rows", len(rows), "path", path)
	return path, nil
}

func exportRow(m domain.TenantMetric, tenantName string) (map[string]any, error) {
	data, err := metrics.Decode(m.MetricType, m.MetricData)
	if err != nil {
		return nil, err
	}
	row, err := report.Flatten(data)
	if err != nil {
		return nil, err
	}
	row["tenant_id"] = m.TenantID
	row["tenant_name"] = tenantName
	row["metric_type"] = m.MetricType
	row["period"] = string(m.Period)
	row["calculated_at"] = m.CalculatedAt.UTC().Format(time.RFC3339)
	return row, nil
}
