package store

import (
	"context"
	"fmt"
	"strings"
)

// columnTypes maps the placeholders used in the DDL below to driver types.
var columnTypes = map[string]*strings.Replacer{
	DriverPostgres: strings.NewReplacer(
		"{id}", "uuid",
		"{ts}", "timestamptz",
		"{json}", "jsonb",
		"{money}", "numeric(12,2)",
		"{cost}", "numeric(12,6)",
		"{now}", "now()",
	),
	DriverSQLite: strings.NewReplacer(
		"{id}", "TEXT",
		"{ts}", "TIMESTAMP",
		"{json}", "TEXT",
		"{money}", "REAL",
		"{cost}", "REAL",
		"{now}", "CURRENT_TIMESTAMP",
	),
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		id {id} PRIMARY KEY,
		name text,
		business_name text,
		domain text,
		status text NOT NULL DEFAULT 'active',
		subscription_plan text,
		monthly_subscription_fee {money},
		subscription_start_date {ts},
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id {id} PRIMARY KEY,
		email text,
		full_name text,
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE TABLE IF NOT EXISTS user_tenants (
		user_id {id} NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		role text NOT NULL DEFAULT 'customer',
		created_at {ts} NOT NULL DEFAULT {now},
		PRIMARY KEY (user_id, tenant_id)
	)`,
	`CREATE TABLE IF NOT EXISTS service_categories (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		category_id {id} REFERENCES service_categories(id) ON DELETE SET NULL,
		name text NOT NULL,
		price {money},
		duration_minutes integer
	)`,
	`CREATE TABLE IF NOT EXISTS professionals (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		name text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		user_id {id},
		professional_id {id},
		service_id {id},
		start_time {ts} NOT NULL,
		end_time {ts},
		status text NOT NULL,
		quoted_price {money},
		final_price {money},
		appointment_data {json},
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE INDEX IF NOT EXISTS appointments_tenant_start_idx ON appointments (tenant_id, start_time)`,
	`CREATE TABLE IF NOT EXISTS conversation_history (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		user_id {id},
		content text,
		is_from_user boolean NOT NULL DEFAULT false,
		conversation_outcome text,
		confidence_score {cost},
		tokens_used integer,
		api_cost_usd {cost},
		processing_cost_usd {cost},
		conversation_context {json},
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
	`CREATE INDEX IF NOT EXISTS conversation_history_tenant_created_idx ON conversation_history (tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS subscription_payments (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		amount {money} NOT NULL,
		subscription_plan text,
		payment_date {ts} NOT NULL,
		metadata {json}
	)`,
	`CREATE TABLE IF NOT EXISTS tenant_metrics (
		id {id} PRIMARY KEY,
		tenant_id {id} NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
		metric_type text NOT NULL,
		period text NOT NULL,
		metric_data {json} NOT NULL,
		calculated_at {ts} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tenant_metrics_lookup_idx ON tenant_metrics (tenant_id, metric_type, period)`,
	`CREATE TABLE IF NOT EXISTS platform_metrics (
		id {id} PRIMARY KEY,
		calculation_date date NOT NULL,
		period text NOT NULL,
		comprehensive_metrics {json} NOT NULL,
		participation_metrics {json} NOT NULL,
		ranking_metrics {json} NOT NULL,
		tenants_processed integer NOT NULL,
		total_tenants integer NOT NULL,
		created_at {ts} NOT NULL DEFAULT {now}
	)`,
}

// EnsureSchema creates every table the tool reads or writes. It is meant
// for local and dev databases; production tables already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	types, ok := columnTypes[s.driver]
	if !ok {
		return fmt.Errorf("store: no schema for driver %q", s.driver)
	}
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, types.Replace(stmt)); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}
