package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"booking-metrics-audit/internal/domain"
)

// TenantFilter narrows ListTenants. An empty ID lists every tenant.
type TenantFilter struct {
	ID               string
	IncludeSuspended bool
}

func (s *Store) ListTenants(ctx context.Context, filter TenantFilter) ([]domain.Tenant, error) {
	var w where
	if id := strings.TrimSpace(filter.ID); id != "" {
		w.add("id = %s", id)
	}
	if !filter.IncludeSuspended {
		w.add("status <> %s", string(domain.TenantSuspended))
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, business_name, domain, status, subscription_plan,
			monthly_subscription_fee, subscription_start_date, created_at
		FROM tenants`+w.String()+`
		ORDER BY created_at, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", err)
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		var (
			t                                 domain.Tenant
			name, business, dom, status, plan sql.NullString
			fee                               sql.NullFloat64
			startDate, createdAt              sql.NullTime
		)
		if err := rows.Scan(&t.ID, &name, &business, &dom, &status, &plan, &fee, &startDate, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan tenant: %w", err)
		}
		t.Name = name.String
		t.BusinessName = business.String
		t.Domain = dom.String
		t.Status = domain.TenantStatus(status.String)
		if t.Status == "" {
			t.Status = domain.TenantActive
		}
		t.SubscriptionPlan = plan.String
		t.MonthlySubscriptionFee = fee.Float64
		t.SubscriptionStartDate = timeOf(startDate)
		t.CreatedAt = timeOf(createdAt)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list tenants: %w", err)
	}
	return out, nil
}

// ListAppointments returns the tenant's appointments whose start_time falls
// in w, oldest first.
func (s *Store) ListAppointments(ctx context.Context, tenantID string, w domain.Window) ([]domain.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, professional_id, service_id, start_time, end_time,
			status, quoted_price, final_price, appointment_data
		FROM appointments
		WHERE tenant_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY start_time, id`, tenantID, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	defer rows.Close()

	var out []domain.Appointment
	for rows.Next() {
		var (
			a                             domain.Appointment
			userID, professionalID, svcID sql.NullString
			endTime                       sql.NullTime
			status                        string
			quoted, final                 sql.NullFloat64
			data                          []byte
		)
		if err := rows.Scan(&a.ID, &a.TenantID, &userID, &professionalID, &svcID, &a.StartTime, &endTime,
			&status, &quoted, &final, &data); err != nil {
			return nil, fmt.Errorf("store: scan appointment: %w", err)
		}
		a.UserID = userID.String
		a.ProfessionalID = professionalID.String
		a.ServiceID = svcID.String
		a.StartTime = a.StartTime.UTC()
		a.EndTime = timeOf(endTime)
		a.Status = domain.AppointmentStatus(strings.ToLower(strings.TrimSpace(status)))
		a.QuotedPrice = floatPtr(quoted)
		a.FinalPrice = floatPtr(final)
		a.Data = data
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list appointments: %w", err)
	}
	return out, nil
}

// ListConversationMessages returns the tenant's messages created in w,
// oldest first.
func (s *Store) ListConversationMessages(ctx context.Context, tenantID string, w domain.Window) ([]domain.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, messageColumns+`
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at, id`, tenantID, w.Start.UTC(), w.End.UTC())
	if err != nil {
		return nil, fmt.Errorf("store: list conversation messages: %w", err)
	}
	return scanMessages(rows)
}

// sessionIDBatch bounds the IN list of one ListSessionMessages query.
const sessionIDBatch = 200

// ListSessionMessages returns every message of the given sessions created
// before the cutoff, whatever window the caller fetched them from. Sessions
// are matched on conversation_context.session_id.
func (s *Store) ListSessionMessages(ctx context.Context, tenantID string, sessionIDs []string, before time.Time) ([]domain.ConversationMessage, error) {
	ids := lo.Uniq(lo.Compact(sessionIDs))
	var out []domain.ConversationMessage
	for _, batch := range lo.Chunk(ids, sessionIDBatch) {
		var cond where
		cond.add("tenant_id = %s", tenantID)
		cond.add("created_at < %s", before.UTC())
		placeholders := make([]string, len(batch))
		for i, id := range batch {
			cond.args = append(cond.args, id)
			placeholders[i] = fmt.Sprintf("$%d", len(cond.args))
		}
		cond.clauses = append(cond.clauses, s.sessionIDExpr()+" IN ("+strings.Join(placeholders, ", ")+")")

		rows, err := s.db.QueryContext(ctx, messageColumns+cond.String()+`
			ORDER BY created_at, id`, cond.args...)
		if err != nil {
			return nil, fmt.Errorf("store: list session messages: %w", err)
		}
		msgs, err := scanMessages(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msgs...)
	}
	return out, nil
}

func (s *Store) sessionIDExpr() string {
	if s.driver == DriverSQLite {
		return "CASE WHEN json_valid(conversation_context) THEN TRIM(CAST(json_extract(conversation_context, '$.session_id') AS TEXT)) END"
	}
	return "TRIM(conversation_context->>'session_id')"
}

const messageColumns = `
		SELECT id, tenant_id, user_id, content, is_from_user, conversation_outcome,
			confidence_score, tokens_used, api_cost_usd, processing_cost_usd,
			conversation_context, created_at
		FROM conversation_history`

func scanMessages(rows *sql.Rows) ([]domain.ConversationMessage, error) {
	defer rows.Close()

	var out []domain.ConversationMessage
	for rows.Next() {
		var (
			m                     domain.ConversationMessage
			userID, content, oc   sql.NullString
			fromUser              sql.NullBool
			confidence, api, proc sql.NullFloat64
			tokens                sql.NullInt64
			convContext           []byte
		)
		if err := rows.Scan(&m.ID, &m.TenantID, &userID, &content, &fromUser, &oc,
			&confidence, &tokens, &api, &proc, &convContext, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation message: %w", err)
		}
		m.UserID = userID.String
		m.Content = content.String
		m.IsFromUser = fromUser.Bool
		m.Outcome = domain.Outcome(strings.TrimSpace(oc.String))
		m.ConfidenceScore = floatPtr(confidence)
		m.TokensUsed = int(tokens.Int64)
		m.APICostUSD = api.Float64
		m.ProcessingCostUSD = proc.Float64
		m.ConversationContext = convContext
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list conversation messages: %w", err)
	}
	return out, nil
}

// ListSubscriptionPayments returns payments dated in w. An empty tenantID
// returns payments of every tenant.
func (s *Store) ListSubscriptionPayments(ctx context.Context, tenantID string, w domain.Window) ([]domain.SubscriptionPayment, error) {
	var cond where
	if tenantID != "" {
		cond.add("tenant_id = %s", tenantID)
	}
	cond.add("payment_date >= %s", w.Start.UTC())
	cond.add("payment_date < %s", w.End.UTC())

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, amount, subscription_plan, payment_date, metadata
		FROM subscription_payments`+cond.String()+`
		ORDER BY payment_date, id`, cond.args...)
	if err != nil {
		return nil, fmt.Errorf("store: list subscription payments: %w", err)
	}
	defer rows.Close()

	var out []domain.SubscriptionPayment
	for rows.Next() {
		var (
			p        domain.SubscriptionPayment
			plan     sql.NullString
			metadata []byte
		)
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Amount, &plan, &p.PaymentDate, &metadata); err != nil {
			return nil, fmt.Errorf("store: scan subscription payment: %w", err)
		}
		p.SubscriptionPlan = plan.String
		p.PaymentDate = p.PaymentDate.UTC()
		p.Metadata = metadata
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list subscription payments: %w", err)
	}
	return out, nil
}

func (s *Store) ServiceNames(ctx context.Context, tenantID string) (map[string]string, error) {
	return s.nameLookup(ctx, "services", `SELECT id, name FROM services WHERE tenant_id = $1`, tenantID)
}

// ServiceCategories maps service id to its category name.
func (s *Store) ServiceCategories(ctx context.Context, tenantID string) (map[string]string, error) {
	return s.nameLookup(ctx, "service categories", `
		SELECT s.id, c.name
		FROM services s
		JOIN service_categories c ON c.id = s.category_id
		WHERE s.tenant_id = $1`, tenantID)
}

func (s *Store) ProfessionalNames(ctx context.Context, tenantID string) (map[string]string, error) {
	return s.nameLookup(ctx, "professionals", `SELECT id, name FROM professionals WHERE tenant_id = $1`, tenantID)
}

func (s *Store) nameLookup(ctx context.Context, what string, query string, tenantID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("store: lookup %s: %w", what, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id string
		var name sql.NullString
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", what, err)
		}
		if name.Valid && strings.TrimSpace(name.String) != "" {
			out[id] = strings.TrimSpace(name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: lookup %s: %w", what, err)
	}
	return out, nil
}

// RegisteredCustomers counts users linked to the tenant through user_tenants.
func (s *Store) RegisteredCustomers(ctx context.Context, tenantID string) (int, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT ut.user_id)
		FROM user_tenants ut
		JOIN users u ON u.id = ut.user_id
		WHERE ut.tenant_id = $1`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count registered customers: %w", err)
	}
	return int(count), nil
}

// PatchTenantPlan records the plan and monthly fee a tenant should be on.
func (s *Store) PatchTenantPlan(ctx context.Context, tenantID string, plan string, fee float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tenants SET subscription_plan = $1, monthly_subscription_fee = $2
		WHERE id = $3`, plan, fee, tenantID)
	if err != nil {
		return fmt.Errorf("store: patch tenant plan: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("store: patch tenant plan: tenant %s not found", tenantID)
	}
	return nil
}

// UpdateConversationOutcome sets the outcome on every listed message in a
// single transaction.
func (s *Store) UpdateConversationOutcome(ctx context.Context, messageIDs []string, outcome domain.Outcome) error {
	if len(messageIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin outcome update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE conversation_history SET conversation_outcome = $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("store: prepare outcome update: %w", err)
	}
	defer stmt.Close()

	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, string(outcome), id); err != nil {
			return fmt.Errorf("store: update outcome of %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit outcome update: %w", err)
	}
	return nil
}
