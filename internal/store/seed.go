package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"booking-metrics-audit/internal/billing"
	"booking-metrics-audit/internal/domain"
)

type Service struct {
	ID              string
	TenantID        string
	CategoryID      string
	Name            string
	Price           float64
	DurationMinutes int
}

func (s *Store) InsertTenant(ctx context.Context, t domain.Tenant) error {
	status := t.Status
	if status == "" {
		status = domain.TenantActive
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, business_name, domain, status, subscription_plan,
			monthly_subscription_fee, subscription_start_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, nullString(t.Name), nullString(t.BusinessName), nullString(t.Domain), string(status),
		nullString(t.SubscriptionPlan), t.MonthlySubscriptionFee, nullTime(t.SubscriptionStartDate), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("store: insert tenant: %w", err)
	}
	return nil
}

// InsertCustomer creates a user and links it to the tenant.
func (s *Store) InsertCustomer(ctx context.Context, tenantID string, userID string, fullName string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO users (id, email, full_name) VALUES ($1, $2, $3)`,
			userID, nullString(""), nullString(fullName)); err != nil {
			return fmt.Errorf("store: insert user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_tenants (user_id, tenant_id, role) VALUES ($1, $2, 'customer')`,
			userID, tenantID); err != nil {
			return fmt.Errorf("store: link user to tenant: %w", err)
		}
		return nil
	})
}

func (s *Store) InsertCategory(ctx context.Context, id string, tenantID string, name string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO service_categories (id, tenant_id, name) VALUES ($1, $2, $3)`,
		id, tenantID, name); err != nil {
		return fmt.Errorf("store: insert service category: %w", err)
	}
	return nil
}

func (s *Store) InsertService(ctx context.Context, svc Service) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, tenant_id, category_id, name, price, duration_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		svc.ID, svc.TenantID, nullString(svc.CategoryID), svc.Name, svc.Price, svc.DurationMinutes); err != nil {
		return fmt.Errorf("store: insert service: %w", err)
	}
	return nil
}

func (s *Store) InsertProfessional(ctx context.Context, id string, tenantID string, name string) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO professionals (id, tenant_id, name) VALUES ($1, $2, $3)`,
		id, tenantID, name); err != nil {
		return fmt.Errorf("store: insert professional: %w", err)
	}
	return nil
}

func (s *Store) InsertAppointment(ctx context.Context, a domain.Appointment) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, tenant_id, user_id, professional_id, service_id, start_time,
			end_time, status, quoted_price, final_price, appointment_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, a.TenantID, nullString(a.UserID), nullString(a.ProfessionalID), nullString(a.ServiceID),
		a.StartTime.UTC(), nullTime(a.EndTime), string(a.Status), nullFloat(a.QuotedPrice), nullFloat(a.FinalPrice),
		nullJSON(a.Data)); err != nil {
		return fmt.Errorf("store: insert appointment: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, m domain.ConversationMessage) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_history (id, tenant_id, user_id, content, is_from_user,
			conversation_outcome, confidence_score, tokens_used, api_cost_usd, processing_cost_usd,
			conversation_context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.TenantID, nullString(m.UserID), nullString(m.Content), m.IsFromUser,
		nullString(string(m.Outcome)), nullFloat(m.ConfidenceScore), m.TokensUsed, m.APICostUSD, m.ProcessingCostUSD,
		nullJSON(m.ConversationContext), m.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("store: insert conversation message: %w", err)
	}
	return nil
}

func (s *Store) InsertPayment(ctx context.Context, p domain.SubscriptionPayment) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO subscription_payments (id, tenant_id, amount, subscription_plan, payment_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TenantID, p.Amount, nullString(p.SubscriptionPlan), p.PaymentDate.UTC(), nullJSON(p.Metadata)); err != nil {
		return fmt.Errorf("store: insert subscription payment: %w", err)
	}
	return nil
}

type seedTenant struct {
	name      string
	domain    string
	plan      string
	fee       float64
	startDays int
	status    domain.TenantStatus
	bookings  int
	sessions  int
	paid      bool
	services  []seedService
}

type seedService struct {
	category string
	name     string
	price    float64
	minutes  int
}

var seedTenants = []seedTenant{
	{
		name: "Salão Bela Vista", domain: "beauty", plan: billing.PlanProfissional, fee: 116, startDays: 200,
		status: domain.TenantActive, bookings: 9, sessions: 30, paid: true,
		services: []seedService{
			{"Cabelo", "Corte feminino", 80, 60},
			{"Cabelo", "Escova", 55, 45},
			{"Unhas", "Manicure", 35, 40},
		},
	},
	{
		name: "Barbearia Central", domain: "barbershop", plan: billing.PlanBasico, fee: 58, startDays: 120,
		status: domain.TenantActive, bookings: 5, sessions: 12, paid: true,
		services: []seedService{
			{"Barba", "Barba completa", 40, 30},
			{"Cabelo", "Corte masculino", 50, 30},
		},
	},
	{
		name: "Clínica Sorriso", domain: "health", plan: "", fee: 0, startDays: 6,
		status: domain.TenantActive, bookings: 2, sessions: 4, paid: false,
		services: []seedService{
			{"Odontologia", "Limpeza", 180, 60},
		},
	},
}

var seedConversations = []struct {
	text    string
	outcome domain.Outcome
}{
	{"Oi, quero agendar um horário para sexta", domain.OutcomeAppointmentCreated},
	{"Quanto custa o corte?", domain.OutcomePriceInquiry},
	{"Vocês abrem sábado? Qual o horário de funcionamento?", domain.OutcomeBusinessHoursInquiry},
	{"Preciso remarcar meu horário", domain.OutcomeAppointmentRescheduled},
	{"Onde fica o endereço de vocês?", ""},
	{"Quero cancelar meu agendamento", domain.OutcomeAppointmentCancelled},
	{"teste", domain.OutcomeTestMessage},
	{"Oi, tudo bem?", domain.OutcomeBookingAbandoned},
}

var seedStatuses = []domain.AppointmentStatus{
	domain.StatusCompleted, domain.StatusCompleted, domain.StatusCompleted, domain.StatusConfirmed,
	domain.StatusCompleted, domain.StatusCancelled, domain.StatusCompleted, domain.StatusNoShow,
	domain.StatusPending, domain.StatusCompleted,
}

// Seed fills an empty database with demo tenants, bookings, conversations
// and payments spread over the last 90 days. It returns the number of
// tenants created, or 0 when tenants already exist.
func (s *Store) Seed(ctx context.Context) (int, error) {
	var existing int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&existing); err != nil {
		return 0, fmt.Errorf("store: seed: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	now := s.now().UTC()
	for _, st := range seedTenants {
		if err := s.seedTenant(ctx, st, now); err != nil {
			return 0, fmt.Errorf("store: seed %s: %w", st.name, err)
		}
	}
	return len(seedTenants), nil
}

func (s *Store) seedTenant(ctx context.Context, st seedTenant, now time.Time) error {
	tenant := domain.Tenant{
		ID:                     uuid.NewString(),
		Name:                   st.name,
		BusinessName:           st.name,
		Domain:                 st.domain,
		Status:                 st.status,
		SubscriptionPlan:       st.plan,
		MonthlySubscriptionFee: st.fee,
		SubscriptionStartDate:  dateOnly(now.AddDate(0, 0, -st.startDays)),
		CreatedAt:              now.AddDate(0, 0, -st.startDays),
	}
	if err := s.InsertTenant(ctx, tenant); err != nil {
		return err
	}

	categories := map[string]string{}
	var services []Service
	for _, ss := range st.services {
		if _, ok := categories[ss.category]; !ok {
			categories[ss.category] = uuid.NewString()
			if err := s.InsertCategory(ctx, categories[ss.category], tenant.ID, ss.category); err != nil {
				return err
			}
		}
		svc := Service{
			ID:              uuid.NewString(),
			TenantID:        tenant.ID,
			CategoryID:      categories[ss.category],
			Name:            ss.name,
			Price:           ss.price,
			DurationMinutes: ss.minutes,
		}
		if err := s.InsertService(ctx, svc); err != nil {
			return err
		}
		services = append(services, svc)
	}

	professionals := []string{uuid.NewString(), uuid.NewString()}
	for i, id := range professionals {
		if err := s.InsertProfessional(ctx, id, tenant.ID, fmt.Sprintf("Profissional %d", i+1)); err != nil {
			return err
		}
	}

	customers := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		id := uuid.NewString()
		if err := s.InsertCustomer(ctx, tenant.ID, id, fmt.Sprintf("Cliente %d", i+1)); err != nil {
			return err
		}
		customers = append(customers, id)
	}

	span := time.Duration(min(90, st.startDays)) * 24 * time.Hour
	totalBookings := st.bookings * 13
	for i := 0; i < totalBookings; i++ {
		start := now.Add(-time.Duration(i+1) * span / time.Duration(totalBookings+1)).Truncate(time.Hour)
		svc := services[i%len(services)]
		price := svc.Price
		data, _ := json.Marshal(map[string]any{
			"source":  []string{"whatsapp", "web", "phone"}[i%3],
			"service": map[string]any{"name": svc.Name, "price": svc.Price},
		})
		appt := domain.Appointment{
			ID:             uuid.NewString(),
			TenantID:       tenant.ID,
			UserID:         customers[i%len(customers)],
			ProfessionalID: professionals[i%len(professionals)],
			ServiceID:      svc.ID,
			StartTime:      start,
			EndTime:        start.Add(time.Duration(svc.DurationMinutes) * time.Minute),
			Status:         seedStatuses[i%len(seedStatuses)],
			QuotedPrice:    &price,
			Data:           data,
		}
		if appt.Status == domain.StatusCompleted && i%4 == 0 {
			final := price + 10
			appt.FinalPrice = &final
		}
		if err := s.InsertAppointment(ctx, appt); err != nil {
			return err
		}
	}

	totalSessions := st.sessions * 13
	for i := 0; i < totalSessions; i++ {
		start := now.Add(-time.Duration(i+1) * span / time.Duration(totalSessions+1)).Truncate(time.Minute)
		if err := s.seedSession(ctx, tenant.ID, customers[i%len(customers)], i, start); err != nil {
			return err
		}
	}

	if st.paid {
		for month := 0; month < 3; month++ {
			if err := s.InsertPayment(ctx, domain.SubscriptionPayment{
				ID:               uuid.NewString(),
				TenantID:         tenant.ID,
				Amount:           st.fee,
				SubscriptionPlan: st.plan,
				PaymentDate:      now.AddDate(0, 0, -2-30*month),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) seedSession(ctx context.Context, tenantID string, userID string, i int, start time.Time) error {
	script := seedConversations[i%len(seedConversations)]
	sessionID := uuid.NewString()
	replies := []string{script.text, "Claro! Posso ajudar com isso.", "Obrigado!"}
	for j, content := range replies {
		convCtx, _ := json.Marshal(map[string]any{"session_id": sessionID, "duration_minutes": 3 + i%5})
		msg := domain.ConversationMessage{
			ID:                  uuid.NewString(),
			TenantID:            tenantID,
			UserID:              userID,
			Content:             content,
			IsFromUser:          j != 1,
			TokensUsed:          120 + 10*j,
			APICostUSD:          0.0021,
			ProcessingCostUSD:   0.0004,
			ConversationContext: convCtx,
			CreatedAt:           start.Add(time.Duration(j) * time.Minute),
		}
		if j == 1 {
			msg.Outcome = script.outcome
		}
		if err := s.InsertMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}
