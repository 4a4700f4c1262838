package sessions

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"booking-metrics-audit/internal/domain"
)

type keywordRule struct {
	outcome  domain.Outcome
	keywords []string
}

// Order matters: "reagendar" contains "agendar", and cancellations mention
// the appointment they cancel.
var keywordRules = []keywordRule{
	{domain.OutcomeAppointmentCancelled, []string{"cancelar", "cancela", "desmarcar", "nao vou poder ir"}},
	{domain.OutcomeAppointmentRescheduled, []string{"reagendar", "remarcar", "mudar o horario", "trocar o horario"}},
	{domain.OutcomeAppointmentCreated, []string{"agendar", "agendamento", "marcar", "reservar", "quero um horario"}},
	{domain.OutcomePriceInquiry, []string{"preco", "quanto custa", "quanto e", "valor", "tabela"}},
	{domain.OutcomeBusinessHoursInquiry, []string{"horario de funcionamento", "que horas abre", "que horas fecha", "aberto", "funciona"}},
	{domain.OutcomeLocationInquiry, []string{"endereco", "onde fica", "localizacao", "como chegar"}},
}

// InferOutcome guesses an outcome from the text of a session's first user
// message by substring matching. It is a best-effort heuristic and may be wrong;
// callers must keep inferred outcomes distinguishable from recorded ones.
func InferOutcome(text string) (domain.Outcome, bool) {
	folded := foldText(text)
	if folded == "" {
		return "", false
	}
	for _, rule := range keywordRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(folded, keyword) {
				return rule.outcome, true
			}
		}
	}
	return "", false
}

// foldText lowercases and strips accents so "Endereço" matches "endereco".
func foldText(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, text)
	if err != nil {
		folded = text
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
