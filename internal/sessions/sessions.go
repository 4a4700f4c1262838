package sessions

import (
	"sort"
	"time"

	"booking-metrics-audit/internal/domain"
)

// OutcomeSource tells where a session's resolved outcome came from.
type OutcomeSource string

const (
	SourceExplicit OutcomeSource = "explicit"
	SourceInferred OutcomeSource = "inferred"
	SourceUnknown  OutcomeSource = "unknown"
)

// Session is one end-to-end chat interaction rebuilt from conversation_history rows.
type Session struct {
	ID                string
	TenantID          string
	UserID            string
	Start             time.Time
	End               time.Time
	Messages          int
	UserMessages      int
	TokensUsed        int
	APICostUSD        float64
	ProcessingCostUSD float64
	Outcome           domain.Outcome
	Outcomes          []domain.Outcome
	FirstUserText     string
	MessageIDs        []string

	recordedDuration float64
	hasDuration      bool
	confidenceSum    float64
	confidenceCount  int
}

// Conflicting is true when the session's messages carry more than one outcome.
func (s Session) Conflicting() bool {
	return len(s.Outcomes) > 1
}

// Missing is true when no message of the session carries an outcome.
func (s Session) Missing() bool {
	return s.Outcome == ""
}

// DurationMinutes prefers the longest duration recorded in conversation_context
// and falls back to the time between the first and last message.
func (s Session) DurationMinutes() float64 {
	if s.hasDuration {
		return s.recordedDuration
	}
	if s.End.After(s.Start) {
		return s.End.Sub(s.Start).Minutes()
	}
	return 0
}

// AverageConfidence is the mean confidence_score of the messages that have one.
func (s Session) AverageConfidence() (float64, bool) {
	if s.confidenceCount == 0 {
		return 0, false
	}
	return s.confidenceSum / float64(s.confidenceCount), true
}

// Resolve returns the explicit outcome when one exists, otherwise the keyword
// inference over the first user message. Inferred outcomes are best effort.
func (s Session) Resolve() (domain.Outcome, OutcomeSource) {
	if s.Outcome != "" {
		return s.Outcome, SourceExplicit
	}
	if outcome, ok := InferOutcome(s.FirstUserText); ok {
		return outcome, SourceInferred
	}
	return "", SourceUnknown
}

// Reconstruct groups messages into sessions by conversation_context.session_id.
// Messages without a session id become single-message sessions keyed by their
// own id. The outcome is last-write-wins in created_at order. Sessions are
// returned ordered by start time.
func Reconstruct(messages []domain.ConversationMessage) []Session {
	ordered := append([]domain.ConversationMessage{}, messages...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	byID := map[string]*Session{}
	keys := make([]string, 0)

	for _, msg := range ordered {
		key := Key(msg)
		session, exists := byID[key]
		if !exists {
			session = &Session{
				ID:       key,
				TenantID: msg.TenantID,
				UserID:   msg.UserID,
				Start:    msg.CreatedAt,
				End:      msg.CreatedAt,
			}
			byID[key] = session
			keys = append(keys, key)
		}

		session.Messages++
		session.MessageIDs = append(session.MessageIDs, msg.ID)
		if msg.CreatedAt.Before(session.Start) {
			session.Start = msg.CreatedAt
		}
		if msg.CreatedAt.After(session.End) {
			session.End = msg.CreatedAt
		}
		if session.UserID == "" {
			session.UserID = msg.UserID
		}
		if msg.IsFromUser {
			session.UserMessages++
			if session.FirstUserText == "" {
				session.FirstUserText = msg.Content
			}
		}

		session.TokensUsed += msg.TokensUsed
		session.APICostUSD += msg.APICostUSD
		session.ProcessingCostUSD += msg.ProcessingCostUSD
		if msg.ConfidenceScore != nil {
			session.confidenceSum += *msg.ConfidenceScore
			session.confidenceCount++
		}
		if d, ok := msg.DurationMinutes(); ok && d >= 0 {
			if !session.hasDuration || d > session.recordedDuration {
				session.recordedDuration = d
			}
			session.hasDuration = true
		}

		if msg.Outcome != "" {
			session.Outcome = msg.Outcome
			if !containsOutcome(session.Outcomes, msg.Outcome) {
				session.Outcomes = append(session.Outcomes, msg.Outcome)
			}
		}
	}

	out := make([]Session, 0, len(keys))
	for _, key := range keys {
		out = append(out, *byID[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Key is the id of the session msg belongs to.
func Key(msg domain.ConversationMessage) string {
	if id := msg.SessionID(); id != "" {
		return id
	}
	return "msg:" + msg.ID
}

func containsOutcome(list []domain.Outcome, outcome domain.Outcome) bool {
	for _, o := range list {
		if o == outcome {
			return true
		}
	}
	return false
}
